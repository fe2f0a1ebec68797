package strategy

import (
	"errors"
	"fmt"

	"solana-backtest-lab/internal/domain"
)

// Registry errors
var (
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrUnknownFamily     = errors.New("unknown family")
	ErrDuplicateStrategy = errors.New("strategy id registered twice")
	ErrEmptySelection    = errors.New("no strategies selected")
)

// Registry maps every strategy id to exactly one family. It is built once at
// startup and read-only afterwards.
type Registry struct {
	byID     map[string]domain.StrategyDefinition
	byFamily map[domain.Family][]string
	order    []string
}

// NewRegistry validates defs and indexes them. A duplicate id or a definition
// whose config disagrees with its variant family is an error; nothing falls
// back to a default family.
func NewRegistry(defs []domain.StrategyDefinition) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]domain.StrategyDefinition, len(defs)),
		byFamily: make(map[domain.Family][]string),
	}
	for _, def := range defs {
		cfg := def.Config()
		if _, exists := r.byID[cfg.StrategyID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStrategy, cfg.StrategyID)
		}
		if !def.Family().IsValid() || cfg.Family != def.Family() {
			return nil, fmt.Errorf("%w: %s declares %q but is a %s strategy",
				ErrUnknownFamily, cfg.StrategyID, cfg.Family, def.Family())
		}
		r.byID[cfg.StrategyID] = def
		r.byFamily[def.Family()] = append(r.byFamily[def.Family()], cfg.StrategyID)
		r.order = append(r.order, cfg.StrategyID)
	}
	return r, nil
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (domain.StrategyDefinition, error) {
	def, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return def, nil
}

// FamilyOf returns the family of a registered strategy.
func (r *Registry) FamilyOf(id string) (domain.Family, error) {
	def, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return def.Family(), nil
}

// IDs returns every strategy id in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// ByFamily returns the definitions of one family in registration order.
func (r *Registry) ByFamily(f domain.Family) ([]domain.StrategyDefinition, error) {
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}
	ids := r.byFamily[f]
	out := make([]domain.StrategyDefinition, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out, nil
}

// Selection names the strategies of one invocation. Exactly one form is used,
// checked in field order.
type Selection struct {
	StrategyID  string
	StrategyIDs []string
	Family      domain.Family
}

// Resolve returns the selected definitions in the caller's declared order.
// Unknown ids or families are rejected before any work starts.
func (r *Registry) Resolve(sel Selection) ([]domain.StrategyDefinition, error) {
	var out []domain.StrategyDefinition
	switch {
	case sel.StrategyID != "":
		def, err := r.Get(sel.StrategyID)
		if err != nil {
			return nil, err
		}
		out = append(out, def)

	case len(sel.StrategyIDs) > 0:
		seen := make(map[string]bool, len(sel.StrategyIDs))
		for _, id := range sel.StrategyIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			def, err := r.Get(id)
			if err != nil {
				return nil, err
			}
			out = append(out, def)
		}

	case sel.Family != "":
		defs, err := r.ByFamily(sel.Family)
		if err != nil {
			return nil, err
		}
		out = defs
	}

	if len(out) == 0 {
		return nil, ErrEmptySelection
	}
	return out, nil
}
