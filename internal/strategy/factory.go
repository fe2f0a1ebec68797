package strategy

import (
	"errors"
	"fmt"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/signal"
	"solana-backtest-lab/internal/solana"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingStrategyID   = errors.New("strategy requires an id")
	ErrInvalidExitRules    = errors.New("invalid exit rules")
	ErrNoExitRule          = errors.New("strategy needs at least one exit rule")
	ErrInvalidCosts        = errors.New("slippage and fee must be non-negative")
	ErrEmptyUniverse       = errors.New("strategy universe is empty")
	ErrInvalidAsset        = errors.New("invalid asset address")
)

// Entry is one catalog record: the shared config plus every family's universe
// fields. Only the fields of the entry's family are read.
type Entry struct {
	domain.StrategyConfig `yaml:",inline"`

	// bluechip
	Assets []string `yaml:"assets"`

	// memecoin
	MinPoolAgeHours float64 `yaml:"min_pool_age_hours"`
	UniverseSize    int     `yaml:"universe_size"`

	// equity
	Symbols []string `yaml:"symbols"`
}

// FromConfig creates the family variant for an entry.
// Validates shared parameters first, then the family's universe.
func FromConfig(e Entry) (domain.StrategyDefinition, error) {
	if err := ValidateConfig(e.StrategyConfig); err != nil {
		return nil, err
	}

	switch e.Family {
	case domain.FamilyBluechip:
		return fromBluechipEntry(e)
	case domain.FamilyMemecoin:
		return fromMemecoinEntry(e)
	case domain.FamilyEquity:
		return fromEquityEntry(e)
	default:
		return nil, fmt.Errorf("%w: family %q for %s", ErrUnknownStrategyType, e.Family, e.StrategyID)
	}
}

// ValidateConfig checks the parameters shared by every family.
func ValidateConfig(cfg domain.StrategyConfig) error {
	if cfg.StrategyID == "" {
		return ErrMissingStrategyID
	}
	if err := ValidateExitRules(cfg.ExitRules); err != nil {
		return fmt.Errorf("%s: %w", cfg.StrategyID, err)
	}
	if cfg.SlippagePct < 0 || cfg.FeePct < 0 {
		return fmt.Errorf("%s: %w", cfg.StrategyID, ErrInvalidCosts)
	}
	if _, err := signal.New(cfg.EntrySignal); err != nil {
		return fmt.Errorf("%s: %w", cfg.StrategyID, err)
	}
	return nil
}

// ValidateExitRules rejects negative or impossible percentages and rule sets
// that could never close a position before the series ends.
func ValidateExitRules(r domain.ExitRules) error {
	switch {
	case r.StopLossPct < 0 || r.StopLossPct >= 100:
		return fmt.Errorf("%w: stop loss %.2f%% outside [0, 100)", ErrInvalidExitRules, r.StopLossPct)
	case r.TakeProfitPct < 0:
		return fmt.Errorf("%w: take profit %.2f%% is negative", ErrInvalidExitRules, r.TakeProfitPct)
	case r.TrailingStopPct < 0 || r.TrailingStopPct >= 100:
		return fmt.Errorf("%w: trailing stop %.2f%% outside [0, 100)", ErrInvalidExitRules, r.TrailingStopPct)
	case r.MaxHoldCandles < 0:
		return fmt.Errorf("%w: max hold %d is negative", ErrInvalidExitRules, r.MaxHoldCandles)
	}
	if r.StopLossPct == 0 && r.TakeProfitPct == 0 && r.TrailingStopPct == 0 && r.MaxHoldCandles == 0 {
		return ErrNoExitRule
	}
	return nil
}

// Evaluator builds the entry-signal evaluator of a strategy.
func Evaluator(def domain.StrategyDefinition) (signal.Evaluator, error) {
	return signal.New(def.Config().EntrySignal)
}

func fromBluechipEntry(e Entry) (domain.StrategyDefinition, error) {
	if len(e.Assets) == 0 {
		return nil, fmt.Errorf("%s: %w", e.StrategyID, ErrEmptyUniverse)
	}
	for _, a := range e.Assets {
		if _, err := solana.ParseAddress(a); err != nil {
			return nil, fmt.Errorf("%s: %w %q: %v", e.StrategyID, ErrInvalidAsset, a, err)
		}
	}
	cfg := e.StrategyConfig
	cfg.Family = domain.FamilyBluechip
	return domain.BluechipStrategy{
		StrategyConfig: cfg,
		Assets:         append([]string(nil), e.Assets...),
	}, nil
}

func fromMemecoinEntry(e Entry) (domain.StrategyDefinition, error) {
	if e.UniverseSize <= 0 {
		return nil, fmt.Errorf("%s: %w: universe_size must be positive", e.StrategyID, ErrEmptyUniverse)
	}
	if e.MinPoolAgeHours < 0 {
		return nil, fmt.Errorf("%s: min_pool_age_hours is negative", e.StrategyID)
	}
	cfg := e.StrategyConfig
	cfg.Family = domain.FamilyMemecoin
	return domain.MemecoinStrategy{
		StrategyConfig:  cfg,
		MinPoolAgeHours: e.MinPoolAgeHours,
		UniverseSize:    e.UniverseSize,
	}, nil
}

func fromEquityEntry(e Entry) (domain.StrategyDefinition, error) {
	if len(e.Symbols) == 0 {
		return nil, fmt.Errorf("%s: %w", e.StrategyID, ErrEmptyUniverse)
	}
	cfg := e.StrategyConfig
	cfg.Family = domain.FamilyEquity
	return domain.EquityStrategy{
		StrategyConfig: cfg,
		Symbols:        append([]string(nil), e.Symbols...),
	}, nil
}
