package strategy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"solana-backtest-lab/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the YAML document listing strategy definitions.
type Catalog struct {
	Strategies []Entry `yaml:"strategies"`
}

// LoadCatalog decodes a catalog and builds its registry. Unknown YAML keys are
// rejected so a typo cannot silently drop an exit rule.
func LoadCatalog(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode strategy catalog: %w", err)
	}

	defs := make([]domain.StrategyDefinition, 0, len(c.Strategies))
	for i, e := range c.Strategies {
		def, err := FromConfig(e)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		defs = append(defs, def)
	}
	return NewRegistry(defs)
}

// LoadCatalogFile loads a catalog from path, or the built-in catalog when path is empty.
func LoadCatalogFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open strategy catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// DefaultRegistry returns the registry of the built-in catalog.
func DefaultRegistry() (*Registry, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}
