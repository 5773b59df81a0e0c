package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var embeddedSources []byte

// SourceChains maps markets to their ordered upstream source lists.
type SourceChains struct {
	Default []string            `yaml:"default"`
	Markets map[string][]string `yaml:"markets"`

	// Override, when non-empty, replaces every chain (INDEX_QUOTE_SOURCES).
	Override []string `yaml:"-"`
}

// LoadSourceChains reads the embedded chains, or a YAML override file when
// path is non-empty, and applies the environment override list.
func LoadSourceChains(path string, override []string) (*SourceChains, error) {
	raw := embeddedSources
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source chains: %w", err)
		}
		raw = file
	}
	var chains SourceChains
	if err := yaml.Unmarshal(raw, &chains); err != nil {
		return nil, fmt.Errorf("parse source chains: %w", err)
	}
	if len(chains.Default) == 0 {
		chains.Default = []string{"yahoo"}
	}
	chains.Override = override
	return &chains, nil
}

// For returns the ordered source list for a market.
func (c *SourceChains) For(market string) []string {
	if len(c.Override) > 0 {
		return c.Override
	}
	if chain, ok := c.Markets[strings.ToUpper(market)]; ok && len(chain) > 0 {
		return chain
	}
	return c.Default
}
