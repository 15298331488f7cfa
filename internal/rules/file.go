package rules

import (
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk layout of a reason rule table.
type ruleFile struct {
	Rules []*domain.RuleConfig `yaml:"rules"`
}

// LoadFile reads a YAML reason rule table.
func LoadFile(path string) ([]*domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML reason rule table. Rules without a version get "1.0.0".
func Parse(data []byte) ([]*domain.RuleConfig, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule file defines no rules")
	}
	for _, r := range f.Rules {
		if r.Version == "" {
			r.Version = "1.0.0"
		}
	}
	return f.Rules, nil
}

// Marshal encodes a rule table in the LoadFile layout.
func Marshal(rules []*domain.RuleConfig) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: rules})
}
