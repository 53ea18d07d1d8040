package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Dan9191/bank-feed/internal/models"
)

//go:embed defaults.yaml
var defaultRuleSet []byte

type ruleSetFile struct {
	Rules []models.MatchingRule `yaml:"rules"`
}

// LoadRuleSet parses and validates a YAML rule set
func LoadRuleSet(data []byte) ([]models.MatchingRule, error) {
	var file ruleSetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	for i := range file.Rules {
		if err := Validate(&file.Rules[i]); err != nil {
			return nil, fmt.Errorf("rule %q: %w", file.Rules[i].Name, err)
		}
	}
	return file.Rules, nil
}

// LoadRuleSetFile reads a rule set from path
func LoadRuleSetFile(path string) ([]models.MatchingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	return LoadRuleSet(data)
}

// DefaultRuleSet returns the built-in starter rules
func DefaultRuleSet() []models.MatchingRule {
	rules, err := LoadRuleSet(defaultRuleSet)
	if err != nil {
		panic(err)
	}
	return rules
}
