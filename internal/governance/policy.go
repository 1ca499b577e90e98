// File: internal/governance/policy.go
package governance

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule grants a role a set of actions within a set of domains.
type Rule struct {
	Role           string   `yaml:"role" json:"role"`
	AllowedDomains []string `yaml:"allowedDomains" json:"allowed_domains"`
	AllowedActions []string `yaml:"allowedActions" json:"allowed_actions"`
}

// PatternPolicy lists which behavioral patterns may be enabled without review.
type PatternPolicy struct {
	Allowed         []string `yaml:"allowed" json:"allowed"`
	RequireApproval []string `yaml:"requireApproval" json:"require_approval"`
}

// Policy is the governance document.
type Policy struct {
	AccessControl struct {
		Rules []Rule `yaml:"rules"`
	} `yaml:"accessControl"`
	ChangePolicy struct {
		AutoEnablePatterns PatternPolicy `yaml:"autoEnablePatterns"`
	} `yaml:"changePolicy"`
}

// ParsePolicy decodes a YAML governance document. Empty input yields an
// empty policy, which denies every action and classifies every pattern unknown.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse governance policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads and parses a policy file. A missing file is reported as an
// error wrapping fs.ErrNotExist.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Policy{}, fmt.Errorf("governance policy %s not found: %w", path, err)
		}
		return Policy{}, fmt.Errorf("failed to read governance policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}
