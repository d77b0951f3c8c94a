// Package config parses the run configuration file (config/livepatch.yaml):
// pipeline tuning constants, mutation budgets, and the exception ignore
// list.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the tree-of-thought tunables.
type Pipeline struct {
	MaxTrial            int `yaml:"max_trial"`
	FLBranchNum         int `yaml:"fl_branch_num"`
	FLSelectNum         int `yaml:"fl_select_num"`
	SRBranchNum         int `yaml:"sr_branch_num"`
	SRSelectNum         int `yaml:"sr_select_num"`
	GeneratePerStrategy int `yaml:"generate_per_strategy"`
	JSONRetryBudget     int `yaml:"json_retry_budget"`
	MaxRecursion        int `yaml:"max_recursion"`
}

// Validator holds the Val-2 fuzzing budget.
type Validator struct {
	MaxMutationDuration time.Duration `yaml:"max_mutation_duration"`
	MinMutationsPerArg  int           `yaml:"min_mutations_per_arg"`
	MaxMutationsPerArg  int           `yaml:"max_mutations_per_arg"`
}

// IgnoreRule matches a panic value against a configured exception-name or
// message substring, so ignore decisions don't require a code change.
type IgnoreRule struct {
	TypeName         string `yaml:"type_name"`
	MessageSubstring string `yaml:"message_substring"`
}

// Matches reports whether typeName/message satisfy this rule. An empty
// field in the rule is treated as a wildcard for that field.
func (r IgnoreRule) Matches(typeName, message string) bool {
	if strings.TrimSpace(r.TypeName) != "" && r.TypeName != typeName {
		return false
	}
	if strings.TrimSpace(r.MessageSubstring) != "" && !strings.Contains(message, r.MessageSubstring) {
		return false
	}
	return r.TypeName != "" || r.MessageSubstring != ""
}

// Config is the top-level run configuration.
type Config struct {
	Pipeline    Pipeline     `yaml:"pipeline"`
	Validator   Validator    `yaml:"validator"`
	IgnoreList  []IgnoreRule `yaml:"ignore_list"`
	SourceRoots []string     `yaml:"source_roots"`
	Blocklist   []string     `yaml:"blocklist"`
}

// Default returns the documented tuning defaults.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			MaxTrial:            3,
			FLBranchNum:         3,
			FLSelectNum:         1,
			SRBranchNum:         3,
			SRSelectNum:         1,
			GeneratePerStrategy: 3,
			JSONRetryBudget:     10,
			MaxRecursion:        3,
		},
		Validator: Validator{
			MaxMutationDuration: 30 * time.Second,
			MinMutationsPerArg:  1,
			MaxMutationsPerArg:  10,
		},
		Blocklist: []string{
			"**/*_test.go",
			"**/vendor/**",
			"**/testdata/**",
			"**/init_*.go",
		},
	}
}

// Load reads and merges a YAML config file over Default(). A missing file
// is not an error: the defaults stand alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Pipeline.MaxRecursion <= 0 {
		cfg.Pipeline.MaxRecursion = Default().Pipeline.MaxRecursion
	}
	return cfg, nil
}

// IsIgnored reports whether the panic (typeName, message) matches any
// configured ignore rule.
func (c Config) IsIgnored(typeName, message string) bool {
	for _, r := range c.IgnoreList {
		if r.Matches(typeName, message) {
			return true
		}
	}
	return false
}
