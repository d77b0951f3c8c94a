package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesDocumentedConstants(t *testing.T) {
	d := Default()
	if d.Pipeline.MaxTrial != 3 || d.Pipeline.FLBranchNum != 3 || d.Pipeline.SRBranchNum != 3 {
		t.Fatalf("unexpected pipeline defaults: %+v", d.Pipeline)
	}
	if d.Pipeline.MaxRecursion != 3 || d.Pipeline.JSONRetryBudget != 10 {
		t.Fatalf("unexpected pipeline defaults: %+v", d.Pipeline)
	}
	if d.Validator.MaxMutationDuration.Seconds() != 30 {
		t.Fatalf("expected 30s default mutation budget, got %s", d.Validator.MaxMutationDuration)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxRecursion != Default().Pipeline.MaxRecursion {
		t.Fatalf("expected defaults when file is absent")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxTrial != Default().Pipeline.MaxTrial {
		t.Fatalf("expected defaults for empty path")
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livepatch.yaml")
	yaml := "pipeline:\n  max_trial: 7\nignore_list:\n  - message_substring: benign\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxTrial != 7 {
		t.Fatalf("expected overridden max_trial=7, got %d", cfg.Pipeline.MaxTrial)
	}
	if cfg.Pipeline.FLBranchNum != Default().Pipeline.FLBranchNum {
		t.Fatalf("expected untouched fields to keep their default value after merge, got %d", cfg.Pipeline.FLBranchNum)
	}
	if !cfg.IsIgnored("anything", "a benign glitch") {
		t.Fatalf("expected the configured ignore rule to match")
	}
}

func TestIgnoreRuleWildcardFields(t *testing.T) {
	r := IgnoreRule{MessageSubstring: "flaky"}
	if !r.Matches("SomeError", "flaky network blip") {
		t.Fatalf("expected message-only rule to match regardless of type")
	}
	if r.Matches("SomeError", "unrelated") {
		t.Fatalf("expected rule not to match unrelated message")
	}
}
