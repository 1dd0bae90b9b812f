package config

import "time"

// ToolsConfig configures the action executor: bounded execution, approval
// gating, result redaction, and the async tool list.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Redaction RedactionConfig     `yaml:"redaction"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolExecutionConfig controls per-action timeout and output bounds.
type ToolExecutionConfig struct {
	Parallelism int           `yaml:"parallelism"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxOutputKB int           `yaml:"max_output_kb"`

	// Async lists tool names that are queued via internal/jobqueue instead
	// of executed inline.
	Async []string `yaml:"async"`
}

// ApprovalConfig controls which actions require external approval before
// execution.
type ApprovalConfig struct {
	// Allowlist contains tool-name patterns that never require approval.
	// Supports "*" for all and simple "prefix_*" globs.
	Allowlist []string `yaml:"allowlist"`

	// RequireApproval lists tool-name patterns that always require
	// approval regardless of the allowlist.
	RequireApproval []string `yaml:"require_approval"`
}

// RedactionConfig controls ResultGuard behavior applied to captured
// action output before persistence.
type RedactionConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RedactPatterns []string `yaml:"redact_patterns"`
	RedactionText  string   `yaml:"redaction_text"`
}

// ToolJobsConfig controls async tool job retention in internal/jobqueue.
type ToolJobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.MaxOutputKB == 0 {
		cfg.Execution.MaxOutputKB = 32
	}
	if cfg.Redaction.RedactionText == "" {
		cfg.Redaction.RedactionText = "[redacted]"
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = 1 * time.Hour
	}
}
