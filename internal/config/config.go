// Package config loads the YAML configuration surface described in the
// core engine's configuration surface: engine bounds, context trimming,
// checkpoint cadence, stream coalescing, bus backpressure, provider
// credentials, and the ambient server/observability knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration structure for a Penguin runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	Engine     EngineConfig     `yaml:"engine"`
	Context    ContextConfig    `yaml:"context"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Stream     StreamConfig     `yaml:"stream"`
	Bus        BusConfig        `yaml:"bus"`

	LLM   LLMConfig   `yaml:"llm"`
	Tools ToolsConfig `yaml:"tools"`
	Cron  CronConfig  `yaml:"cron"`
	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects the ConversationStore backend. An empty Path keeps
// the in-memory store (the default, and what "penguin run" uses for a
// one-shot invocation); a non-empty Path opens a SQLiteStore there,
// creating the database and schema if needed.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig holds the RunTask/RunTurn bounds and retry policy.
type EngineConfig struct {
	// MaxIterations is the default bound for RunTask.
	MaxIterations int `yaml:"max_iterations"`

	// CompletionPhrase is a textual marker that terminates RunTask when
	// present in assistant output.
	CompletionPhrase string `yaml:"completion_phrase"`

	// EmptyResponseRecovery enables the single empty-response recovery
	// iteration before the task fails with failed_empty_response.
	EmptyResponseRecovery bool `yaml:"empty_response_recovery"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig is the transient-failure policy applied around streaming calls.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// ContextConfig controls the message window handed to the model.
type ContextConfig struct {
	MaxTokens int `yaml:"max_tokens"`

	// TrimPolicy is one of "drop_middle" or "summarize_middle".
	TrimPolicy string `yaml:"trim_policy"`
}

// CheckpointConfig controls automatic checkpoint cadence and retention.
type CheckpointConfig struct {
	AutoEvery      int `yaml:"auto_every"`
	RetentionHours int `yaml:"retention_hours"`
	MinAutoKept    int `yaml:"min_auto_kept"`
}

// StreamConfig controls delta coalescing in the stream multiplexer.
type StreamConfig struct {
	CoalesceChars int `yaml:"coalesce_chars"`
	CoalesceMS    int `yaml:"coalesce_ms"`
}

// BusConfig controls message bus backpressure.
type BusConfig struct {
	QueueMax int `yaml:"queue_max"`

	// DropPolicy is one of "drop_oldest" or "fail".
	DropPolicy string `yaml:"drop_policy"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, resolves any $include directives, decodes into Config,
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
	applyEngineDefaults(&cfg.Engine)
	applyContextDefaults(&cfg.Context)
	applyCheckpointDefaults(&cfg.Checkpoint)
	applyStreamDefaults(&cfg.Stream)
	applyBusDefaults(&cfg.Bus)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = 500
	}
}

func applyContextDefaults(cfg *ContextConfig) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 128_000
	}
	if cfg.TrimPolicy == "" {
		cfg.TrimPolicy = "drop_middle"
	}
}

func applyCheckpointDefaults(cfg *CheckpointConfig) {
	if cfg.AutoEvery == 0 {
		cfg.AutoEvery = 10
	}
	if cfg.RetentionHours == 0 {
		cfg.RetentionHours = 72
	}
	if cfg.MinAutoKept == 0 {
		cfg.MinAutoKept = 3
	}
}

func applyStreamDefaults(cfg *StreamConfig) {
	if cfg.CoalesceChars == 0 {
		cfg.CoalesceChars = 40
	}
	if cfg.CoalesceMS == 0 {
		cfg.CoalesceMS = 50
	}
}

func applyBusDefaults(cfg *BusConfig) {
	if cfg.QueueMax == 0 {
		cfg.QueueMax = 256
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = "fail"
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "penguin"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("PENGUIN_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("PENGUIN_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("PENGUIN_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("PENGUIN_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}

	for provider, envVar := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	} {
		value := strings.TrimSpace(os.Getenv(envVar))
		if value == "" {
			continue
		}
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		entry := cfg.LLM.Providers[provider]
		if entry.APIKey == "" {
			entry.APIKey = value
			cfg.LLM.Providers[provider] = entry
		}
	}

	if value := strings.TrimSpace(os.Getenv("AWS_REGION")); value != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		entry := cfg.LLM.Providers["bedrock"]
		if entry.Region == "" {
			entry.Region = value
			cfg.LLM.Providers["bedrock"] = entry
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Engine.MaxIterations < 0 {
		issues = append(issues, "engine.max_iterations must be >= 0")
	}
	if cfg.Engine.Retry.MaxAttempts < 0 {
		issues = append(issues, "engine.retry.max_attempts must be >= 0")
	}
	if cfg.Engine.Retry.BaseDelayMS < 0 {
		issues = append(issues, "engine.retry.base_delay_ms must be >= 0")
	}

	if cfg.Context.MaxTokens < 0 {
		issues = append(issues, "context.max_tokens must be >= 0")
	}
	if !validTrimPolicy(cfg.Context.TrimPolicy) {
		issues = append(issues, "context.trim_policy must be \"drop_middle\" or \"summarize_middle\"")
	}

	if cfg.Checkpoint.AutoEvery < 0 {
		issues = append(issues, "checkpoint.auto_every must be >= 0")
	}
	if cfg.Checkpoint.RetentionHours < 0 {
		issues = append(issues, "checkpoint.retention_hours must be >= 0")
	}
	if cfg.Checkpoint.MinAutoKept < 0 {
		issues = append(issues, "checkpoint.min_auto_kept must be >= 0")
	}

	if cfg.Stream.CoalesceChars < 0 {
		issues = append(issues, "stream.coalesce_chars must be >= 0")
	}
	if cfg.Stream.CoalesceMS < 0 {
		issues = append(issues, "stream.coalesce_ms must be >= 0")
	}

	if cfg.Bus.QueueMax < 0 {
		issues = append(issues, "bus.queue_max must be >= 0")
	}
	if !validDropPolicy(cfg.Bus.DropPolicy) {
		issues = append(issues, "bus.drop_policy must be \"drop_oldest\" or \"fail\"")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}

	if cfg.Cron.Enabled {
		for i, job := range cfg.Cron.Jobs {
			if strings.TrimSpace(job.ID) == "" {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].id is required", i))
			}
			if strings.TrimSpace(job.Schedule.Cron) == "" && job.Schedule.Every == 0 {
				issues = append(issues, fmt.Sprintf("cron.jobs[%d].schedule is required", i))
			}
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validTrimPolicy(policy string) bool {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "drop_middle", "summarize_middle":
		return true
	default:
		return false
	}
}

func validDropPolicy(policy string) bool {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "drop_oldest", "fail":
		return true
	default:
		return false
	}
}

// CheckpointRetention converts CheckpointConfig.RetentionHours into a
// time.Duration for use with checkpoint.WithRetention.
func (c CheckpointConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// BaseDelay converts RetryConfig.BaseDelayMS into a time.Duration for use
// with engine.WithRetryPolicy.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}
