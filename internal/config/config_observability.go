package config

// ObservabilityConfig configures the OTLP tracing exporter wired around
// Engine.RunTurn, ActionExecutor.Execute, and ConversationStore.Append.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls the OpenTelemetry OTLP gRPC exporter. Endpoint
// empty means tracing runs in no-op mode.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Insecure       bool    `yaml:"insecure"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}
