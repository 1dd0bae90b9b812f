package config

// LLMConfig selects the default model gateway and holds per-provider
// credentials, matching the three adapters in internal/gateway.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one gateway. Not every field applies to
// every provider: Region/AccessKeyID/SecretAccessKey/SessionToken are
// Bedrock-only, the rest are shared by Anthropic and OpenAI.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}
