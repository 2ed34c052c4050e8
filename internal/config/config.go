package config

// Config represents the full application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	GitHub        GitHubConfig        `yaml:"github"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Store         StoreConfig         `yaml:"store"`
	Review        ReviewConfig        `yaml:"review"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the inbound HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GitHubConfig configures the GitHub API client and webhook verification.
type GitHubConfig struct {
	WebhookSecret string `yaml:"webhookSecret"`
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"baseURL"`
	Timeout       string `yaml:"timeout"`
}

// OllamaConfig configures the LLM backend, including sampling parameters
// and the retry policy for transient failures.
type OllamaConfig struct {
	BaseURL     string  `yaml:"baseURL"`
	Model       string  `yaml:"model"`
	Timeout     string  `yaml:"timeout"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"topP"`
	TopK        int     `yaml:"topK"`
	MaxRetries  int     `yaml:"maxRetries"`
	RetryDelay  string  `yaml:"retryDelay"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReviewConfig holds service-wide review defaults, applied when a user
// has no settings row.
type ReviewConfig struct {
	DefaultMode string `yaml:"defaultMode"`
	MaxFiles    int    `yaml:"maxFiles"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level         string `yaml:"level"`  // debug, info, error
	Format        string `yaml:"format"` // json, human
	RedactSecrets bool   `yaml:"redactSecrets"`
}
