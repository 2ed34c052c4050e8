package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment
// variables. Environment variables win over file values; `${VAR}` in
// secret fields is expanded so tokens can live outside the config file.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "openreview"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "OPENREVIEW"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.GitHub.WebhookSecret = expandEnvString(cfg.GitHub.WebhookSecret)
	cfg.GitHub.Token = expandEnvString(cfg.GitHub.Token)
	cfg.GitHub.BaseURL = expandEnvString(cfg.GitHub.BaseURL)
	cfg.Ollama.BaseURL = expandEnvString(cfg.Ollama.BaseURL)
	cfg.Ollama.Model = expandEnvString(cfg.Ollama.Model)
	cfg.Store.Path = expandEnvString(cfg.Store.Path)

	return cfg, nil
}

// Validate checks the settings the service cannot run without.
func Validate(cfg Config) error {
	if cfg.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhookSecret is required")
	}
	if cfg.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}
	return nil
}

// expandEnvString replaces ${VAR} or $VAR with environment variable values.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}

	re := regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	re = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name+".yaml")
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	// GitHub API defaults
	v.SetDefault("github.baseURL", "https://api.github.com")
	v.SetDefault("github.timeout", "30s")

	// Ollama defaults, biased toward deterministic review output
	v.SetDefault("ollama.baseURL", "http://localhost:11434")
	v.SetDefault("ollama.model", "deepseek-coder:6.7b")
	v.SetDefault("ollama.timeout", "120s")
	v.SetDefault("ollama.maxTokens", 2048)
	v.SetDefault("ollama.temperature", 0.2)
	v.SetDefault("ollama.topP", 0.9)
	v.SetDefault("ollama.topK", 40)
	v.SetDefault("ollama.maxRetries", 3)
	v.SetDefault("ollama.retryDelay", "1s")

	// Store defaults
	v.SetDefault("store.path", defaultStorePath())

	// Review defaults
	v.SetDefault("review.defaultMode", "BEGINNER")
	v.SetDefault("review.maxFiles", 50)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "human")
	v.SetDefault("observability.logging.redactSecrets", true)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./openreview.db"
	}
	return filepath.Join(home, ".config", "openreview", "openreview.db")
}
