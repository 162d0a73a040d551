// Package config loads the JSON deployment config and the YAML tuning
// profile.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for Sahayak.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Embedding EmbeddingConfig           `json:"embedding"`
	Memory    MemoryConfig              `json:"memory"`
	Tools     ToolsConfig               `json:"tools"`
}

type GeneralConfig struct {
	DataDir         string `json:"dataDir"`
	LogLevel        string `json:"logLevel"`
	LogFile         string `json:"logFile,omitempty"`
	DefaultProvider string `json:"defaultProvider"`
	// DefaultMode is the conversation mode used when the caller does
	// not pick one (weather, market, schemes, general).
	DefaultMode string `json:"defaultMode"`
	// TuningPath points at the YAML tuning profile; empty means
	// built-in defaults.
	TuningPath string `json:"tuningPath,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// EmbeddingConfig selects the embedding provider. Dims must match the
// model; chunks embedded with a different dimension cannot be searched
// together.
type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "openai" | "ollama"
	APIBase   string `json:"apiBase,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model"`
	Dims      int    `json:"dims"`
	CacheSize int    `json:"cacheSize,omitempty"`
}

type MemoryConfig struct {
	DBPath    string `json:"dbPath"`
	VectorDir string `json:"vectorDir"`
}

type ToolsConfig struct {
	MarketAPIKey      string `json:"marketApiKey,omitempty"`
	SchemeCatalogPath string `json:"schemeCatalogPath,omitempty"`
	TimeoutSeconds    int    `json:"timeoutSeconds"`
	MaxConcurrent     int    `json:"maxConcurrent"`
}

// DefaultConfigDir returns the default config directory (~/.sahayak).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sahayak"
	}
	return filepath.Join(home, ".sahayak")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.TuningPath = ExpandPath(cfg.General.TuningPath)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Memory.VectorDir = ExpandPath(cfg.Memory.VectorDir)
	cfg.Tools.SchemeCatalogPath = ExpandPath(cfg.Tools.SchemeCatalogPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.DefaultProvider == "" {
		errs = append(errs, "general.defaultProvider is required")
	}
	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; cfg.General.DefaultProvider != "" && !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	switch cfg.Embedding.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, "embedding.provider must be one of: openai, ollama")
	}
	if cfg.Embedding.Dims <= 0 {
		errs = append(errs, "embedding.dims must be > 0")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required")
	}
	if cfg.Tools.TimeoutSeconds < 1 {
		errs = append(errs, "tools.timeoutSeconds must be >= 1")
	}
	if cfg.Tools.MaxConcurrent < 1 {
		errs = append(errs, "tools.maxConcurrent must be >= 1")
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
