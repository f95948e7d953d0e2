package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/linasec/lina/internal/consts"
	"github.com/linasec/lina/internal/risk"
)

// ProviderConfig selects and configures the generative-model backend
type ProviderConfig struct {
	Name   string `json:"name"` // "google", "openai" or "anthropic"
	Model  string `json:"model,omitempty"`
	APIKey string `json:"api_key,omitempty"` // env vars take precedence
}

// RiskConfig controls the risk classifier
type RiskConfig struct {
	DatabasePath string `json:"database_path,omitempty"` // JSON pattern rules, merged over builtins
	// UnresolvedTier is the tier assigned when the model fallback times out
	// or errors. Fail-closed: must be HIGH or stricter.
	UnresolvedTier string `json:"unresolved_tier,omitempty"`
}

// ExecutorConfig controls supervised process execution
type ExecutorConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds,omitempty"`
	KillGraceSeconds      int `json:"kill_grace_seconds,omitempty"`
	SessionConcurrency    int `json:"session_concurrency,omitempty"`
}

// Config represents application configuration
type Config struct {
	ListenAddr           string         `json:"listen_addr,omitempty"`
	ToolRegistryPath     string         `json:"tool_registry_path,omitempty"`
	RegistriesDir        string         `json:"registries_dir,omitempty"` // per-tool parameter registries
	HistoryDBPath        string         `json:"history_db_path,omitempty"`
	PidFilePath          string         `json:"pid_file_path,omitempty"`
	Provider             ProviderConfig `json:"provider"`
	Risk                 RiskConfig     `json:"risk"`
	Executor             ExecutorConfig `json:"executor"`
	InferTimeoutSeconds  int            `json:"infer_timeout_seconds,omitempty"`
	ProbeTTLSeconds      int            `json:"probe_ttl_seconds,omitempty"`
	LogLevel             string         `json:"log_level,omitempty"` // debug, info, warn, error, none
	LogPath              string         `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "lina")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "lina")
	default:
		if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
			return filepath.Join(xdg, "lina")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "lina")
	}
}

// DefaultConfigPath returns the default location of the config file
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns a configuration populated with defaults
func Default() *Config {
	dir := defaultConfigDir()
	return &Config{
		ListenAddr:       "localhost:8741",
		ToolRegistryPath: filepath.Join(dir, "tool_registry.json"),
		RegistriesDir:    filepath.Join(dir, "registries"),
		HistoryDBPath:    filepath.Join(dir, "history.sqlite"),
		PidFilePath:      filepath.Join(dir, "lina.pid"),
		Provider: ProviderConfig{
			Name: "google",
		},
		Risk: RiskConfig{
			UnresolvedTier: "HIGH",
		},
		Executor: ExecutorConfig{
			DefaultTimeoutSeconds: int(consts.DefaultExecutionTimeout.Seconds()),
			KillGraceSeconds:      int(consts.DefaultKillGrace.Seconds()),
			SessionConcurrency:    consts.DefaultSessionConcurrency,
		},
		InferTimeoutSeconds: int(consts.DefaultInferTimeout.Seconds()),
		ProbeTTLSeconds:     int(consts.DefaultProbeTTL.Seconds()),
		LogLevel:            "info",
		LogPath:             filepath.Join(dir, "lina.log"),
	}
}

// Load reads configuration from path, falling back to defaults for any
// field the file does not set. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override API keys so secrets can stay
// out of the config file.
func (c *Config) applyEnv() {
	switch c.Provider.Name {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Provider.APIKey = key
		}
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.Provider.APIKey = key
		}
	default:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.Provider.APIKey = key
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider.Name {
	case "google", "openai", "anthropic", "":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if s := c.Risk.UnresolvedTier; s != "" {
		tier, ok := risk.ParseTier(s)
		if !ok {
			return fmt.Errorf("unknown risk.unresolved_tier %q", s)
		}
		if tier < risk.TierHigh {
			return fmt.Errorf("risk.unresolved_tier must be HIGH or stricter, got %s", tier)
		}
	}
	if c.Executor.SessionConcurrency < 1 {
		c.Executor.SessionConcurrency = consts.DefaultSessionConcurrency
	}
	return nil
}

// Save writes configuration to path, creating the directory if needed
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
