package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "viva.yaml"

// Config holds all runtime configuration for the session server.
// Precedence: defaults < YAML file < environment variables.
type Config struct {
	Server Server `yaml:"server"`
	Loop   Loop   `yaml:"loop"`
	Store  Store  `yaml:"store"`
	Agent  Agent  `yaml:"agent"`
}

// Server holds HTTP server configuration.
type Server struct {
	Addr string `yaml:"addr"`
}

// Loop points at the external agent-run service.
type Loop struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Store selects the persistence backend for session history and event logs.
type Store struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// Agent holds per-session run defaults.
type Agent struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	MaxTokens           int    `yaml:"max_tokens"`
	ThinkingEnabled     bool   `yaml:"thinking"`
	ThinkingBudget      int    `yaml:"thinking_budget"`
	ImageWindow         int    `yaml:"image_window"`
	ToolVersion         string `yaml:"tool_version"`
	TokenEfficientTools bool   `yaml:"token_efficient_tools"`
	HideImages          bool   `yaml:"hide_images"`
}

// Defaults returns a Config with sensible defaults for local use.
func Defaults() Config {
	provider := ProviderAnthropic
	model := DefaultModel[provider]
	conf := ModelConfigFor(model)
	return Config{
		Server: Server{Addr: ":55510"},
		Loop:   Loop{URL: "http://localhost:55511", Timeout: 10 * time.Minute},
		Store:  Store{Driver: "sqlite", DSN: "viva.db"},
		Agent: Agent{
			Provider:    string(provider),
			Model:       model,
			MaxTokens:   conf.DefaultOutputTokens,
			ImageWindow: 3,
			ToolVersion: conf.ToolVersion,
		},
	}
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path. The YAML file
// is optional; a missing file is not an error.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	// Pull a local .env into the process environment first, then overlay.
	_ = godotenv.Load()
	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg. Only non-empty values
// override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "VIVA_ADDR")
	setString(&cfg.Loop.URL, "VIVA_LOOP_URL")
	setDuration(&cfg.Loop.Timeout, "VIVA_LOOP_TIMEOUT")
	setString(&cfg.Store.Driver, "VIVA_STORE_DRIVER")
	setString(&cfg.Store.DSN, "VIVA_STORE_DSN")
	setString(&cfg.Agent.Provider, "API_PROVIDER")
	setString(&cfg.Agent.Model, "VIVA_MODEL")
	setInt(&cfg.Agent.MaxTokens, "VIVA_MAX_TOKENS")
	setBool(&cfg.Agent.ThinkingEnabled, "VIVA_THINKING")
	setInt(&cfg.Agent.ThinkingBudget, "VIVA_THINKING_BUDGET")
	setInt(&cfg.Agent.ImageWindow, "VIVA_IMAGE_WINDOW")
	setString(&cfg.Agent.ToolVersion, "VIVA_TOOL_VERSION")
	setBool(&cfg.Agent.TokenEfficientTools, "VIVA_TOKEN_EFFICIENT_TOOLS")
	setBool(&cfg.Agent.HideImages, "VIVA_HIDE_IMAGES")
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	provider := Provider(cfg.Agent.Provider)
	if _, ok := DefaultModel[provider]; !ok {
		return fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel[provider]
	}
	conf := ModelConfigFor(cfg.Agent.Model)
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = conf.DefaultOutputTokens
	}
	if cfg.Agent.MaxTokens > conf.MaxOutputTokens {
		return fmt.Errorf("max_tokens %d exceeds model limit %d", cfg.Agent.MaxTokens, conf.MaxOutputTokens)
	}
	if cfg.Agent.ToolVersion == "" {
		cfg.Agent.ToolVersion = conf.ToolVersion
	}
	if cfg.Agent.ThinkingEnabled {
		if !conf.HasThinking {
			return fmt.Errorf("model %q does not support thinking", cfg.Agent.Model)
		}
		if cfg.Agent.ThinkingBudget <= 0 {
			cfg.Agent.ThinkingBudget = conf.DefaultThinkingBudget()
		}
		if cfg.Agent.ThinkingBudget > cfg.Agent.MaxTokens {
			return fmt.Errorf("thinking_budget %d exceeds max_tokens %d", cfg.Agent.ThinkingBudget, cfg.Agent.MaxTokens)
		}
	} else {
		cfg.Agent.ThinkingBudget = 0
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
