// Package config loads the hearth configuration: defaults, then the TOML
// file, then environment overrides (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultOpenAIProviderName is the provider name assumed when an
// OpenAI-compatible model reference does not name one.
const DefaultOpenAIProviderName = "openai"

// Config is the full hearth configuration. Field names mirror the TOML keys.
type Config struct {
	HABaseURL       string           `toml:"haBaseUrl"`
	HAToken         string           `toml:"haToken"`
	Timezone        string           `toml:"timezone"`
	AutomationModel string           `toml:"automationModel"`
	VisionModel     string           `toml:"visionModel"`
	AnthropicAPIKey string           `toml:"anthropicApiKey"`
	OllamaHost      string           `toml:"ollamaHost"`
	OpenAIProviders []OpenAIProvider `toml:"openAIProviders"`

	AutomationsDir string `toml:"automationsDir"`
	DBPath         string `toml:"dbPath"`
	MemoryPath     string `toml:"memoryPath"`
	RPCAddr        string `toml:"rpcAddr"`
	MetricsAddr    string `toml:"metricsAddr"`
	OTLPEndpoint   string `toml:"otlpEndpoint"`
	LogLevel       string `toml:"logLevel"`

	// ModelTokenBudgets overrides the built-in context budget table,
	// keyed by model name.
	ModelTokenBudgets map[string]int `toml:"modelTokenBudgets"`
}

// OpenAIProvider describes one OpenAI-compatible endpoint.
type OpenAIProvider struct {
	ProviderName string `toml:"providerName"`
	BaseURL      string `toml:"baseURL"`
	APIKey       string `toml:"apiKey"`
}

// ModelRef is a parsed "driver/model" reference.
type ModelRef struct {
	Driver string
	Model  string
}

func (r ModelRef) String() string { return r.Driver + "/" + r.Model }

// ParseModelRef splits a "driver/model" string. The model part may itself
// contain slashes (ollama tags do).
func ParseModelRef(s string) (ModelRef, error) {
	driver, model, ok := strings.Cut(s, "/")
	if !ok || driver == "" || model == "" {
		return ModelRef{}, fmt.Errorf("model reference %q is not in driver/model form", s)
	}
	switch driver {
	case "anthropic", "openai", "ollama":
	default:
		return ModelRef{}, fmt.Errorf("model reference %q names unknown driver %q", s, driver)
	}
	return ModelRef{Driver: driver, Model: model}, nil
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		HABaseURL:       "http://homeassistant.local:8123",
		Timezone:        "UTC",
		AutomationModel: "anthropic/claude-3-7-sonnet-latest",
		VisionModel:     "anthropic/claude-3-7-sonnet-latest",
		OllamaHost:      "http://127.0.0.1:11434",
		AutomationsDir:  filepath.Join(home, "hearth"),
		DBPath:          filepath.Join(home, ".local", "share", "hearth", "hearth.db"),
		RPCAddr:         "127.0.0.1:8127",
		MetricsAddr:     "127.0.0.1:9090",
		LogLevel:        "info",
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if v := os.Getenv("HEARTH_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hearth.toml"
	}
	return filepath.Join(home, ".config", "hearth", "config.toml")
}

// Load reads config: defaults -> TOML file -> env vars. A missing file is
// tolerated (defaults plus env may be complete); an unparseable file is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	expandPaths(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HEARTH_HA_BASE_URL"); v != "" {
		cfg.HABaseURL = v
	}
	if v := os.Getenv("HEARTH_HA_TOKEN"); v != "" {
		cfg.HAToken = v
	}
	if v := os.Getenv("HEARTH_ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("HEARTH_OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if v := os.Getenv("HEARTH_AUTOMATIONS_DIR"); v != "" {
		cfg.AutomationsDir = v
	}
	if v := os.Getenv("HEARTH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HEARTH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func expandPaths(cfg *Config) {
	cfg.AutomationsDir = expandHome(cfg.AutomationsDir)
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.MemoryPath = expandHome(cfg.MemoryPath)
	if cfg.MemoryPath == "" {
		cfg.MemoryPath = filepath.Join(filepath.Dir(cfg.DBPath), "memory.md")
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// Validate checks that the mandatory fields are present and well formed.
func (c Config) Validate() error {
	if c.HABaseURL == "" {
		return fmt.Errorf("haBaseUrl is required")
	}
	if c.HAToken == "" {
		return fmt.Errorf("haToken is required (or HEARTH_HA_TOKEN)")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := ParseModelRef(c.AutomationModel); err != nil {
		return fmt.Errorf("automationModel: %w", err)
	}
	if c.VisionModel != "" {
		if _, err := ParseModelRef(c.VisionModel); err != nil {
			return fmt.Errorf("visionModel: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, p := range c.OpenAIProviders {
		name := p.ProviderName
		if name == "" {
			name = DefaultOpenAIProviderName
		}
		if seen[name] {
			return fmt.Errorf("openAIProviders: duplicate provider %q", name)
		}
		seen[name] = true
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel %q: must be debug, info, warn or error", c.LogLevel)
	}
	return nil
}

// Location resolves the configured IANA timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// AutomationModelRef returns the parsed automationModel reference.
func (c Config) AutomationModelRef() ModelRef {
	ref, _ := ParseModelRef(c.AutomationModel)
	return ref
}

// OpenAIProviderByName finds a configured OpenAI-compatible provider record.
func (c Config) OpenAIProviderByName(name string) (OpenAIProvider, bool) {
	if name == "" {
		name = DefaultOpenAIProviderName
	}
	for _, p := range c.OpenAIProviders {
		pn := p.ProviderName
		if pn == "" {
			pn = DefaultOpenAIProviderName
		}
		if pn == name {
			return p, true
		}
	}
	return OpenAIProvider{}, false
}
