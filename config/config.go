// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/joho/godotenv"
)

// Supported providers and snapshot sinks.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"

	SinkFile   = "file"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Config holds all application configuration.
type Config struct {
	Provider     string
	OpenAI       ProviderConfig
	Ollama       ProviderConfig
	Anthropic    ProviderConfig
	MaxToolLoops int
	DefaultAgent string
	DataDir      string
	SnapshotSink string
	HTTPAddr     string
	AgentsFile   string
	Log          LogConfig
	Zigbee       ZigbeeConfig
	Personas     map[string]Persona
}

// ProviderConfig holds credentials and endpoint of one model provider.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// LogConfig controls the application logger.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// ZigbeeConfig locates the device bridge.
type ZigbeeConfig struct {
	BaseURL      string
	APIKey       string
	ThermostatID string
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win. A missing default .env is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && len(paths) == 0 && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads configuration from environment variables and the optional
// personas file.
func Load() (*Config, error) {
	cfg := &Config{
		Provider: strings.ToLower(getEnv("PROVIDER", ProviderOpenAI)),
		OpenAI: ProviderConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Ollama: ProviderConfig{
			Model:   getEnv("OLLAMA_MODEL", "llama3.1:8b"),
			BaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		Anthropic: ProviderConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		},
		MaxToolLoops: getEnvInt("MAX_TOOL_LOOPS", core.DefaultMaxIterations),
		DefaultAgent: getEnv("DEFAULT_AGENT", "home"),
		DataDir:      getEnv("SMART_HOME_DATA_DIR", "./data"),
		SnapshotSink: strings.ToLower(getEnv("SNAPSHOT_SINK", SinkFile)),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		AgentsFile:   getEnv("AGENTS_FILE", ""),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			File:   getEnv("LOG_FILE", ""),
		},
		Zigbee: ZigbeeConfig{
			BaseURL:      getEnv("ZIGBEE_API_BASE_URL", "http://localhost:8000"),
			APIKey:       getEnv("ZIGBEE_API_KEY", ""),
			ThermostatID: getEnv("PRIMARY_THERMOSTAT_ID", ""),
		},
		Personas: DefaultPersonas(),
	}

	if cfg.AgentsFile != "" {
		custom, err := LoadPersonas(cfg.AgentsFile)
		if err != nil {
			return nil, err
		}
		for name, p := range custom {
			cfg.Personas[name] = p
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %s", c.Provider)
		}
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %s", c.Provider)
		}
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL cannot be empty")
		}
	default:
		return fmt.Errorf("PROVIDER must be one of openai, ollama, anthropic, got %q", c.Provider)
	}

	if c.MaxToolLoops <= 0 {
		return fmt.Errorf("MAX_TOOL_LOOPS must be > 0")
	}
	switch c.SnapshotSink {
	case SinkFile, SinkSQLite, SinkNone:
	default:
		return fmt.Errorf("SNAPSHOT_SINK must be one of file, sqlite, none, got %q", c.SnapshotSink)
	}
	if c.SnapshotSink != SinkNone && c.DataDir == "" {
		return fmt.Errorf("SMART_HOME_DATA_DIR cannot be empty")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	if _, ok := c.Personas[c.DefaultAgent]; !ok {
		return fmt.Errorf("DEFAULT_AGENT %q is not a configured persona", c.DefaultAgent)
	}
	for name, p := range c.Personas {
		if err := c.validatePersona(name, p); err != nil {
			return err
		}
	}
	return nil
}

// ActiveProvider returns the settings of the selected provider.
func (c *Config) ActiveProvider() ProviderConfig {
	switch c.Provider {
	case ProviderOllama:
		return c.Ollama
	case ProviderAnthropic:
		return c.Anthropic
	default:
		return c.OpenAI
	}
}

// Logging converts the log settings for logging.New.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = lvl
	}
	lc.Format = strings.ToLower(c.Log.Format)
	lc.File = c.Log.File
	return lc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
