package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

const (
	DefaultPath     = "config.json"
	DefaultAddress  = ":8090"
	DefaultProvider = "gemini"
	DefaultModel    = "gemini-2.5-flash-lite"
)

var providerModels = map[string]string{
	"gemini": DefaultModel,
	"openai": "gpt-4o-mini",
	"claude": "claude-3-5-haiku-latest",
}

// DefaultModelFor returns the model used when a provider is chosen without
// one. Unknown providers get an empty name.
func DefaultModelFor(provider string) string {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = DefaultProvider
	}
	return providerModels[name]
}

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Provider    ProviderConfig            `json:"provider"`
	Persona     PersonaConfig             `json:"persona"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

// ProviderConfig selects the text-generation backend. APIKey may be empty:
// a missing credential fails each request, not startup.
type ProviderConfig struct {
	Name               string `json:"name"`
	BaseURL            string `json:"base_url"`
	Model              string `json:"model"`
	APIKey             string `json:"api_key"`
	MaxHistoryMessages int    `json:"max_history_messages"`
}

type BasicConfig struct {
	ServerAddress         string   `json:"server_address"`
	LogLevel              string   `json:"log_level"`
	LogPretty             bool     `json:"log_pretty"`
	AllowedOrigins        []string `json:"allowed_origins"`
	SessionIdleTTL        int      `json:"session_idle_ttl_minutes"`
	MaxSessions           int      `json:"max_sessions"`
	SweepSchedule         string   `json:"sweep_schedule"`
	RequestTimeout        int      `json:"request_timeout_seconds"`
	ExchangeRetentionDays int      `json:"exchange_retention_days"`
	RetentionSchedule     string   `json:"retention_schedule"`
	AdminToken            string   `json:"admin_token"`
}

func (b BasicConfig) IdleTTL() time.Duration {
	return time.Duration(b.SessionIdleTTL) * time.Minute
}

// RequestTimeoutDuration is zero when no per-request bound is configured.
func (b BasicConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(b.RequestTimeout) * time.Second
}

func (b BasicConfig) ExchangeRetention() time.Duration {
	return time.Duration(b.ExchangeRetentionDays) * 24 * time.Hour
}

// PersonaConfig overrides parts of the built-in persona. Empty fields keep the defaults.
type PersonaConfig struct {
	Name             string   `json:"name"`
	Instructions     string   `json:"instructions"`
	InstructionsPath string   `json:"instructions_path"`
	Greeting         string   `json:"greeting"`
	Fallback         string   `json:"fallback"`
	Suggestions      []string `json:"suggestions"`
	DisableGreeting  bool     `json:"disable_greeting"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	RateLimitQPS int    `json:"rate_limit_qps"`
}

// Enabled reports whether a redis host was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// envOverrides are applied on top of the JSON file.
type envOverrides struct {
	APIKey        string `env:"GEMINI_API_KEY"`
	Provider      string `env:"FOLIO_PROVIDER"`
	Model         string `env:"FOLIO_MODEL"`
	ServerAddress string `env:"FOLIO_SERVER_ADDRESS"`
	LogLevel      string `env:"FOLIO_LOG_LEVEL"`
	RedisHost     string `env:"FOLIO_REDIS_HOST"`
	AdminToken    string `env:"FOLIO_ADMIN_TOKEN"`
}

// Load reads configuration from the provided path (defaults to config.json).
// When no path is given and the default file does not exist, built-in
// defaults are used.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		BasicConfig: BasicConfig{
			ServerAddress:         DefaultAddress,
			LogLevel:              "info",
			SessionIdleTTL:        30,
			MaxSessions:           1000,
			SweepSchedule:         "@every 1m",
			ExchangeRetentionDays: 30,
			RetentionSchedule:     "@daily",
		},
		Provider: ProviderConfig{
			Name: DefaultProvider,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "data/exchanges.db"},
		},
	}
	return cfg
}

func (c *Config) applyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	if ov.APIKey != "" {
		c.Provider.APIKey = ov.APIKey
	}
	if ov.Provider != "" {
		c.Provider.Name = ov.Provider
	}
	if ov.Model != "" {
		c.Provider.Model = ov.Model
	}
	if ov.ServerAddress != "" {
		c.BasicConfig.ServerAddress = ov.ServerAddress
	}
	if ov.LogLevel != "" {
		c.BasicConfig.LogLevel = ov.LogLevel
	}
	if ov.RedisHost != "" {
		c.Redis.Host = ov.RedisHost
	}
	if ov.AdminToken != "" {
		c.BasicConfig.AdminToken = ov.AdminToken
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultAddress
	}
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	if c.Provider.Name == "" {
		c.Provider.Name = DefaultProvider
	}
	if c.Provider.Model == "" {
		c.Provider.Model = DefaultModelFor(c.Provider.Name)
	}
	if c.BasicConfig.SweepSchedule == "" {
		c.BasicConfig.SweepSchedule = "@every 1m"
	}
	if c.BasicConfig.RetentionSchedule == "" {
		c.BasicConfig.RetentionSchedule = "@daily"
	}
	if c.Redis.Enabled() && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
}

// resolvePaths anchors relative sqlite files and persona files to the config directory.
func (c *Config) resolvePaths(base string) {
	for name, db := range c.Databases {
		if !isSQLite(name) || db.DSN == "" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(base, db.DSN)
			c.Databases[name] = db
		}
	}
	if p := c.Persona.InstructionsPath; p != "" && !filepath.IsAbs(p) {
		c.Persona.InstructionsPath = filepath.Join(base, p)
	}
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.BasicConfig.SessionIdleTTL < 0 {
		return errors.New("session_idle_ttl_minutes cannot be negative")
	}
	if c.BasicConfig.MaxSessions < 0 {
		return errors.New("max_sessions cannot be negative")
	}
	if c.BasicConfig.RequestTimeout < 0 {
		return errors.New("request_timeout_seconds cannot be negative")
	}
	if c.Provider.MaxHistoryMessages < 0 {
		return errors.New("max_history_messages cannot be negative")
	}
	if c.Redis.RateLimitQPS < 0 {
		return errors.New("rate_limit_qps cannot be negative")
	}
	return nil
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
