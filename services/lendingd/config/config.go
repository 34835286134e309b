package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen        = ":8545"
	defaultLedgerConfig  = "config.toml"
	defaultSecretEnv     = "LENDINGD_JWT_SECRET"
	defaultJournalDriver = "sqlite"
	defaultJournalDSN    = "lendingd-journal.db"
)

// Config captures the runtime settings for the lending service daemon. Ledger
// parameters (fees, tokens, storage) live in the TOML file at LedgerConfig.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Environment   string        `yaml:"environment"`
	LedgerConfig  string        `yaml:"ledger_config"`
	TLS           TLSConfig     `yaml:"tls"`
	Auth          AuthConfig    `yaml:"auth"`
	RateLimit     RateLimit     `yaml:"rate_limit"`
	Journal       JournalConfig `yaml:"journal"`
	Log           LogConfig     `yaml:"log"`
	Telemetry     Telemetry     `yaml:"telemetry"`
	Faucet        bool          `yaml:"faucet"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig controls bearer token verification. Tokens are HS256 JWTs whose
// subject is the caller's ledger address.
type AuthConfig struct {
	SecretEnv      string   `yaml:"secret_env"`
	Issuer         string   `yaml:"issuer"`
	Audience       []string `yaml:"audience"`
	MaxSkewSeconds int      `yaml:"max_skew_seconds"`
}

// RateLimit bounds requests per client address.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// JournalConfig selects the SQL store indexing committed ledger events.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Telemetry toggles OTLP exporters.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Traces   bool   `yaml:"traces"`
	Metrics  bool   `yaml:"metrics"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Secret resolves the JWT signing secret from the configured environment
// variable.
func (cfg Config) Secret() ([]byte, error) {
	value := strings.TrimSpace(os.Getenv(cfg.Auth.SecretEnv))
	if value == "" {
		return nil, fmt.Errorf("auth: %s is not set", cfg.Auth.SecretEnv)
	}
	return []byte(value), nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LedgerConfig = strings.TrimSpace(cfg.LedgerConfig)
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = defaultLedgerConfig
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Journal.normalize()
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if err := cfg.Journal.validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		return fmt.Errorf("log: rotation settings must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener terminates TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.SecretEnv = strings.TrimSpace(cfg.SecretEnv)
	if cfg.SecretEnv == "" {
		cfg.SecretEnv = defaultSecretEnv
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	audience := make([]string, 0, len(cfg.Audience))
	for _, aud := range cfg.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	cfg.Audience = audience
}

func (cfg AuthConfig) validate() error {
	if cfg.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if cfg.MaxSkewSeconds < 0 {
		return fmt.Errorf("max_skew_seconds must not be negative")
	}
	return nil
}

func (cfg *JournalConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = defaultJournalDriver
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" && cfg.Driver == defaultJournalDriver {
		cfg.DSN = defaultJournalDSN
	}
}

func (cfg JournalConfig) validate() error {
	switch cfg.Driver {
	case "sqlite":
	case "postgres":
		if cfg.DSN == "" {
			return fmt.Errorf("dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	return nil
}
