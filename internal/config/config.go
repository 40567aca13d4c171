// Package config loads runtime configuration for the routecore server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the routecore server.
// Precedence: CLI flags > env vars > config file > defaults.
type Config struct {
	DataDir     string  `yaml:"data_dir"`
	HTTPPort    int     `yaml:"http_port"`
	LogLevel    string  `yaml:"log_level"`
	LogFormat   string  `yaml:"log_format"`
	JWTSecret   string  `yaml:"jwt_secret"`   // hex-encoded 32-byte secret for API token signing
	PGDSN       string  `yaml:"pg_dsn"`       // optional Postgres DSN for the CDR archive
	RateLimit   float64 `yaml:"rate_limit"`   // per-client requests per second, 0 disables
	CORSOrigins string  `yaml:"cors_origins"` // comma-separated allowed origins
}

// defaults
const (
	defaultDataDir   = "./data"
	defaultHTTPPort  = 8080
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultRateLimit = 50
)

// envPrefix is the prefix for all routecore environment variables.
const envPrefix = "ROUTECORE_"

// Load parses configuration from CLI flags, environment variables, and an
// optional YAML config file.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("routecore", flag.ContinueOnError)

	var configFile string
	fs.StringVar(&configFile, "config", "", "path to a YAML config file")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API token signing (auto-generated if empty)")
	fs.StringVar(&cfg.PGDSN, "pg-dsn", "", "Postgres DSN for the optional CDR archive")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", defaultRateLimit, "per-client requests per second (0 disables)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if configFile == "" {
		configFile = os.Getenv(envPrefix + "CONFIG")
	}

	fromEnv := applyEnvOverrides(set, cfg)

	if configFile != "" {
		if err := applyFile(configFile, set, fromEnv, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line, and reports which flags an env
// var filled in.
func applyEnvOverrides(set map[string]bool, cfg *Config) map[string]bool {
	fromEnv := make(map[string]bool)

	envMap := map[string]string{
		"data-dir":     envPrefix + "DATA_DIR",
		"http-port":    envPrefix + "HTTP_PORT",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"jwt-secret":   envPrefix + "JWT_SECRET",
		"pg-dsn":       envPrefix + "PG_DSN",
		"rate-limit":   envPrefix + "RATE_LIMIT",
		"cors-origins": envPrefix + "CORS_ORIGINS",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		fromEnv[flagName] = true
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "pg-dsn":
			cfg.PGDSN = val
		case "rate-limit":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RateLimit = v
			}
		case "cors-origins":
			cfg.CORSOrigins = val
		}
	}
	return fromEnv
}

// applyFile fills in values from the YAML config file for fields that
// neither a flag nor an env var already set.
func applyFile(path string, set, fromEnv map[string]bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	overridden := func(name string) bool { return set[name] || fromEnv[name] }

	if !overridden("data-dir") && file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if !overridden("http-port") && file.HTTPPort != 0 {
		cfg.HTTPPort = file.HTTPPort
	}
	if !overridden("log-level") && file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if !overridden("log-format") && file.LogFormat != "" {
		cfg.LogFormat = file.LogFormat
	}
	if !overridden("jwt-secret") && file.JWTSecret != "" {
		cfg.JWTSecret = file.JWTSecret
	}
	if !overridden("pg-dsn") && file.PGDSN != "" {
		cfg.PGDSN = file.PGDSN
	}
	if !overridden("rate-limit") && file.RateLimit != 0 {
		cfg.RateLimit = file.RateLimit
	}
	if !overridden("cors-origins") && file.CORSOrigins != "" {
		cfg.CORSOrigins = file.CORSOrigins
	}
	return nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative, got %f", c.RateLimit)
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// JWTSecretBytes returns the decoded 32-byte token signing secret. If no
// secret is configured, it generates a random key and stores the
// hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
