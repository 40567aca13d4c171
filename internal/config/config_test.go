package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %s, want %s", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.RateLimit != defaultRateLimit {
		t.Errorf("RateLimit = %f, want %d", cfg.RateLimit, defaultRateLimit)
	}
}

func TestLoadFlagsBeatEnv(t *testing.T) {
	t.Setenv("ROUTECORE_HTTP_PORT", "9999")
	t.Setenv("ROUTECORE_LOG_LEVEL", "debug")

	cfg, err := load([]string{"-http-port", "8081"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 8081 {
		t.Errorf("HTTPPort = %d, want flag value 8081", cfg.HTTPPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want env value debug", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routecore.yaml")
	content := []byte("http_port: 9090\nlog_format: json\npg_dsn: postgres://cdr@db/archive\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := load([]string{"-config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090 from file", cfg.HTTPPort)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %s, want json from file", cfg.LogFormat)
	}
	if cfg.PGDSN != "postgres://cdr@db/archive" {
		t.Errorf("PGDSN = %s", cfg.PGDSN)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routecore.yaml")
	if err := os.WriteFile(path, []byte("http_port: 9090\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("ROUTECORE_HTTP_PORT", "7070")

	cfg, err := load([]string{"-config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 7070 {
		t.Errorf("HTTPPort = %d, want env value 7070", cfg.HTTPPort)
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := load([]string{"-http-port", "0"}); err == nil {
		t.Error("expected error for port 0")
	}
	if _, err := load([]string{"-log-level", "verbose"}); err == nil {
		t.Error("expected error for unknown log level")
	}
	if _, err := load([]string{"-rate-limit", "-1"}); err == nil {
		t.Error("expected error for negative rate limit")
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("JWTSecretBytes: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("generated key length = %d, want 32", len(key))
	}
	// The generated secret persists for the process lifetime.
	again, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("JWTSecretBytes: %v", err)
	}
	if string(key) != string(again) {
		t.Error("expected stable secret across calls")
	}

	cfg = &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for invalid hex")
	}
	cfg = &Config{JWTSecret: "abcd"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for short key")
	}
}
