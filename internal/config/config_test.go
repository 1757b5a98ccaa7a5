package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.HTTPSPort != 8443 {
		t.Fatalf("expected default https port 8443, got %d", cfg.Server.HTTPSPort)
	}
	if cfg.Dispatch.OfferTimeout != 10*time.Second {
		t.Fatalf("expected default offer timeout 10s, got %v", cfg.Dispatch.OfferTimeout)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  port: 9090
dispatch:
  offer_timeout: 5s
  sent_timeout: 45s
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected overridden port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Dispatch.OfferTimeout != 5*time.Second {
		t.Fatalf("expected overridden offer timeout 5s, got %v", cfg.Dispatch.OfferTimeout)
	}
	if cfg.Dispatch.SentTimeout != 45*time.Second {
		t.Fatalf("expected overridden sent timeout 45s, got %v", cfg.Dispatch.SentTimeout)
	}
	// Fields untouched by the YAML file keep their defaults.
	if cfg.Render.Concurrency != 2 {
		t.Fatalf("expected default render concurrency 2, got %d", cfg.Render.Concurrency)
	}
}

func TestApplyEnvOverridesLoadedConfig(t *testing.T) {
	cfg := defaults()

	t.Setenv("PORT", "7070")
	t.Setenv("HTTPS_PORT", "7443")
	t.Setenv("FORCE_HTTP_TO_HTTPS", "true")
	t.Setenv("CLOUDPRNT_DB_PATH", "/tmp/custom.db")
	t.Setenv("CLOUDPRNT_LOG_LEVEL", "debug")

	ApplyEnv(cfg)

	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env-overridden port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Server.HTTPSPort != 7443 {
		t.Fatalf("expected env-overridden https port 7443, got %d", cfg.Server.HTTPSPort)
	}
	if !cfg.Server.ForceHTTPToHTTPS {
		t.Fatal("expected env-overridden force_http_to_https to be true")
	}
	if cfg.Database.Path != "/tmp/custom.db" {
		t.Fatalf("expected env-overridden db path, got %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env-overridden log level, got %s", cfg.Logging.Level)
	}
}

func TestApplyEnvIgnoresInvalidPort(t *testing.T) {
	cfg := defaults()
	t.Setenv("PORT", "not-a-number")

	ApplyEnv(cfg)

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port left at default when env value is invalid, got %d", cfg.Server.Port)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := defaults()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port above 65535")
	}
}

func TestValidateRequiresTLSPathsWhenForcingHTTPS(t *testing.T) {
	cfg := defaults()
	cfg.Server.ForceHTTPToHTTPS = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when forcing https without tls paths")
	}

	cfg.Server.TLSCertPath = "/etc/cert.pem"
	cfg.Server.TLSKeyPath = "/etc/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error once tls paths are set, got %v", err)
	}
}

func TestValidateRejectsNonPositiveDispatchTimeouts(t *testing.T) {
	cfg := defaults()
	cfg.Dispatch.OfferTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero offer timeout")
	}

	cfg = defaults()
	cfg.Dispatch.SentTimeout = -1 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative sent timeout")
	}
}

func TestValidateRejectsUnknownLogLevelAndFormat(t *testing.T) {
	cfg := defaults()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}

	cfg = defaults()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaults().Validate(); err != nil {
		t.Fatalf("expected defaults to validate cleanly, got %v", err)
	}
}
