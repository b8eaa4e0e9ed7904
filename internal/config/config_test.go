package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ogon-project/ogon-sessiond/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.RPC.Endpoint == "" {
		t.Error("RPC.Endpoint is empty")
	}
	if cfg.OTSAPI.Addr != ":8080" {
		t.Errorf("OTSAPI.Addr = %q, want %q", cfg.OTSAPI.Addr, ":8080")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Modules.Default != "greeter" {
		t.Errorf("Modules.Default = %q, want %q", cfg.Modules.Default, "greeter")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
rpc:
  endpoint: /tmp/ogon-test.sock
otsapi:
  addr: ":9999"
log:
  level: debug
  format: text
modules:
  default: x11dummy
  enabled:
    - greeter
    - x11dummy
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.Endpoint != "/tmp/ogon-test.sock" {
		t.Errorf("RPC.Endpoint = %q, want %q", cfg.RPC.Endpoint, "/tmp/ogon-test.sock")
	}
	if cfg.OTSAPI.Addr != ":9999" {
		t.Errorf("OTSAPI.Addr = %q, want %q", cfg.OTSAPI.Addr, ":9999")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Modules.Default != "x11dummy" {
		t.Errorf("Modules.Default = %q, want %q", cfg.Modules.Default, "x11dummy")
	}

	// Unset fields inherit defaults.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("otsapi:\n  addr: \":1\"\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("OGON_SESSIOND_OTSAPI_ADDR", ":2")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OTSAPI.Addr != ":2" {
		t.Errorf("OTSAPI.Addr = %q, want env override %q", cfg.OTSAPI.Addr, ":2")
	}
}

func TestValidateRejectsEmptyEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RPC.Endpoint = ""
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyRPCEndpoint) {
		t.Fatalf("Validate() error = %v, want ErrEmptyRPCEndpoint", err)
	}
}

func TestValidateRejectsDefaultModuleNotEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modules.Default = "nonexistent"
	if err := config.Validate(cfg); !errors.Is(err, config.ErrDefaultNotEnabled) {
		t.Fatalf("Validate() error = %v, want ErrDefaultNotEnabled", err)
	}
}

func TestValidateRejectsDuplicateModule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modules.Enabled = []string{"greeter", "greeter"}
	if err := config.Validate(cfg); !errors.Is(err, config.ErrDuplicateModule) {
		t.Fatalf("Validate() error = %v, want ErrDuplicateModule", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := config.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
