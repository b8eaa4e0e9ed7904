// Package config manages the ogon-sessiond daemon configuration using
// koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ogon-sessiond daemon configuration.
type Config struct {
	RPC         RPCConfig         `koanf:"rpc"`
	OTSAPI      OTSAPIConfig      `koanf:"otsapi"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	Modules     ModulesConfig     `koanf:"modules"`
	Environment EnvironmentConfig `koanf:"environment"`
	Session     SessionConfig     `koanf:"session"`
}

// SessionConfig seeds the runtime property store's logon-policy properties
// (spec.md §4.5: "Apply reconnect policy from properties session.reconnect,
// session.reconnect.fromSameClient, session.singleSession") and the group
// allow/deny policy consulted during authentication (spec.md §4.8). These
// are daemon-startup defaults; the property store itself is the runtime
// source of truth once the daemon is up.
type SessionConfig struct {
	// Reconnect allows a new logon to be bound to an existing disconnected
	// session instead of always creating a new one.
	Reconnect bool `koanf:"reconnect"`
	// ReconnectFromSameClient further constrains reconnect matching to
	// sessions whose recorded client host equals the new connection's.
	ReconnectFromSameClient bool `koanf:"reconnect_from_same_client"`
	// SingleSession logs off any other live session of the same user
	// before establishing a new one.
	SingleSession bool `koanf:"single_session"`
	// MaxWidth/MaxHeight clamp the negotiated resolution when nonzero
	// (spec.md §4.5 step d).
	MaxWidth  int `koanf:"max_width"`
	MaxHeight int `koanf:"max_height"`
	// Permission is the default session permission level a fresh session
	// is initialized with: "full", "user", or "guest" (spec.md §3).
	Permission string `koanf:"permission"`
	// AllowGroups/DenyGroups implement the login-time group allow/deny
	// policy (spec.md §4.8). "*" in AllowGroups makes unknown groups pass.
	AllowGroups []string `koanf:"allow_groups"`
	DenyGroups  []string `koanf:"deny_groups"`
}

// RPCConfig holds the pbRPC module-pipe listener configuration.
type RPCConfig struct {
	// Endpoint is the Unix-domain socket path backend modules connect to.
	Endpoint string `koanf:"endpoint"`
}

// OTSAPIConfig holds the administrative HTTP/JSON surface configuration.
type OTSAPIConfig struct {
	// Addr is the HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`
	// VirtualChannels is the default per-session virtual-channel whitelist
	// (spec.md §8 scenario S4: opening a channel absent from the whitelist
	// returns an empty pipe name and instance 0). A session's own
	// "vchannel.<name>" boolean property, if set, overrides this default.
	VirtualChannels []string `koanf:"virtual_channels"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ModulesConfig declares the built-in backend modules registered at
// startup and which one is the default for new sessions (spec.md §4.6).
type ModulesConfig struct {
	// Default is the module name used when a connection does not request
	// one explicitly.
	Default string `koanf:"default"`
	// Enabled lists every module name to register at startup.
	Enabled []string `koanf:"enabled"`
}

// EnvironmentConfig declares the backend process environment policy
// (spec.md §6): a whitelist of inherited variable names plus fixed
// additions, consumed by internal/envblock.
type EnvironmentConfig struct {
	// Filter is the set of ambient environment variable names copied into
	// a backend module's process, in addition to the fixed OGON_* set.
	Filter []string `koanf:"filter"`
	// Add is a fixed set of extra key/value pairs always injected.
	Add map[string]string `koanf:"add"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RPC: RPCConfig{
			Endpoint: "/run/ogon/sessiond.sock",
		},
		OTSAPI: OTSAPIConfig{
			Addr:            ":8080",
			VirtualChannels: []string{"cliprdr", "rdpdr", "rdpsnd"},
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Modules: ModulesConfig{
			Default: "greeter",
			Enabled: []string{"greeter", "x11dummy"},
		},
		Environment: EnvironmentConfig{
			Filter: []string{"PATH", "TZ", "LANG"},
			Add:    map[string]string{},
		},
		Session: SessionConfig{
			Reconnect:               true,
			ReconnectFromSameClient: false,
			SingleSession:           false,
			Permission:              "guest",
			AllowGroups:             []string{"*"},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for daemon configuration.
// Variables are named OGON_SESSIOND_<section>_<key>, e.g.
// OGON_SESSIOND_OTSAPI_ADDR.
const envPrefix = "OGON_SESSIOND_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (OGON_SESSIOND_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	OGON_SESSIOND_RPC_ENDPOINT   -> rpc.endpoint
//	OGON_SESSIOND_OTSAPI_ADDR    -> otsapi.addr
//	OGON_SESSIOND_METRICS_ADDR   -> metrics.addr
//	OGON_SESSIOND_METRICS_PATH   -> metrics.path
//	OGON_SESSIOND_LOG_LEVEL      -> log.level
//	OGON_SESSIOND_LOG_FORMAT     -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms OGON_SESSIOND_OTSAPI_ADDR -> otsapi.addr.
// Strips the envPrefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"rpc.endpoint":       defaults.RPC.Endpoint,
		"otsapi.addr":             defaults.OTSAPI.Addr,
		"otsapi.virtual_channels": defaults.OTSAPI.VirtualChannels,
		"metrics.addr":       defaults.Metrics.Addr,
		"metrics.path":       defaults.Metrics.Path,
		"log.level":          defaults.Log.Level,
		"log.format":         defaults.Log.Format,
		"modules.default":    defaults.Modules.Default,
		"modules.enabled":    defaults.Modules.Enabled,
		"environment.filter": defaults.Environment.Filter,
		"session.reconnect":                  defaults.Session.Reconnect,
		"session.reconnect_from_same_client":  defaults.Session.ReconnectFromSameClient,
		"session.single_session":              defaults.Session.SingleSession,
		"session.permission":                  defaults.Session.Permission,
		"session.allow_groups":                defaults.Session.AllowGroups,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyRPCEndpoint indicates the pbRPC listener endpoint is empty.
	ErrEmptyRPCEndpoint = errors.New("rpc.endpoint must not be empty")

	// ErrEmptyOTSAPIAddr indicates the admin HTTP listen address is empty.
	ErrEmptyOTSAPIAddr = errors.New("otsapi.addr must not be empty")

	// ErrNoDefaultModule indicates no default backend module is configured.
	ErrNoDefaultModule = errors.New("modules.default must not be empty")

	// ErrDefaultNotEnabled indicates the default module is not in the
	// enabled list, so it could never actually be registered.
	ErrDefaultNotEnabled = errors.New("modules.default must be listed in modules.enabled")

	// ErrDuplicateModule indicates the same module name appears twice in
	// modules.enabled.
	ErrDuplicateModule = errors.New("duplicate module name in modules.enabled")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.RPC.Endpoint == "" {
		return ErrEmptyRPCEndpoint
	}
	if cfg.OTSAPI.Addr == "" {
		return ErrEmptyOTSAPIAddr
	}
	if cfg.Modules.Default == "" {
		return ErrNoDefaultModule
	}

	seen := make(map[string]struct{}, len(cfg.Modules.Enabled))
	foundDefault := false
	for _, m := range cfg.Modules.Enabled {
		if _, dup := seen[m]; dup {
			return fmt.Errorf("module %q: %w", m, ErrDuplicateModule)
		}
		seen[m] = struct{}{}
		if m == cfg.Modules.Default {
			foundDefault = true
		}
	}
	if !foundDefault {
		return ErrDefaultNotEnabled
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
