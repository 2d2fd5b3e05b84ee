// Package config manages gonat daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and coded defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gonat daemon configuration.
type Config struct {
	NAT     NATConfig     `koanf:"nat"`
	Table   TableConfig   `koanf:"table"`
	Queue   QueueConfig   `koanf:"queue"`
	Metrics MetricsConfig `koanf:"metrics"`
	Admin   AdminConfig   `koanf:"admin"`
	Log     LogConfig     `koanf:"log"`
}

// NATConfig holds the four orthogonal NAT behavior knobs plus the
// internal/external interface definitions (spec §6). DETERMINE_DIRECTION
// classifies a packet by comparing its arrival interface against these
// two names (confirmed against the original's PCL_DETERMINE_DIRECTION,
// fnCore.cpp) -- neither is a network prefix.
type NATConfig struct {
	// Internal is the internal (private-side) interface name whose
	// arriving traffic is classified as outbound.
	Internal string `koanf:"internal"`

	// External is the external interface name whose configured address
	// is used as the mapped (public) address for outbound flows.
	External string `koanf:"external"`

	// FilterMethod selects the filtering behavior: "endpoint_independent",
	// "address_dependent", or "address_and_port_dependent" (RFC 4787 REQ-8).
	FilterMethod string `koanf:"filter_method"`

	// MapMethod selects the mapping behavior: "endpoint_independent",
	// "address_dependent", or "address_and_port_dependent" (RFC 4787 REQ-4).
	MapMethod string `koanf:"map_method"`

	// PortAssign selects the port-assignment policy: "preserve", "overload",
	// or "none" (RFC 4787 REQ-3).
	PortAssign string `koanf:"port_assign"`

	// PortParity, when true, requires the allocator to preserve the
	// original source port's evenness (RFC 4787 REQ-3).
	PortParity bool `koanf:"port_parity"`

	// Hairpin enables NAT hairpinning: traffic from one internal host to
	// another internal host's external mapping is rewritten and looped
	// back instead of dropped (RFC 4787 REQ-9).
	Hairpin bool `koanf:"hairpin"`

	// MapLifetime is how long an idle mapping survives before eviction.
	// Zero is rejected at validation (§9 Open Question resolution).
	MapLifetime time.Duration `koanf:"map_lifetime"`
}

// TableConfig holds flow-table capacity and active-eviction tuning
// (SPEC_FULL §4.2, §6 ambient additions).
type TableConfig struct {
	// MaxEntries bounds the total number of concurrent mappings, counted
	// across all protocols. Zero means unbounded.
	MaxEntries int `koanf:"max_entries"`

	// SweepInterval is how often the background eviction sweep runs.
	// Zero disables the sweep; lookups do not evict, so idle mappings
	// then stay in the table.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// QueueConfig selects the kernel packet-queue to bind (SPEC_FULL §10).
type QueueConfig struct {
	// Num is the NFQUEUE queue number to bind.
	Num uint16 `koanf:"num"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminConfig holds the HTTP+JSON admin/control surface configuration
// (SPEC_FULL §12).
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin endpoint (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// port-assignment and filtering/mapping defaults follow RFC 4787's
// recommended "Endpoint-Independent Mapping" behavior (REQ-4) as the
// least-surprising default for general-purpose NAT.
func DefaultConfig() *Config {
	return &Config{
		NAT: NATConfig{
			FilterMethod: "endpoint_independent",
			MapMethod:    "endpoint_independent",
			PortAssign:   "preserve",
			PortParity:   false,
			Hairpin:      true,
			MapLifetime:  5 * time.Minute,
		},
		Table: TableConfig{
			MaxEntries:    0,
			SweepInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			Num: 0,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Admin: AdminConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gonat configuration.
// Variables are named GONAT_<section>_<key>, e.g., GONAT_NAT_INTERNAL.
const envPrefix = "GONAT_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GONAT_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GONAT_NAT_INTERNAL      -> nat.internal
//	GONAT_NAT_EXTERNAL      -> nat.external
//	GONAT_NAT_HAIRPIN       -> nat.hairpin
//	GONAT_METRICS_ADDR      -> metrics.addr
//	GONAT_ADMIN_ADDR        -> admin.addr
//	GONAT_LOG_LEVEL         -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

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

// envKeyMapper transforms GONAT_NAT_INTERNAL -> nat.internal.
// Strips the GONAT_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"nat.filter_method":    defaults.NAT.FilterMethod,
		"nat.map_method":       defaults.NAT.MapMethod,
		"nat.port_assign":      defaults.NAT.PortAssign,
		"nat.port_parity":      defaults.NAT.PortParity,
		"nat.hairpin":          defaults.NAT.Hairpin,
		"nat.map_lifetime":     defaults.NAT.MapLifetime.String(),
		"table.max_entries":    defaults.Table.MaxEntries,
		"table.sweep_interval": defaults.Table.SweepInterval.String(),
		"queue.num":            defaults.Queue.Num,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"admin.addr":           defaults.Admin.Addr,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
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

// Validation errors (spec §7 ConfigInvalid).
var (
	// ErrEmptyInternalInterface indicates nat.internal is empty.
	ErrEmptyInternalInterface = errors.New("nat.internal must not be empty")

	// ErrEmptyExternalInterface indicates nat.external is empty.
	ErrEmptyExternalInterface = errors.New("nat.external must not be empty")

	// ErrInvalidFilterMethod indicates nat.filter_method is not recognized.
	ErrInvalidFilterMethod = errors.New("nat.filter_method must be endpoint_independent, address_dependent, or address_and_port_dependent")

	// ErrInvalidMapMethod indicates nat.map_method is not recognized.
	ErrInvalidMapMethod = errors.New("nat.map_method must be endpoint_independent, address_dependent, or address_and_port_dependent")

	// ErrInvalidPortAssign indicates nat.port_assign is not recognized.
	ErrInvalidPortAssign = errors.New("nat.port_assign must be preserve, overload, or none")

	// ErrZeroMapLifetime indicates nat.map_lifetime was set to zero, almost
	// certainly a misconfiguration (§9 Open Question resolution: rejected
	// outright rather than interpreted as "infinite" or "immediate").
	ErrZeroMapLifetime = errors.New("nat.map_lifetime must be > 0; it is not interpreted as infinite or immediate")

	// ErrNegativeMaxEntries indicates table.max_entries was set negative.
	ErrNegativeMaxEntries = errors.New("table.max_entries must be >= 0")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")
)

// ValidFilterMethods lists the recognized nat.filter_method strings.
var ValidFilterMethods = map[string]bool{
	"endpoint_independent":       true,
	"address_dependent":          true,
	"address_and_port_dependent": true,
}

// ValidMapMethods lists the recognized nat.map_method strings.
var ValidMapMethods = map[string]bool{
	"endpoint_independent":       true,
	"address_dependent":          true,
	"address_and_port_dependent": true,
}

// ValidPortAssignPolicies lists the recognized nat.port_assign strings.
var ValidPortAssignPolicies = map[string]bool{
	"preserve": true,
	"overload": true,
	"none":     true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.NAT.Internal == "" {
		return ErrEmptyInternalInterface
	}

	if cfg.NAT.External == "" {
		return ErrEmptyExternalInterface
	}

	if !ValidFilterMethods[cfg.NAT.FilterMethod] {
		return fmt.Errorf("nat.filter_method %q: %w", cfg.NAT.FilterMethod, ErrInvalidFilterMethod)
	}

	if !ValidMapMethods[cfg.NAT.MapMethod] {
		return fmt.Errorf("nat.map_method %q: %w", cfg.NAT.MapMethod, ErrInvalidMapMethod)
	}

	if !ValidPortAssignPolicies[cfg.NAT.PortAssign] {
		return fmt.Errorf("nat.port_assign %q: %w", cfg.NAT.PortAssign, ErrInvalidPortAssign)
	}

	if cfg.NAT.MapLifetime <= 0 {
		return ErrZeroMapLifetime
	}

	if cfg.Table.MaxEntries < 0 {
		return ErrNegativeMaxEntries
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
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
