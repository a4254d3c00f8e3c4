// Package config loads dhtstate settings from an optional TOML file and
// the environment. Environment variables override the file; the file
// overrides the defaults.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/ribosome"
)

// Config is the full runtime configuration.
type Config struct {
	DBDriver    string        `toml:"db_driver"    env:"DHTSTATE_DB_DRIVER"`
	DBPath      string        `toml:"db_path"      env:"DHTSTATE_DB_PATH"`
	PostgresDSN string        `toml:"postgres_dsn" env:"DHTSTATE_POSTGRES_DSN"`
	BusyTimeout time.Duration `toml:"busy_timeout" env:"DHTSTATE_BUSY_TIMEOUT"`
	MaxReaders  int           `toml:"max_readers"  env:"DHTSTATE_MAX_READERS"`

	LogLevel  string `toml:"log_level"  env:"DHTSTATE_LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"DHTSTATE_LOG_FORMAT"`

	// AgentSeed is the hex ed25519 seed of the local agent.
	AgentSeed string `toml:"agent_seed" env:"DHTSTATE_AGENT_SEED"`

	WasmMemoryPages uint32        `toml:"wasm_memory_pages" env:"DHTSTATE_WASM_MEMORY_PAGES"`
	WasmCallTimeout time.Duration `toml:"wasm_call_timeout" env:"DHTSTATE_WASM_CALL_TIMEOUT"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBDriver:        kv.DriverSQLite3,
		DBPath:          "dhtstate.db",
		BusyTimeout:     kv.DefaultBusyTimeout,
		MaxReaders:      kv.DefaultMaxReaders,
		LogLevel:        "info",
		LogFormat:       "text",
		WasmMemoryPages: 256,
		WasmCallTimeout: 10 * time.Second,
	}
}

// Load builds a Config from the defaults, the TOML file at path (skipped
// when path is empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment; nil means the process
// environment.
func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg. Keys the file does not
// set keep their current values; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("read config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks that the settings are usable together.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case kv.DriverSQLite3, kv.DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			errs = append(errs, errors.New("db_path is required for sqlite"))
		}
	case kv.DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("db_driver %q must be one of sqlite3, sqlite, postgres", c.DBDriver))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy_timeout must not be negative"))
	}
	if c.MaxReaders < 0 {
		errs = append(errs, errors.New("max_readers must not be negative"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.AgentSeed != "" {
		if _, err := c.AgentKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.WasmCallTimeout < 0 {
		errs = append(errs, errors.New("wasm_call_timeout must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// KVConfig returns the storage settings.
func (c Config) KVConfig() kv.Config {
	return kv.Config{
		Driver:      c.DBDriver,
		Path:        c.DBPath,
		DSN:         c.PostgresDSN,
		BusyTimeout: c.BusyTimeout,
		MaxReaders:  c.MaxReaders,
	}
}

// WasmConfig returns the zome execution limits.
func (c Config) WasmConfig() ribosome.WasmConfig {
	return ribosome.WasmConfig{
		MemoryLimitPages: c.WasmMemoryPages,
		CallTimeout:      c.WasmCallTimeout,
	}
}

// AgentKey derives the agent's private key from AgentSeed.
func (c Config) AgentKey() (ed25519.PrivateKey, error) {
	if c.AgentSeed == "" {
		return nil, errors.New("agent_seed is not set")
	}
	seed, err := hex.DecodeString(c.AgentSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("agent_seed must be %d hex-encoded bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Logger builds the slog logger described by LogLevel and LogFormat.
// verbose forces debug level.
func (c Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q must be debug, info, warn or error", s)
	}
	return level, nil
}
