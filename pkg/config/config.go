// Package config loads the recnet daemon configuration from a TOML file.
// Every field has a working default so a missing file yields a runnable
// local-network setup; the file overrides only what it names.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full daemon configuration.
type Config struct {
	Validator ValidatorConfig `toml:"validator"`
	Miner     MinerConfig     `toml:"miner"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Ledger    LedgerConfig    `toml:"ledger"`
}

// ValidatorConfig tunes the dispatch loop.
type ValidatorConfig struct {
	Key             string   `toml:"key"`
	SampleSize      int      `toml:"sample_size"`
	MinStake        float64  `toml:"min_stake"`
	Alpha           float64  `toml:"alpha"`
	APIEnabled      bool     `toml:"api_enabled"`
	APIExclusive    bool     `toml:"api_exclusive"`
	SyncInterval    duration `toml:"sync_interval"`
	EmitInterval    duration `toml:"emit_interval"`
	DispatchTimeout duration `toml:"dispatch_timeout"`
	DBPath          string   `toml:"db_path"`
}

// MinerConfig tunes the serving side.
type MinerConfig struct {
	Key               string  `toml:"key"`
	Addr              string  `toml:"addr"`
	MinCallerStake    float64 `toml:"min_caller_stake"`
	AllowUnregistered bool    `toml:"allow_unregistered"`
}

// GatewayConfig tunes the HTTP front.
type GatewayConfig struct {
	Addr           string   `toml:"addr"`
	APIKey         string   `toml:"api_key"`
	RequestTimeout duration `toml:"request_timeout"`
}

// LedgerConfig locates the membership roster.
type LedgerConfig struct {
	RosterPath     string  `toml:"roster_path"`
	MinWeight      float64 `toml:"min_weight"`
	MaxWeightRatio float64 `toml:"max_weight_ratio"`
}

// duration is a time.Duration that unmarshals from TOML strings like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration for a local network.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".recnet")
	return Config{
		Validator: ValidatorConfig{
			Key:          "validator-local",
			SampleSize:   8,
			MinStake:     1000,
			Alpha:        0.1,
			APIEnabled:   true,
			SyncInterval: duration(time.Minute),
			EmitInterval: duration(5 * time.Minute),
			DBPath:       filepath.Join(base, "validator.db"),
		},
		Miner: MinerConfig{
			Key:            "miner-local",
			Addr:           "127.0.0.1:9301",
			MinCallerStake: 1000,
		},
		Gateway: GatewayConfig{
			Addr:           "127.0.0.1:8091",
			RequestTimeout: duration(30 * time.Second),
		},
		Ledger: LedgerConfig{
			RosterPath: filepath.Join(base, "roster.yaml"),
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not an
// error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the --config flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recnet", "config.toml")
}
