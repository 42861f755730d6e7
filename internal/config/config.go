// Package config manages the convmem configuration file
// (~/.config/convmem/config.toml) and its environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that take precedence over the config file.
const (
	EnvDBPath     = "CONVMEM_DB_PATH"
	EnvContextTTL = "CONVMEM_CONTEXT_TTL"
	EnvMaxHistory = "CONVMEM_MAX_HISTORY"
)

// Config holds every tunable of the memory subsystem.
type Config struct {
	Store         StoreConfig         `toml:"store"`
	ShortTerm     ShortTermConfig     `toml:"short_term"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Retention     RetentionConfig     `toml:"retention"`
}

type StoreConfig struct {
	DBPath      string   `toml:"db_path"`
	BusyTimeout Duration `toml:"busy_timeout"`
	JournalMode string   `toml:"journal_mode"` // empty means WAL
}

type ShortTermConfig struct {
	ContextTTL Duration `toml:"context_ttl"`
	MaxHistory int      `toml:"max_history"`
}

// ConsolidationConfig controls when buffered history becomes topics and how
// much of it stays buffered afterwards.
type ConsolidationConfig struct {
	Threshold int `toml:"threshold"`
	Retain    int `toml:"retain"`
}

type RetentionConfig struct {
	Enabled            bool     `toml:"enabled"`
	SweepInterval      Duration `toml:"sweep_interval"`
	MemoryMaxAgeDays   int      `toml:"memory_max_age_days"`
	MemoryMinRelevance float64  `toml:"memory_min_relevance"`
	TopicMaxAgeDays    int      `toml:"topic_max_age_days"`
}

// Duration is a time.Duration written as a string ("1h", "5m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			DBPath:      DefaultDBPath(),
			BusyTimeout: Duration{5 * time.Second},
		},
		ShortTerm: ShortTermConfig{
			ContextTTL: Duration{time.Hour},
			MaxHistory: 20,
		},
		Consolidation: ConsolidationConfig{
			Threshold: 5,
			Retain:    5,
		},
		Retention: RetentionConfig{
			Enabled:            true,
			SweepInterval:      Duration{5 * time.Minute},
			MemoryMaxAgeDays:   90,
			MemoryMinRelevance: 0.3,
			TopicMaxAgeDays:    30,
		},
	}
}

// Dir returns ~/.config/convmem.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "convmem"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDBPath returns ~/.config/convmem/memory.db, or memory.db in the
// working directory when the home dir is unknown.
func DefaultDBPath() string {
	dir, err := Dir()
	if err != nil {
		return "memory.db"
	}
	return filepath.Join(dir, "memory.db")
}

// Load reads the config from its default location.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		cfg := DefaultConfig()
		return cfg, applyEnv(&cfg) // No home dir: defaults plus env.
	}
	return LoadFile(path)
}

// LoadFile reads the config at path, applying defaults for missing values and
// environment overrides on top. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv(EnvContextTTL); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvContextTTL, err)
		}
		cfg.ShortTerm.ContextTTL = Duration{d}
	}
	if v := os.Getenv(EnvMaxHistory); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxHistory, err)
		}
		cfg.ShortTerm.MaxHistory = n
	}
	return nil
}

// Validate rejects settings the subsystem cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Store.DBPath == "" {
		errs = append(errs, errors.New("store.db_path is empty"))
	}
	switch strings.ToUpper(c.Store.JournalMode) {
	case "", "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		errs = append(errs, fmt.Errorf("store.journal_mode %q is not a SQLite journal mode", c.Store.JournalMode))
	}
	if c.Store.BusyTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("store.busy_timeout must not be negative, got %s", c.Store.BusyTimeout))
	}
	if c.ShortTerm.ContextTTL.Duration <= 0 {
		errs = append(errs, fmt.Errorf("short_term.context_ttl must be positive, got %s", c.ShortTerm.ContextTTL))
	}
	if c.ShortTerm.MaxHistory < 1 {
		errs = append(errs, fmt.Errorf("short_term.max_history must be at least 1, got %d", c.ShortTerm.MaxHistory))
	}
	if c.Consolidation.Threshold < 1 {
		errs = append(errs, fmt.Errorf("consolidation.threshold must be at least 1, got %d", c.Consolidation.Threshold))
	}
	if c.Consolidation.Retain < 0 {
		errs = append(errs, fmt.Errorf("consolidation.retain must not be negative, got %d", c.Consolidation.Retain))
	}
	if r := c.Retention.MemoryMinRelevance; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("retention.memory_min_relevance must be within [0,1], got %v", r))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Save writes cfg to the default location.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

// SaveFile writes cfg to path, creating parent directories.
func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
