// Package config loads service configuration with viper: built-in defaults,
// an optional config file, then environment variables (PORT, DATABASE_URL,
// REDIS_URL, LOG_LEVEL, CACHE_TTL, SIM_WORKERS, SIM_BATCH_SIZE,
// SIM_MAX_TRIALS, ...).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atmx/risk-engine/internal/credit"
)

// Config is the service configuration.
type Config struct {
	Port        string        `mapstructure:"port"`
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	LogLevel    string        `mapstructure:"log_level"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Sim         Sim           `mapstructure:"sim"`

	// Ratings maps rating → horizon in years → PD. Keys are upper-cased on
	// load.
	Ratings map[string]map[string]float64 `mapstructure:"ratings"`
}

// Sim bounds and defaults simulation requests.
type Sim struct {
	Workers           int     `mapstructure:"workers"`    // 0 → GOMAXPROCS
	BatchSize         int     `mapstructure:"batch_size"` // 0 → engine default
	MaxTrials         int     `mapstructure:"max_trials"`
	DefaultTrials     int     `mapstructure:"default_trials"`
	DefaultConfidence float64 `mapstructure:"default_confidence"`
	DefaultHorizon    int     `mapstructure:"default_horizon"`
}

// DefaultRatings are cumulative default probabilities per rating and
// horizon used when the configuration supplies none.
var DefaultRatings = map[string]map[string]float64{
	"AAA": {"1": 0.0001, "3": 0.0004, "5": 0.0010},
	"AA":  {"1": 0.0002, "3": 0.0010, "5": 0.0030},
	"A":   {"1": 0.0006, "3": 0.0025, "5": 0.0060},
	"BBB": {"1": 0.0020, "3": 0.0090, "5": 0.0180},
	"BB":  {"1": 0.0080, "3": 0.0350, "5": 0.0700},
	"B":   {"1": 0.0350, "3": 0.1100, "5": 0.1800},
	"CCC": {"1": 0.2500, "3": 0.4000, "5": 0.4800},
}

// Load reads configuration. path may name a config file; when empty,
// ./config.yaml is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	} else {
		slog.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cache_ttl", 30*time.Second)
	v.SetDefault("sim.workers", 0)
	v.SetDefault("sim.batch_size", 0)
	v.SetDefault("sim.max_trials", 5_000_000)
	v.SetDefault("sim.default_trials", 100_000)
	v.SetDefault("sim.default_confidence", 0.99)
	v.SetDefault("sim.default_horizon", credit.FallbackHorizon)
	v.SetDefault("ratings", anyMap(DefaultRatings))
}

// anyMap converts a rating table to the nested map[string]any viper
// flattens into individual keys, so a file can override single entries.
func anyMap(in map[string]map[string]float64) map[string]any {
	out := make(map[string]any, len(in))
	for rating, row := range in {
		cols := make(map[string]any, len(row))
		for h, pd := range row {
			cols[h] = pd
		}
		out[rating] = cols
	}
	return out
}

func (c *Config) validate() error {
	if c.Sim.MaxTrials <= 0 {
		return fmt.Errorf("config: sim.max_trials must be positive, got %d", c.Sim.MaxTrials)
	}
	if c.Sim.DefaultTrials <= 0 || c.Sim.DefaultTrials > c.Sim.MaxTrials {
		return fmt.Errorf("config: sim.default_trials must lie in [1, %d], got %d", c.Sim.MaxTrials, c.Sim.DefaultTrials)
	}
	if c.Sim.DefaultConfidence <= 0 || c.Sim.DefaultConfidence >= 1 {
		return fmt.Errorf("config: sim.default_confidence must lie in (0,1), got %v", c.Sim.DefaultConfidence)
	}
	if c.Sim.Workers < 0 || c.Sim.BatchSize < 0 {
		return fmt.Errorf("config: sim.workers and sim.batch_size must not be negative")
	}
	if _, err := c.RatingTable(); err != nil {
		return err
	}
	return nil
}

// RatingTable converts Ratings into a credit.RatingTable. Horizon keys may
// be written "3" or "3Y".
func (c *Config) RatingTable() (credit.RatingTable, error) {
	table := make(credit.RatingTable, len(c.Ratings))
	for rating, row := range c.Ratings {
		cols := make(map[int]float64, len(row))
		for h, pd := range row {
			years, err := strconv.Atoi(strings.TrimSuffix(strings.ToUpper(h), "Y"))
			if err != nil {
				return nil, fmt.Errorf("config: ratings.%s: bad horizon %q", rating, h)
			}
			if pd < 0 || pd > 1 {
				return nil, fmt.Errorf("config: ratings.%s.%s: pd %v outside [0,1]", rating, h, pd)
			}
			cols[years] = pd
		}
		table[strings.ToUpper(strings.TrimSpace(rating))] = cols
	}
	return table, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
