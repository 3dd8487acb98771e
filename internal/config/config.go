// Package config loads engine configuration from a TOML file with
// environment-variable overrides. Operators keep deployment defaults in the
// file and inject the database/redis URLs via CASTMKT_* variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full engine configuration.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Game     GameConfig     `toml:"game"`
}

type HTTPConfig struct {
	Port string `toml:"port"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type RedisConfig struct {
	URL      string `toml:"url"`
	CacheTTL string `toml:"cache_ttl"` // Go duration string, e.g. "30s"
}

type GameConfig struct {
	// StartingBudget is credited to every new ledger.
	StartingBudget string `toml:"starting_budget"`
	// MedianPrice seeds the season's continuous-pricing median.
	MedianPrice string `toml:"median_price"`
	// AirWindow is how long an episode stays on-air once it goes live.
	AirWindow string `toml:"air_window"`
	// AdvanceCron is a cron expression for the automatic weekly advance.
	// Empty disables the schedule (advance is then admin-triggered only).
	AdvanceCron string `toml:"advance_cron"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTP:  HTTPConfig{Port: "8080"},
		Redis: RedisConfig{CacheTTL: "30s"},
		Game: GameConfig{
			StartingBudget: "100",
			MedianPrice:    "1",
			AirWindow:      "90m",
		},
	}
}

// Load reads a TOML configuration file at path (skipped when empty or
// missing), merges it on top of the defaults, applies CASTMKT_* environment
// overrides, and returns the final Config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.HTTP.Port, "CASTMKT_PORT")
	setStr(&cfg.Database.URL, "CASTMKT_DATABASE_URL")
	setStr(&cfg.Redis.URL, "CASTMKT_REDIS_URL")
	setStr(&cfg.Redis.CacheTTL, "CASTMKT_REDIS_CACHE_TTL")
	setStr(&cfg.Game.StartingBudget, "CASTMKT_STARTING_BUDGET")
	setStr(&cfg.Game.MedianPrice, "CASTMKT_MEDIAN_PRICE")
	setStr(&cfg.Game.AirWindow, "CASTMKT_AIR_WINDOW")
	setStr(&cfg.Game.AdvanceCron, "CASTMKT_ADVANCE_CRON")

	// Plain names as injected by common container platforms.
	setStr(&cfg.HTTP.Port, "PORT")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the parseable fields and returns the first problem.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		return errors.New("config: http.port must be numeric")
	}
	if _, err := c.StartingBudget(); err != nil {
		return errors.New("config: game.starting_budget must be a decimal")
	}
	if _, err := c.MedianPrice(); err != nil {
		return errors.New("config: game.median_price must be a decimal")
	}
	if _, err := c.AirWindow(); err != nil {
		return errors.New("config: game.air_window must be a duration")
	}
	if _, err := c.CacheTTL(); err != nil {
		return errors.New("config: redis.cache_ttl must be a duration")
	}
	return nil
}

// StartingBudget returns the parsed starting budget.
func (c *Config) StartingBudget() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Game.StartingBudget)
}

// MedianPrice returns the parsed season median price.
func (c *Config) MedianPrice() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Game.MedianPrice)
}

// AirWindow returns the parsed on-air window duration.
func (c *Config) AirWindow() (time.Duration, error) {
	return time.ParseDuration(c.Game.AirWindow)
}

// CacheTTL returns the parsed Redis cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Redis.CacheTTL)
}
