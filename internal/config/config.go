// Package config loads and validates stockcrawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stockcrawler/internal/directory"
	"stockcrawler/internal/parser"
)

// DefaultListingURL is the NASDAQ screener download used to build the directory.
const DefaultListingURL = "https://www.nasdaq.com/screening/companies-by-name.aspx?exchange=NASDAQ&render=download"

// Config holds all configuration for stockcrawler.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Report    ReportConfig    `mapstructure:"report"`
	Server    ServerConfig    `mapstructure:"server"`
}

// LoggingConfig toggles zap development features and an optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// FetcherConfig configures the summary page client.
type FetcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// CrawlerConfig governs batch fan-out.
type CrawlerConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	Deadline    time.Duration `mapstructure:"deadline"`
	Pairing     string        `mapstructure:"pairing"`
	RecordTime  bool          `mapstructure:"record_time"`
}

type ParserConfig struct {
	BlockSelector string `mapstructure:"block_selector"`
	CellSelector  string `mapstructure:"cell_selector"`
}

// DirectoryConfig selects and configures the company directory backend.
type DirectoryConfig struct {
	Backend       string        `mapstructure:"backend"`
	File          string        `mapstructure:"file"`
	DSN           string        `mapstructure:"dsn"`
	Table         string        `mapstructure:"table"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisKey      string        `mapstructure:"redis_key"`
	ListingURL    string        `mapstructure:"listing_url"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryWait     time.Duration `mapstructure:"retry_wait"`
}

type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ServerConfig controls the HTTP frontend.
type ServerConfig struct {
	Addr          string  `mapstructure:"addr"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// Load reads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over file values and use the
// STOCKCRAWLER_ prefix with dots replaced by underscores, for example
// STOCKCRAWLER_DIRECTORY_BACKEND.
//
// An explicit path must exist. With an empty path, config.yaml is looked up
// in the working directory and $HOME/.stockcrawler and skipped if absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stockcrawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")

	v.SetDefault("fetcher.timeout", 15*time.Second)
	v.SetDefault("fetcher.user_agent", "stockcrawler/1.0")
	v.SetDefault("fetcher.max_body_bytes", 5<<20)

	v.SetDefault("crawler.max_in_flight", 0)
	v.SetDefault("crawler.task_timeout", 20*time.Second)
	v.SetDefault("crawler.deadline", time.Duration(0))
	v.SetDefault("crawler.pairing", string(parser.PairPerBlock))
	v.SetDefault("crawler.record_time", false)

	v.SetDefault("parser.block_selector", parser.DefaultBlockSelector)
	v.SetDefault("parser.cell_selector", parser.DefaultCellSelector)

	v.SetDefault("directory.backend", directory.BackendFile)
	v.SetDefault("directory.file", "companylist.csv")
	v.SetDefault("directory.dsn", "")
	v.SetDefault("directory.table", "companies")
	v.SetDefault("directory.redis_addr", "")
	v.SetDefault("directory.redis_password", "")
	v.SetDefault("directory.redis_db", 0)
	v.SetDefault("directory.redis_key", "stockcrawler:companies")
	v.SetDefault("directory.listing_url", DefaultListingURL)
	v.SetDefault("directory.max_attempts", 2)
	v.SetDefault("directory.retry_wait", 500*time.Millisecond)

	v.SetDefault("report.enabled", true)
	v.SetDefault("report.dir", "report")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_per_second", 2.0)
	v.SetDefault("server.burst", 4)
}

// Validate enforces required values and reasonable limits.
func (c *Config) Validate() error {
	switch c.Directory.Backend {
	case directory.BackendFile:
		if c.Directory.File == "" {
			return fmt.Errorf("directory.file must be set for the file backend")
		}
	case directory.BackendPostgres:
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory.dsn must be set for the postgres backend")
		}
	case directory.BackendRedis:
		if c.Directory.RedisAddr == "" {
			return fmt.Errorf("directory.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown directory.backend %q", c.Directory.Backend)
	}
	if _, err := parser.ParsePairing(c.Crawler.Pairing); err != nil {
		return fmt.Errorf("crawler.pairing: %w", err)
	}
	if c.Crawler.MaxInFlight < 0 {
		return fmt.Errorf("crawler.max_in_flight must be >= 0")
	}
	if c.Crawler.TaskTimeout <= 0 {
		return fmt.Errorf("crawler.task_timeout must be > 0")
	}
	if c.Crawler.Deadline < 0 {
		return fmt.Errorf("crawler.deadline must be >= 0")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Directory.MaxAttempts < 1 {
		return fmt.Errorf("directory.max_attempts must be >= 1")
	}
	if c.Server.Burst < 0 {
		return fmt.Errorf("server.burst must be >= 0")
	}
	return nil
}

// DirectoryOptions maps the directory section onto directory.Open's config.
func (c *Config) DirectoryOptions() directory.Config {
	return directory.Config{
		Backend: c.Directory.Backend,
		File:    c.Directory.File,
		Postgres: directory.PostgresConfig{
			DSN:   c.Directory.DSN,
			Table: c.Directory.Table,
		},
		Redis: directory.RedisConfig{
			Addr:     c.Directory.RedisAddr,
			Password: c.Directory.RedisPassword,
			DB:       c.Directory.RedisDB,
			Key:      c.Directory.RedisKey,
		},
	}
}
