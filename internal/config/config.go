package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file. Secrets such as the DSN
// usually live in .env rather than in pingsweep.yaml.
const (
	EnvDSN  = "PINGSWEEP_DSN"
	EnvCIDR = "PINGSWEEP_CIDR"
)

type Config struct {
	Scan          Scan     `yaml:"scan"`
	Database      Database `yaml:"database"`
	Log           Log      `yaml:"log"`
	Progress      string   `yaml:"progress"`
	ProgressEvery int      `yaml:"progress_every"`
	Webhook       string   `yaml:"webhook"`
}

type Scan struct {
	CIDR                 string        `yaml:"cidr"`
	Workers              int           `yaml:"workers"`
	Timeout              time.Duration `yaml:"timeout"`
	Grace                time.Duration `yaml:"grace"`
	PingBinary           string        `yaml:"ping_binary"`
	SkipNetworkBroadcast bool          `yaml:"skip_network_broadcast"`
}

type Database struct {
	DSN           string        `yaml:"dsn"`
	MaxConns      int32         `yaml:"max_conns"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	Migrate       bool          `yaml:"migrate"`
	RetentionDays int           `yaml:"retention_days"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Progress reporter kinds.
const (
	ProgressLog  = "log"
	ProgressBar  = "bar"
	ProgressNone = "none"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Scan: Scan{
			CIDR:       "192.168.137.0/24",
			Workers:    50,
			Timeout:    3 * time.Second,
			Grace:      time.Second,
			PingBinary: "ping",
		},
		Database: Database{
			MaxConns:     4,
			WriteTimeout: 5 * time.Second,
			Migrate:      true,
		},
		Log: Log{
			Level:      "info",
			Format:     "text",
			File:       "network_discovery.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Progress:      ProgressLog,
		ProgressEvery: 10,
	}
}

// Load reads a pingsweep.yaml file over the defaults, then applies .env and
// environment overrides. A missing file is fine when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvCIDR); v != "" {
		c.Scan.CIDR = v
	}
}

// Validate checks the values a scan cannot run without. The CIDR itself is
// validated by netrange.Parse.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Scan.CIDR) == "" {
		return fmt.Errorf("config: scan.cidr is required")
	}
	if c.Scan.Workers <= 0 {
		return fmt.Errorf("config: scan.workers must be positive, got %d", c.Scan.Workers)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("config: scan.timeout must be positive")
	}
	if c.Scan.Grace < 0 {
		return fmt.Errorf("config: scan.grace cannot be negative")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required (or set %s)", EnvDSN)
	}
	if !strings.HasPrefix(c.Database.DSN, "postgres://") && !strings.HasPrefix(c.Database.DSN, "postgresql://") {
		return fmt.Errorf("config: database.dsn must be a postgres:// URL")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("config: database.max_conns must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("config: database.write_timeout must be positive")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("config: database.retention_days cannot be negative")
	}
	switch c.Progress {
	case ProgressLog, ProgressBar, ProgressNone:
	default:
		return fmt.Errorf("config: progress must be one of log, bar, none; got %q", c.Progress)
	}
	if c.Progress == ProgressLog && c.ProgressEvery <= 0 {
		return fmt.Errorf("config: progress_every must be positive")
	}
	return nil
}
