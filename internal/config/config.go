package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty or "off" disables gRPC

	Env string `yaml:"env"` // "dev" | "prod"

	// Store
	StoreDriver      string `yaml:"store"`   // "sqlite" | "postgres" | "memory"
	DBPath           string `yaml:"db_path"` // e.g. "./data/gateman.db"
	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`

	// RedisURL enables cross-node change notifications. Empty keeps them
	// in-process.
	RedisURL string `yaml:"redis_url"`

	AdmitTimeout      time.Duration `yaml:"admit_timeout"`
	StatsPollInterval time.Duration `yaml:"stats_poll_interval"`

	CodeLength  int `yaml:"code_length"`
	CodeRetries int `yaml:"code_retries"`

	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		GRPCAddr:          ":9090",
		Env:               "dev",
		StoreDriver:       "sqlite",
		DBPath:            "./data/gateman.db",
		PostgresMaxConns:  20,
		AdmitTimeout:      3 * time.Second,
		StatsPollInterval: 5 * time.Second,
		CodeLength:        12,
		CodeRetries:       5,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from, lowest precedence first: defaults,
// the YAML file named by --config or GATEMAN_CONFIG, GATEMAN_* environment
// variables, and command-line flags. args excludes the program name.
func Load(args []string) (Config, error) {
	cfg := Default()

	var flags Config
	fs := pflag.NewFlagSet("gateman-server", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("GATEMAN_CONFIG"), "path to a YAML config file")
	fs.StringVar(&flags.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&flags.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address (empty disables)")
	fs.StringVar(&flags.Env, "env", cfg.Env, "environment: dev or prod")
	fs.StringVar(&flags.StoreDriver, "store", cfg.StoreDriver, "store backend: sqlite, postgres or memory")
	fs.StringVar(&flags.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&flags.PostgresDSN, "postgres-dsn", "", "Postgres connection string")
	fs.IntVar(&flags.PostgresMaxConns, "postgres-max-conns", cfg.PostgresMaxConns, "Postgres pool size")
	fs.StringVar(&flags.RedisURL, "redis-url", "", "Redis URL for change notifications")
	fs.DurationVar(&flags.AdmitTimeout, "admit-timeout", cfg.AdmitTimeout, "upper bound on one admission")
	fs.DurationVar(&flags.StatsPollInterval, "stats-poll-interval", cfg.StatsPollInterval, "stats stream poll interval")
	fs.IntVar(&flags.CodeLength, "code-length", cfg.CodeLength, "ticket code length")
	fs.IntVar(&flags.CodeRetries, "code-retries", cfg.CodeRetries, "regenerations allowed per colliding code")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&flags.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", *configPath, err)
		}
	}
	cfg.applyEnv()

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "http-addr":
			cfg.HTTPAddr = flags.HTTPAddr
		case "grpc-addr":
			cfg.GRPCAddr = flags.GRPCAddr
		case "env":
			cfg.Env = flags.Env
		case "store":
			cfg.StoreDriver = flags.StoreDriver
		case "db-path":
			cfg.DBPath = flags.DBPath
		case "postgres-dsn":
			cfg.PostgresDSN = flags.PostgresDSN
		case "postgres-max-conns":
			cfg.PostgresMaxConns = flags.PostgresMaxConns
		case "redis-url":
			cfg.RedisURL = flags.RedisURL
		case "admit-timeout":
			cfg.AdmitTimeout = flags.AdmitTimeout
		case "stats-poll-interval":
			cfg.StatsPollInterval = flags.StatsPollInterval
		case "code-length":
			cfg.CodeLength = flags.CodeLength
		case "code-retries":
			cfg.CodeRetries = flags.CodeRetries
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "log-format":
			cfg.LogFormat = flags.LogFormat
		}
	})

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("GATEMAN_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("GATEMAN_GRPC_ADDR", c.GRPCAddr)
	c.Env = getenvDefault("GATEMAN_ENV", c.Env)
	c.StoreDriver = getenvDefault("GATEMAN_STORE", c.StoreDriver)
	c.DBPath = getenvDefault("GATEMAN_DB_PATH", c.DBPath)
	c.PostgresDSN = getenvDefault("GATEMAN_POSTGRES_DSN", c.PostgresDSN)
	c.PostgresMaxConns = getenvInt("GATEMAN_POSTGRES_MAX_CONNS", c.PostgresMaxConns)
	c.RedisURL = getenvDefault("GATEMAN_REDIS_URL", c.RedisURL)
	c.AdmitTimeout = getenvDuration("GATEMAN_ADMIT_TIMEOUT", c.AdmitTimeout)
	c.StatsPollInterval = getenvDuration("GATEMAN_STATS_POLL_INTERVAL", c.StatsPollInterval)
	c.CodeLength = getenvInt("GATEMAN_CODE_LENGTH", c.CodeLength)
	c.CodeRetries = getenvInt("GATEMAN_CODE_RETRIES", c.CodeRetries)
	c.LogLevel = getenvDefault("GATEMAN_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenvDefault("GATEMAN_LOG_FORMAT", c.LogFormat)
}

var (
	ErrUnknownStore = errors.New("store must be sqlite, postgres or memory")
	ErrMissingDSN   = errors.New("postgres store requires a DSN")
)

func (c *Config) normalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.StoreDriver)
	}

	if strings.EqualFold(strings.TrimSpace(c.GRPCAddr), "off") {
		c.GRPCAddr = ""
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat != "json" {
		c.LogFormat = "text"
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
