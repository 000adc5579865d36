package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "ANNOTATION_SEARCH"

// Config validation errors
var (
	ErrInvalidDataDir         = errors.New("data_dir cannot be empty")
	ErrInvalidIndexAlias      = errors.New("index_alias cannot be empty")
	ErrInvalidListenAddr      = errors.New("listen_addr cannot be empty")
	ErrInvalidWorkers         = errors.New("workers must be positive")
	ErrInvalidMaxTaskAttempts = errors.New("max_task_attempts must be positive")
	ErrInvalidBulkBatchSize   = errors.New("bulk_batch_size must be positive")
	ErrInvalidBulkMaxAttempts = errors.New("bulk_max_attempts must be positive")
	ErrInvalidLogFormat       = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel        = errors.New("log_level must be debug, info, warn, or error")
)

// Config holds the service configuration
type Config struct {
	DataDir    string `envconfig:"DATA_DIR" default:"./data"`
	IndexAlias string `envconfig:"INDEX_ALIAS" default:"annotations"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"localhost:6893"`

	Workers         int           `envconfig:"WORKERS" default:"4"`
	MaxTaskAttempts int           `envconfig:"MAX_TASK_ATTEMPTS" default:"5"`
	TaskRetryDelay  time.Duration `envconfig:"TASK_RETRY_DELAY" default:"1s"`

	BulkBatchSize   int           `envconfig:"BULK_BATCH_SIZE" default:"100"`
	BulkMaxAttempts int           `envconfig:"BULK_MAX_ATTEMPTS" default:"3"`
	BulkRetryDelay  time.Duration `envconfig:"BULK_RETRY_DELAY" default:"200ms"`

	// RetryFailedBulk schedules a single-document index task for every id
	// the bulk indexer gave up on. Off by default: failed ids are only logged.
	RetryFailedBulk bool `envconfig:"RETRY_FAILED_BULK" default:"false"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file, then the environment, then validates
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with default values
func Default() Config {
	return Config{
		DataDir:         "./data",
		IndexAlias:      "annotations",
		ListenAddr:      "localhost:6893",
		Workers:         4,
		MaxTaskAttempts: 5,
		TaskRetryDelay:  time.Second,
		BulkBatchSize:   100,
		BulkMaxAttempts: 3,
		BulkRetryDelay:  200 * time.Millisecond,
		LogFormat:       "json",
		LogLevel:        "info",
	}
}

// Validate validates the configuration and returns an error if invalid
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return ErrInvalidDataDir
	}
	if cfg.IndexAlias == "" {
		return ErrInvalidIndexAlias
	}
	if cfg.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if cfg.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if cfg.MaxTaskAttempts <= 0 {
		return ErrInvalidMaxTaskAttempts
	}
	if cfg.BulkBatchSize <= 0 {
		return ErrInvalidBulkBatchSize
	}
	if cfg.BulkMaxAttempts <= 0 {
		return ErrInvalidBulkMaxAttempts
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	return nil
}

// DBPath is the SQLite database file inside DataDir
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "annotations.db")
}

// IndexDir is the directory holding every Bleve index
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "bleve")
}
