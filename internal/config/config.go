package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	RemoteHost    string `envconfig:"REMOTE_HOST" required:"true"`
	RemoteAuthKey string `envconfig:"REMOTE_AUTH_KEY" required:"true"`

	TempDir    string `envconfig:"TEMP_DIR" required:"true"`
	StorageDir string `envconfig:"STORAGE_DIR" required:"true"`

	SyncInterval   time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
	ChunkSize      int64         `envconfig:"CHUNK_SIZE" default:"32768"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"30"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`
	StallTimeout   time.Duration `envconfig:"STALL_TIMEOUT" default:"5m"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"1"`
	KeepPartialFor time.Duration `envconfig:"KEEP_PARTIAL_FOR" default:"72h"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string `envconfig:"DB_PATH" default:"puttr.db"`

	TelemetryEnabled        bool          `envconfig:"TELEMETRY_ENABLED" default:"true"`
	TelemetryServiceName    string        `envconfig:"TELEMETRY_SERVICE_NAME" default:"puttr"`
	TelemetryExportInterval time.Duration `envconfig:"TELEMETRY_EXPORT_INTERVAL" default:"30s"`
	OTLPEndpoint            string        `envconfig:"OTLP_ENDPOINT"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate rejects values the sync loop cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}

	if c.ChunkSize < 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must not be negative"))
	}

	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}

	if c.MaxParallel < 1 {
		errs = append(errs, errors.New("MAX_PARALLEL must be at least 1"))
	}

	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("RETRY_BACKOFF must not be negative"))
	}

	if filepath.Clean(c.TempDir) == filepath.Clean(c.StorageDir) {
		errs = append(errs, errors.New("TEMP_DIR and STORAGE_DIR must differ"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
