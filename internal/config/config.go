package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/STRATINT/streamdump/internal/fanout"
)

// Failure policy names accepted by fanout.ParsePolicy.
const (
	PolicyCollect  = "collect"
	PolicyFailFast = "fail-fast"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Stream   StreamConfig
	Output   OutputConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Database DatabaseConfig
	// CredentialsFile optionally points at a YAML file with OAuth credentials.
	CredentialsFile string
}

// StreamConfig controls how replicas connect and copy.
type StreamConfig struct {
	URL              string
	Replicas         int
	Policy           string
	BufferSize       int
	ConnectRate      float64
	ProgressInterval time.Duration
}

// OutputConfig selects where stream_<i>.dat outputs are written. Dir is a
// local directory or a bucket URL.
type OutputConfig struct {
	Dir string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string

	// levelSet distinguishes an explicit "info" from an unset level when
	// merging files.
	levelSet bool
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// DatabaseConfig controls the optional replica run ledger. An empty URL
// disables it.
type DatabaseConfig struct {
	URL       string
	Retention time.Duration
}

const (
	defaultStreamURL        = "https://userstream.twitter.com/1.1/user.json"
	defaultReplicas         = 2
	defaultPolicy           = PolicyCollect
	defaultBufferSize       = 32 * 1024
	defaultProgressInterval = 30 * time.Second
	defaultOutputDir        = "target"
	defaultRetention        = 30 * 24 * time.Hour

	defaultLogFormat = "json"
)

// Default returns a Config populated with defaults only.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			URL:              defaultStreamURL,
			Replicas:         defaultReplicas,
			Policy:           defaultPolicy,
			BufferSize:       defaultBufferSize,
			ProgressInterval: defaultProgressInterval,
		},
		Output: OutputConfig{
			Dir: defaultOutputDir,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			Retention: defaultRetention,
		},
	}
}

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	cfg := Default()

	cfg.Stream.URL = getEnv("STREAM_URL", cfg.Stream.URL)
	cfg.Output.Dir = getEnv("OUTPUT_DIR", cfg.Output.Dir)
	cfg.Metrics.Addr = getEnv("METRICS_ADDR", "")
	cfg.Database.URL = getEnv("DATABASE_URL", "")
	cfg.CredentialsFile = getEnv("CREDENTIALS_FILE", "")

	if v := os.Getenv("REPLICAS"); v != "" {
		n, err := ParseReplicas(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REPLICAS: %w", err)
		}
		cfg.Stream.Replicas = n
	}

	if v := os.Getenv("FAILURE_POLICY"); v != "" {
		if _, err := fanout.ParsePolicy(v); err != nil {
			return Config{}, fmt.Errorf("invalid FAILURE_POLICY: %w", err)
		}
		cfg.Stream.Policy = v
	}

	if v := os.Getenv("COPY_BUFFER_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid COPY_BUFFER_BYTES: must be a positive integer")
		}
		cfg.Stream.BufferSize = n
	}

	if v := os.Getenv("CONNECT_RATE_PER_SECOND"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 {
			return Config{}, fmt.Errorf("invalid CONNECT_RATE_PER_SECOND: must be a non-negative number")
		}
		cfg.Stream.ConnectRate = rate
	}

	if v := os.Getenv("PROGRESS_INTERVAL_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PROGRESS_INTERVAL_SECONDS: %w", err)
		}
		cfg.Stream.ProgressInterval = d
	}

	if v := os.Getenv("RUN_LOG_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Config{}, fmt.Errorf("invalid RUN_LOG_RETENTION_DAYS: must be a non-negative integer")
		}
		cfg.Database.Retention = time.Duration(days) * 24 * time.Hour
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// Validate checks the values that Load cannot check on its own, such as those
// merged in from a file or flags.
func (c Config) Validate() error {
	if c.Stream.URL == "" {
		return errors.New("config: stream URL is required")
	}
	if c.Stream.Replicas <= 0 {
		return errors.New("config: replicas must be positive")
	}
	if _, err := fanout.ParsePolicy(c.Stream.Policy); err != nil {
		return fmt.Errorf("config: policy: %w", err)
	}
	if c.Stream.BufferSize <= 0 {
		return errors.New("config: buffer size must be positive")
	}
	if c.Stream.ConnectRate < 0 {
		return errors.New("config: connect rate must not be negative")
	}
	if c.Output.Dir == "" {
		return errors.New("config: output is required")
	}
	return nil
}

// ParseReplicas parses a positive decimal replica count.
func ParseReplicas(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("replica count %q is not a decimal integer", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("replica count must be positive, got %d", n)
	}
	return n, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
