package config

import (
	"fmt"
	"os"
	"time"

	"github.com/STRATINT/streamdump/internal/fanout"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config with string durations for YAML files.
type yamlConfig struct {
	URL              string     `yaml:"url"`
	Output           string     `yaml:"output"`
	Replicas         int        `yaml:"replicas"`
	Policy           string     `yaml:"policy"`
	BufferSize       int        `yaml:"buffer_size"`
	ConnectRate      float64    `yaml:"connect_rate"`
	ProgressInterval string     `yaml:"progress_interval"`
	MetricsAddr      string     `yaml:"metrics_addr"`
	DatabaseURL      string     `yaml:"database_url"`
	CredentialsFile  string     `yaml:"credentials_file"`
	Log              yamlLogCfg `yaml:"log"`
}

type yamlLogCfg struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFromFile reads a YAML run file. Fields absent from the file are left at
// their zero value so the result can be passed to Merge.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Config{
		Stream: StreamConfig{
			URL:         yc.URL,
			Replicas:    yc.Replicas,
			BufferSize:  yc.BufferSize,
			ConnectRate: yc.ConnectRate,
		},
		Output:          OutputConfig{Dir: yc.Output},
		Metrics:         MetricsConfig{Addr: yc.MetricsAddr},
		Database:        DatabaseConfig{URL: yc.DatabaseURL},
		CredentialsFile: yc.CredentialsFile,
		Logging:         LoggingConfig{Format: yc.Log.Format},
	}

	if yc.Replicas < 0 {
		return Config{}, fmt.Errorf("parse replicas: must be positive")
	}
	if yc.Policy != "" {
		if _, err := fanout.ParsePolicy(yc.Policy); err != nil {
			return Config{}, fmt.Errorf("parse policy: %w", err)
		}
		cfg.Stream.Policy = yc.Policy
	}
	if yc.ProgressInterval != "" {
		d, err := time.ParseDuration(yc.ProgressInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse progress_interval: %w", err)
		}
		cfg.Stream.ProgressInterval = d
	}
	if yc.Log.Level != "" {
		level, err := parseLogLevel(yc.Log.Level)
		if err != nil {
			return Config{}, fmt.Errorf("parse log.level: %w", err)
		}
		cfg.Logging.Level = level
		cfg.Logging.levelSet = true
	}
	switch yc.Log.Format {
	case "", "json", "text":
	default:
		return Config{}, fmt.Errorf("parse log.format: must be 'json' or 'text'")
	}

	return cfg, nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Stream.URL != "" {
		c.Stream.URL = override.Stream.URL
	}
	if override.Stream.Replicas != 0 {
		c.Stream.Replicas = override.Stream.Replicas
	}
	if override.Stream.Policy != "" {
		c.Stream.Policy = override.Stream.Policy
	}
	if override.Stream.BufferSize != 0 {
		c.Stream.BufferSize = override.Stream.BufferSize
	}
	if override.Stream.ConnectRate != 0 {
		c.Stream.ConnectRate = override.Stream.ConnectRate
	}
	if override.Stream.ProgressInterval != 0 {
		c.Stream.ProgressInterval = override.Stream.ProgressInterval
	}
	if override.Output.Dir != "" {
		c.Output.Dir = override.Output.Dir
	}
	if override.Metrics.Addr != "" {
		c.Metrics.Addr = override.Metrics.Addr
	}
	if override.Database.URL != "" {
		c.Database.URL = override.Database.URL
	}
	if override.Database.Retention != 0 {
		c.Database.Retention = override.Database.Retention
	}
	if override.CredentialsFile != "" {
		c.CredentialsFile = override.CredentialsFile
	}
	if override.Logging.Format != "" {
		c.Logging.Format = override.Logging.Format
	}
	if override.Logging.levelSet {
		c.Logging.Level = override.Logging.Level
	}
	return c
}
