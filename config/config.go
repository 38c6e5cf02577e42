// Package config loads volcache settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/IvanBrykalov/volcache/scheduler"
	"github.com/IvanBrykalov/volcache/volume"
)

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Streaming StreamingConfig `yaml:"streaming"`
	Cache     CacheConfig     `yaml:"cache"`
	Source    SourceConfig    `yaml:"source"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SchedulerConfig sizes the request scheduler.
type SchedulerConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Debounce    time.Duration `yaml:"debounce"`
	// Categories overrides the scan order; empty keeps the built-ins.
	Categories []string `yaml:"categories,omitempty"`
}

// StreamingConfig tunes volume loads.
type StreamingConfig struct {
	// Order is sequential, center_out or interleaved.
	Order           string `yaml:"order"`
	InterleaveStep  int    `yaml:"interleave_step"`
	ProgressRate    int    `yaml:"progress_rate"`
	DefaultCategory string `yaml:"default_category"`
}

// CacheConfig bounds the entry registry. Zero budgets mean explicit
// removal only.
type CacheConfig struct {
	MaxBytes   int64 `yaml:"max_bytes"`
	MaxEntries int   `yaml:"max_entries"`
	Shards     int   `yaml:"shards"`
}

// SourceConfig selects the frame transport.
type SourceConfig struct {
	// Kind is file, s3 or synthetic.
	Kind string `yaml:"kind"`

	Dir string `yaml:"dir"`
	Ext string `yaml:"ext"`

	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	Latency  time.Duration `yaml:"latency"`
	Jitter   time.Duration `yaml:"jitter"`
	FailRate float64       `yaml:"fail_rate"`
}

// LoggingConfig configures the logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{MaxRequests: scheduler.DefaultMaxRequests},
		Streaming: StreamingConfig{
			Order:           "center_out",
			InterleaveStep:  4,
			ProgressRate:    volume.DefaultProgressRate,
			DefaultCategory: string(scheduler.Prefetch),
		},
		Source:  SourceConfig{Kind: "synthetic", Latency: 5 * time.Millisecond},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "volcache"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromEnv applies VOLCACHE_* overrides.
func (c *Config) LoadFromEnv() error {
	if val := os.Getenv("VOLCACHE_MAX_REQUESTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("VOLCACHE_MAX_REQUESTS: %w", err)
		}
		c.Scheduler.MaxRequests = n
	}
	if val := os.Getenv("VOLCACHE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("VOLCACHE_SOURCE"); val != "" {
		c.Source.Kind = val
	}
	if val := os.Getenv("VOLCACHE_S3_ENDPOINT"); val != "" {
		c.Source.Endpoint = val
	}
	if val := os.Getenv("VOLCACHE_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Scheduler.MaxRequests <= 0 {
		return fmt.Errorf("scheduler.max_requests must be greater than 0")
	}
	if c.Scheduler.Debounce < 0 {
		return fmt.Errorf("scheduler.debounce must not be negative")
	}
	if _, err := c.Order(); err != nil {
		return err
	}
	if !c.hasCategory(c.Streaming.DefaultCategory) {
		return fmt.Errorf("streaming.default_category %q is not a scheduler category", c.Streaming.DefaultCategory)
	}
	if c.Cache.MaxBytes < 0 || c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache budgets must not be negative")
	}
	switch c.Source.Kind {
	case "synthetic":
		if c.Source.FailRate < 0 || c.Source.FailRate > 1 {
			return fmt.Errorf("source.fail_rate must be within [0, 1]")
		}
	case "file":
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for the file source")
		}
	case "s3":
		if c.Source.Bucket == "" {
			return fmt.Errorf("source.bucket is required for the s3 source")
		}
	default:
		return fmt.Errorf("invalid source.kind: %s (must be one of: file, s3, synthetic)", c.Source.Kind)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be text or json)", c.Logging.Format)
	}
	return nil
}

// Categories returns the scheduler scan order.
func (c *Config) Categories() []scheduler.Category {
	if len(c.Scheduler.Categories) == 0 {
		return scheduler.DefaultCategories
	}
	out := make([]scheduler.Category, len(c.Scheduler.Categories))
	for i, name := range c.Scheduler.Categories {
		out[i] = scheduler.Category(name)
	}
	return out
}

func (c *Config) hasCategory(name string) bool {
	for _, cat := range c.Categories() {
		if string(cat) == name {
			return true
		}
	}
	return false
}

// Order maps streaming.order to a dispatch order.
func (c *Config) Order() (volume.Order, error) {
	switch strings.ToLower(c.Streaming.Order) {
	case "", "center_out":
		return volume.CenterOut, nil
	case "sequential":
		return volume.Sequential, nil
	case "interleaved":
		return volume.Interleaved{Step: c.Streaming.InterleaveStep}, nil
	default:
		return nil, fmt.Errorf("invalid streaming.order: %s (must be one of: sequential, center_out, interleaved)", c.Streaming.Order)
	}
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (logrus.Level, error) {
	if c.Logging.Level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return 0, fmt.Errorf("invalid logging.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds a logrus logger from the logging section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	lvl, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	if c.Logging.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
