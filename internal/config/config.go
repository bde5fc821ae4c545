// Package config loads daemon configuration from defaults, an optional
// YAML file, and VORTEX_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written in the
// human form ("5s", "300ms") or as raw nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ExecutorConfig holds execution-plane settings.
type ExecutorConfig struct {
	// MaxConcurrentExecutions is the worker pool capacity.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`
	// DefaultExecutionTimeout bounds each invocation.
	DefaultExecutionTimeout Duration `yaml:"default_execution_timeout"`
	// SubscribeGracePeriod keeps a topic subscribable after execution end.
	SubscribeGracePeriod Duration `yaml:"subscribe_grace_period"`
	// RuntimeMode selects the sandbox realization: "inprocess" or "process".
	RuntimeMode string `yaml:"runtime_mode"`
	// RuntimeBinaryPath locates the vortex-runtime binary (process mode).
	RuntimeBinaryPath string `yaml:"runtime_binary_path"`
}

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	// Backend: "fs" (default) or "s3".
	Backend string `yaml:"backend"`
	// Dir is the filesystem root (fs backend).
	Dir string `yaml:"dir"`
	// S3 settings (s3 backend).
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
}

// RedisConfig configures the optional Redis integrations: the source
// cache and the cross-node event bus broker.
type RedisConfig struct {
	// Addr enables Redis when non-empty (host:port).
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// CacheSource enables the read-through source cache.
	CacheSource bool `yaml:"cache_source"`
	// BusBroker routes the event bus through Redis Pub/Sub.
	BusBroker bool `yaml:"bus_broker"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	// RequestLogFile appends per-execution JSON records when set.
	RequestLogFile string `yaml:"request_log_file"`
}

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Executor ExecutorConfig `yaml:"executor"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Executor: ExecutorConfig{
			MaxConcurrentExecutions: 10,
			DefaultExecutionTimeout: Duration(5 * time.Second),
			SubscribeGracePeriod:    Duration(300 * time.Millisecond),
			RuntimeMode:             "inprocess",
		},
		Storage: StorageConfig{
			Backend: "fs",
			Dir:     "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile overlays the YAML file at path onto cfg.
func LoadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// LoadFromEnv overlays VORTEX_* environment variables onto cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VORTEX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VORTEX_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Executor.MaxConcurrentExecutions = n
		}
	}
	if v := os.Getenv("VORTEX_DEFAULT_EXECUTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Executor.DefaultExecutionTimeout = Duration(d)
		}
	}
	if v := os.Getenv("VORTEX_SUBSCRIBE_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Executor.SubscribeGracePeriod = Duration(d)
		}
	}
	if v := os.Getenv("VORTEX_RUNTIME_MODE"); v != "" {
		cfg.Executor.RuntimeMode = v
	}
	if v := os.Getenv("VORTEX_RUNTIME_BINARY"); v != "" {
		cfg.Executor.RuntimeBinaryPath = v
	}
	if v := os.Getenv("VORTEX_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("VORTEX_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("VORTEX_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("VORTEX_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = v
	}
	if v := os.Getenv("VORTEX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VORTEX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VORTEX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Executor.RuntimeMode {
	case "", "inprocess", "process":
	default:
		return fmt.Errorf("unknown runtime_mode %q", c.Executor.RuntimeMode)
	}
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("storage backend s3 requires s3_bucket")
	}
	if c.Executor.RuntimeMode == "process" && c.Executor.RuntimeBinaryPath == "" {
		return fmt.Errorf("runtime_mode process requires runtime_binary_path")
	}
	if c.Redis.Addr == "" && (c.Redis.CacheSource || c.Redis.BusBroker) {
		return fmt.Errorf("redis integrations require redis.addr")
	}
	return nil
}
