package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host      HostConfig      `yaml:"host"`
	Registry  RegistryConfig  `yaml:"registry"`
	Correlate CorrelateConfig `yaml:"correlate"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Store     StoreConfig     `yaml:"store"`
	Sink      SinkConfig      `yaml:"sink"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HostConfig names the MCP host process whose servers are monitored.
type HostConfig struct {
	// Name is matched against command lines when no registry entry or
	// ancestor tag applies, e.g. "claude" or "cursor".
	Name string `yaml:"name"`
}

type RegistryConfig struct {
	// Paths lists server-manifest JSON files, merged in order.
	Paths []string `yaml:"paths"`
	// Watch enables hot reload on manifest changes.
	Watch bool `yaml:"watch"`
	// DebounceMS coalesces bursts of file-change notifications.
	DebounceMS int `yaml:"debounce_ms"`
}

type CorrelateConfig struct {
	// MaxDepth is the inheritance depth granted to a freshly tagged
	// process; descendants decrement it per generation.
	MaxDepth int `yaml:"max_depth"`
}

type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// SemanticTimeout bounds one tool-poisoning evaluation, e.g. "30s".
	SemanticTimeout string `yaml:"semantic_timeout"`
	// SemanticCacheSize bounds the (spec, args) score cache.
	SemanticCacheSize int `yaml:"semantic_cache_size"`
}

type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type SinkConfig struct {
	// Target is the address of the external notification sink; empty
	// disables the envelope stream.
	Target    string `yaml:"target"`
	QueueSize int    `yaml:"queue_size"`
	// OnFailure is "buffer" (block producers) or "drop".
	OnFailure string `yaml:"on_failure"`
	// RetryBudget bounds per-envelope redelivery, e.g. "30s".
	RetryBudget string `yaml:"retry_budget"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(b)
}

func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Registry.DebounceMS <= 0 {
		cfg.Registry.DebounceMS = 250
	}
	if cfg.Correlate.MaxDepth <= 0 {
		cfg.Correlate.MaxDepth = 3
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = 1024
	}
	if cfg.Pipeline.SemanticTimeout == "" {
		cfg.Pipeline.SemanticTimeout = "30s"
	}
	if cfg.Pipeline.SemanticCacheSize <= 0 {
		cfg.Pipeline.SemanticCacheSize = 512
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "/var/lib/mcpwatch/mcpwatch.db"
	}
	if cfg.Sink.QueueSize <= 0 {
		cfg.Sink.QueueSize = 1024
	}
	if cfg.Sink.OnFailure == "" {
		cfg.Sink.OnFailure = "buffer"
	}
	if cfg.Sink.RetryBudget == "" {
		cfg.Sink.RetryBudget = "30s"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = "127.0.0.1:8642"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Sink.OnFailure {
	case "buffer", "drop":
	default:
		return fmt.Errorf("sink.on_failure must be \"buffer\" or \"drop\", got %q", cfg.Sink.OnFailure)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", cfg.Logging.Format)
	}
	if cfg.Correlate.MaxDepth > 64 {
		return fmt.Errorf("correlate.max_depth %d exceeds limit 64", cfg.Correlate.MaxDepth)
	}
	return nil
}
