package exchange

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// NamespaceConfig names a locally configured namespace.
type NamespaceConfig struct {
	Name string `mapstructure:"name"`
}

// Config is the process-local configuration loaded once at startup.
// Heartbeat's transmit interval is deliberately not part of Config: it is
// consulted live from the Heartbeat collaborator (spec.md §1).
type Config struct {
	PartitionCount        int               `mapstructure:"partition_count"`
	Namespaces            []NamespaceConfig `mapstructure:"namespaces"`
	ListenerCap           int               `mapstructure:"listener_cap"`
	QuantumIntervalMillis int64             `mapstructure:"quantum_interval_millis"`

	// TickInterval overrides the default 75ms timer tick. Zero means use
	// the default; only useful to speed up tests.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		PartitionCount:        4096,
		ListenerCap:           MaxListeners,
		QuantumIntervalMillis: 100,
	}
}

// LoadConfig loads configuration from an optional YAML file at path and
// environment variables prefixed EXCH_, falling back to DefaultConfig.
// Environment variables take precedence over the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCH")
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("partition_count", defaults.PartitionCount)
	v.SetDefault("listener_cap", defaults.ListenerCap)
	v.SetDefault("quantum_interval_millis", defaults.QuantumIntervalMillis)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("exchange: loading config from %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("exchange: parsing config: %w", err)
	}
	if cfg.PartitionCount <= 0 {
		return Config{}, fmt.Errorf("exchange: partition_count must be positive")
	}
	if cfg.ListenerCap <= 0 || cfg.ListenerCap > MaxListeners {
		cfg.ListenerCap = MaxListeners
	}
	return cfg, nil
}
