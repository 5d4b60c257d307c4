package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the engine's runtime configuration, loaded from xpouch.yaml and
// XPOUCH_* environment overrides.
type Config struct {
	// ServerBaseURL is where snapshots and progress streams are fetched from.
	ServerBaseURL string `mapstructure:"server_base_url"`
	// RestoreDebounce is the minimum gap between restoration attempts.
	RestoreDebounce time.Duration `mapstructure:"restore_debounce"`
	// RestoreEnabled toggles the restoration controller.
	RestoreEnabled bool `mapstructure:"restore_enabled"`
	// MirrorSize bounds the first-paint mirror (conversations).
	MirrorSize int `mapstructure:"mirror_size"`
	// StreamBackoff is the reconnect delay for dropped progress streams.
	StreamBackoff time.Duration `mapstructure:"stream_backoff"`
	// MetricsNamespace prefixes the exported Prometheus metrics.
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	DevServer DevServerConfig `mapstructure:"dev_server"`
}

// DevServerConfig configures the local mock backend.
type DevServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
	Debug      bool   `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_base_url", "http://localhost:8098")
	v.SetDefault("restore_debounce", 5*time.Second)
	v.SetDefault("restore_enabled", true)
	v.SetDefault("mirror_size", 32)
	v.SetDefault("stream_backoff", time.Second)
	v.SetDefault("metrics_namespace", "task_session")
	v.SetDefault("dev_server.host", "localhost")
	v.SetDefault("dev_server.port", 8098)
	v.SetDefault("dev_server.enable_cors", true)
	v.SetDefault("dev_server.debug", false)
}

// Load reads configuration from the usual locations. A missing config file is
// not an error; defaults and environment variables still apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("xpouch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/xpouch")
	return load(v)
}

// LoadFile reads configuration from an explicit path, for tests and the
// --config flag.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("XPOUCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.RestoreDebounce <= 0 {
		return nil, fmt.Errorf("config: restore_debounce must be positive, got %s", cfg.RestoreDebounce)
	}
	return &cfg, nil
}
