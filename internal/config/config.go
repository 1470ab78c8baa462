package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/pkg/driver"
)

type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Driver        DriverConfig        `mapstructure:"driver"`
	Client        ClientConfig        `mapstructure:"client"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	Stream        StreamConfig        `mapstructure:"stream"`
}

// DriverConfig sizes the embedded engine. Lengths accept k, m and g suffixes.
type DriverConfig struct {
	Dir                   string        `mapstructure:"dir"`
	TermLength            string        `mapstructure:"term_length"`
	MTU                   string        `mapstructure:"mtu"`
	PublicationWindow     string        `mapstructure:"publication_window"`
	MappedLogBuffers      bool          `mapstructure:"mapped_log_buffers"`
	ClientLivenessTimeout time.Duration `mapstructure:"client_liveness_timeout"`
}

type ClientConfig struct {
	Name            string        `mapstructure:"name"`
	UseAgentInvoker bool          `mapstructure:"use_agent_invoker"`
	IdleSleep       time.Duration `mapstructure:"idle_sleep"`
	DriverTimeout   time.Duration `mapstructure:"driver_timeout"`
}

type ObservabilityConfig struct {
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
	HealthAddr       string `mapstructure:"health_addr"`
	EnableReflection bool   `mapstructure:"enable_reflection"`
	OTLPEndpoint     string `mapstructure:"otlp_endpoint"`
	OTLPProtocol     string `mapstructure:"otlp_protocol"`
	ServiceName      string `mapstructure:"service_name"`
	ServiceVersion   string `mapstructure:"service_version"`
}

type RecordingConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

// StreamConfig describes the traffic generated by conduit run and ping.
type StreamConfig struct {
	Channel       string `mapstructure:"channel"`
	StreamID      int32  `mapstructure:"stream_id"`
	MessageLength int    `mapstructure:"message_length"`
	Rate          int    `mapstructure:"rate"`
	Publishers    int    `mapstructure:"publishers"`
	Exclusive     bool   `mapstructure:"exclusive"`
	Filter        string `mapstructure:"filter"`
}

// Load reads config from flags, env, and file, returning the merged Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("conduit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.conduit")
		v.AddConfigPath("/etc/conduit")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// size parses an optional length setting, where empty means zero.
func size(key, s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := driver.ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
