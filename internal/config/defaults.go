// Package config loads conduit settings from flags, environment and file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/driver"
)

// EnvPrefix is prepended to every environment override, e.g. CONDUIT_DRIVER_TERM_LENGTH.
const EnvPrefix = "CONDUIT"

// DefaultDataDir returns the default data directory (~/.conduit).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit"
	}
	return filepath.Join(home, ".conduit")
}

// Defaults holds the values applied when nothing else sets a key.
var Defaults = struct {
	TermLength            string
	MTU                   string
	ClientLivenessTimeout time.Duration
	IdleSleep             time.Duration
	DriverTimeout         time.Duration
	LogLevel              string
	LogFormat             string
	MetricsAddr           string
	HealthAddr            string
	ServiceName           string
	RecordingBackend      string
	Channel               string
	StreamID              int32
	MessageLength         int
	Rate                  int
	Publishers            int
}{
	TermLength:            "1m",
	MTU:                   "1408",
	ClientLivenessTimeout: driver.DefaultClientLivenessTimeout,
	IdleSleep:             client.DefaultIdleSleep,
	DriverTimeout:         client.DefaultDriverTimeout,
	LogLevel:              "info",
	LogFormat:             "text",
	MetricsAddr:           ":9090",
	HealthAddr:            ":50051",
	ServiceName:           "conduit",
	RecordingBackend:      "memory",
	Channel:               "aeron:ipc",
	StreamID:              1001,
	MessageLength:         32,
	Rate:                  1000,
	Publishers:            1,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("driver.dir", driver.DefaultDir())
	v.SetDefault("driver.term_length", Defaults.TermLength)
	v.SetDefault("driver.mtu", Defaults.MTU)
	v.SetDefault("driver.publication_window", "")
	v.SetDefault("driver.mapped_log_buffers", false)
	v.SetDefault("driver.client_liveness_timeout", Defaults.ClientLivenessTimeout)

	v.SetDefault("client.name", "")
	v.SetDefault("client.use_agent_invoker", false)
	v.SetDefault("client.idle_sleep", Defaults.IdleSleep)
	v.SetDefault("client.driver_timeout", Defaults.DriverTimeout)

	v.SetDefault("observability.log_level", Defaults.LogLevel)
	v.SetDefault("observability.log_format", Defaults.LogFormat)
	v.SetDefault("observability.metrics_addr", Defaults.MetricsAddr)
	v.SetDefault("observability.health_addr", Defaults.HealthAddr)
	v.SetDefault("observability.enable_reflection", false)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", Defaults.ServiceName)
	v.SetDefault("observability.service_version", "dev")

	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.backend", Defaults.RecordingBackend)

	v.SetDefault("stream.channel", Defaults.Channel)
	v.SetDefault("stream.stream_id", Defaults.StreamID)
	v.SetDefault("stream.message_length", Defaults.MessageLength)
	v.SetDefault("stream.rate", Defaults.Rate)
	v.SetDefault("stream.publishers", Defaults.Publishers)
	v.SetDefault("stream.exclusive", false)
	v.SetDefault("stream.filter", "")
}
