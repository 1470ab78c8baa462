package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/driver"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// BindCommonFlags binds the flags every conduit command accepts.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.conduit)")
	f.String("dir", "", "driver directory")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("driver.dir", f.Lookup("dir"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// BindStreamFlags binds the traffic and engine flags used by run, ping and
// top. It defines the flags on first use; later calls only rebind them, which
// commands do in PreRunE because viper keeps one flag per key and several
// commands share a viper.
func BindStreamFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	if f.Lookup("channel") == nil {
		f.String("channel", "", "channel URI")
		f.Int32("stream-id", 0, "stream id")
		f.Int("message-length", 0, "message payload length in bytes")
		f.Int("rate", 0, "messages per second per publisher (0 = unbounded)")
		f.Int("publishers", 0, "number of publications")
		f.Bool("exclusive", false, "use exclusive publications")
		f.String("filter", "", "CEL expression over fragment headers")
		f.String("term-length", "", "term buffer length (e.g. 64k, 1m)")
		f.String("mtu", "", "maximum frame length")
		f.Bool("mmap", false, "back log buffers with mapped files")
		f.Bool("invoker", false, "run driver housekeeping from client DoWork")
		f.String("metrics-addr", "", "metrics HTTP listen address")
		f.String("health-addr", "", "gRPC health listen address")
		f.Bool("reflection", false, "enable gRPC reflection on the health server")
		f.Bool("record", false, "persist received fragments")
		f.String("recording-backend", "", "recording backend (memory, badger, sqlite, redis, s3)")
	}

	_ = v.BindPFlag("stream.channel", f.Lookup("channel"))
	_ = v.BindPFlag("stream.stream_id", f.Lookup("stream-id"))
	_ = v.BindPFlag("stream.message_length", f.Lookup("message-length"))
	_ = v.BindPFlag("stream.rate", f.Lookup("rate"))
	_ = v.BindPFlag("stream.publishers", f.Lookup("publishers"))
	_ = v.BindPFlag("stream.exclusive", f.Lookup("exclusive"))
	_ = v.BindPFlag("stream.filter", f.Lookup("filter"))
	_ = v.BindPFlag("driver.term_length", f.Lookup("term-length"))
	_ = v.BindPFlag("driver.mtu", f.Lookup("mtu"))
	_ = v.BindPFlag("driver.mapped_log_buffers", f.Lookup("mmap"))
	_ = v.BindPFlag("client.use_agent_invoker", f.Lookup("invoker"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("observability.health_addr", f.Lookup("health-addr"))
	_ = v.BindPFlag("observability.enable_reflection", f.Lookup("reflection"))
	_ = v.BindPFlag("recording.enabled", f.Lookup("record"))
	_ = v.BindPFlag("recording.backend", f.Lookup("recording-backend"))
}

// ToDriverConfig validates the engine section and converts it for driver.Launch.
func (c Config) ToDriverConfig(log *logging.Logger) (driver.Config, error) {
	termLength, err := size("driver.term_length", c.Driver.TermLength)
	if err != nil {
		return driver.Config{}, err
	}
	if termLength != 0 {
		if err := driver.ValidateTermLength(termLength); err != nil {
			return driver.Config{}, fmt.Errorf("driver.term_length: %w", err)
		}
	}
	mtu, err := size("driver.mtu", c.Driver.MTU)
	if err != nil {
		return driver.Config{}, err
	}
	if mtu != 0 {
		if err := driver.ValidateMTU(mtu); err != nil {
			return driver.Config{}, fmt.Errorf("driver.mtu: %w", err)
		}
	}
	window, err := size("driver.publication_window", c.Driver.PublicationWindow)
	if err != nil {
		return driver.Config{}, err
	}

	return driver.Config{
		Dir:                   c.Driver.Dir,
		TermBufferLength:      termLength,
		PublicationWindow:     window,
		MTU:                   mtu,
		ClientLivenessTimeout: c.Driver.ClientLivenessTimeout,
		MappedLogBuffers:      c.Driver.MappedLogBuffers,
		IdleSleep:             c.Client.IdleSleep,
		Logger:                log,
	}, nil
}

// ToContext builds a client context from the client section. Handlers,
// metrics and tracing are left for the caller to attach.
func (c Config) ToContext(log *logging.Logger) (*client.Context, error) {
	ctx := client.NewContext()
	steps := []error{
		ctx.SetDir(c.Driver.Dir),
		ctx.SetUseAgentInvoker(c.Client.UseAgentInvoker),
		ctx.SetLogger(log),
	}
	if c.Client.Name != "" {
		steps = append(steps, ctx.SetClientName(c.Client.Name))
	}
	if c.Client.IdleSleep > 0 {
		steps = append(steps, ctx.SetIdleSleep(c.Client.IdleSleep))
	}
	if c.Client.DriverTimeout > 0 {
		steps = append(steps, ctx.SetDriverTimeout(c.Client.DriverTimeout))
	}
	for _, err := range steps {
		if err != nil {
			_ = ctx.Close()
			return nil, fmt.Errorf("configure client context: %w", err)
		}
	}
	return ctx, nil
}
