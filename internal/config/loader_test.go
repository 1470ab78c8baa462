package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/pkg/logging"
)

func TestBindCommonFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()

	BindCommonFlags(cmd, v)

	err := cmd.PersistentFlags().Parse([]string{
		"--data-dir", "/custom/dir",
		"--dir", "/dev/shm/custom",
		"--log-level", "debug",
		"--log-format", "json",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"data_dir", "/custom/dir"},
		{"driver.dir", "/dev/shm/custom"},
		{"observability.log_level", "debug"},
		{"observability.log_format", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := v.GetString(tt.key); got != tt.want {
				t.Errorf("v.GetString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	t.Run("config flag not bound to viper", func(t *testing.T) {
		if got := v.GetString("config"); got != "" {
			t.Errorf("config should not be in viper, got %q", got)
		}
	})
}

func TestBindStreamFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()

	BindStreamFlags(cmd, v)

	err := cmd.Flags().Parse([]string{
		"--channel", "aeron:ipc?term-length=128k",
		"--stream-id", "9",
		"--publishers", "4",
		"--exclusive",
		"--term-length", "256k",
		"--invoker",
		"--record",
		"--recording-backend", "badger",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	if got := v.GetString("stream.channel"); got != "aeron:ipc?term-length=128k" {
		t.Errorf("stream.channel = %q", got)
	}
	if got := v.GetInt32("stream.stream_id"); got != 9 {
		t.Errorf("stream.stream_id = %d, want 9", got)
	}
	if got := v.GetInt("stream.publishers"); got != 4 {
		t.Errorf("stream.publishers = %d, want 4", got)
	}
	if !v.GetBool("stream.exclusive") || !v.GetBool("client.use_agent_invoker") || !v.GetBool("recording.enabled") {
		t.Errorf("boolean flags not bound")
	}
	if got := v.GetString("driver.term_length"); got != "256k" {
		t.Errorf("driver.term_length = %q, want %q", got, "256k")
	}
	if got := v.GetString("recording.backend"); got != "badger" {
		t.Errorf("recording.backend = %q, want %q", got, "badger")
	}
}

func TestFlagTakesPriorityOverEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONDUIT_STREAM_STREAM_ID", "11")

	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindStreamFlags(cmd, v)
	if err := cmd.Flags().Parse([]string{"--stream-id", "12"}); err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.StreamID != 12 {
		t.Errorf("Stream.StreamID = %d, want 12", cfg.Stream.StreamID)
	}
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindStreamFlags(cmd, v)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.Channel != Defaults.Channel {
		t.Errorf("Stream.Channel = %q, want %q", cfg.Stream.Channel, Defaults.Channel)
	}
	if cfg.Stream.Publishers != Defaults.Publishers {
		t.Errorf("Stream.Publishers = %d, want %d", cfg.Stream.Publishers, Defaults.Publishers)
	}
}

func TestToDriverConfig(t *testing.T) {
	log := logging.Discard()

	t.Run("parses sizes", func(t *testing.T) {
		cfg := Config{Driver: DriverConfig{
			Dir:                   "/tmp/x",
			TermLength:            "128k",
			MTU:                   "4096",
			PublicationWindow:     "32k",
			MappedLogBuffers:      true,
			ClientLivenessTimeout: time.Second,
		}}
		dc, err := cfg.ToDriverConfig(log)
		if err != nil {
			t.Fatalf("ToDriverConfig: %v", err)
		}
		if dc.TermBufferLength != 128*1024 {
			t.Errorf("TermBufferLength = %d, want %d", dc.TermBufferLength, 128*1024)
		}
		if dc.MTU != 4096 || dc.PublicationWindow != 32*1024 {
			t.Errorf("MTU, window = %d, %d, want 4096, %d", dc.MTU, dc.PublicationWindow, 32*1024)
		}
		if !dc.MappedLogBuffers || dc.ClientLivenessTimeout != time.Second || dc.Logger != log {
			t.Errorf("driver config not carried over: %+v", dc)
		}
	})

	t.Run("empty sizes use engine defaults", func(t *testing.T) {
		dc, err := Config{}.ToDriverConfig(log)
		if err != nil {
			t.Fatalf("ToDriverConfig: %v", err)
		}
		if dc.TermBufferLength != 0 || dc.MTU != 0 || dc.PublicationWindow != 0 {
			t.Errorf("zero sizes expected, got %+v", dc)
		}
	})

	tests := []struct {
		name   string
		driver DriverConfig
		want   string
	}{
		{"term not power of two", DriverConfig{TermLength: "100k"}, "driver.term_length"},
		{"term unparsable", DriverConfig{TermLength: "lots"}, "driver.term_length"},
		{"mtu unaligned", DriverConfig{MTU: "1000"}, "driver.mtu"},
		{"window unparsable", DriverConfig{PublicationWindow: "-"}, "driver.publication_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Config{Driver: tt.driver}.ToDriverConfig(log)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestToContext(t *testing.T) {
	log := logging.Discard()
	cfg := Config{
		Driver: DriverConfig{Dir: "/tmp/conduit-ctx"},
		Client: ClientConfig{
			Name:            "ctx-test",
			UseAgentInvoker: true,
			IdleSleep:       3 * time.Millisecond,
			DriverTimeout:   2 * time.Second,
		},
	}

	ctx, err := cfg.ToContext(log)
	if err != nil {
		t.Fatalf("ToContext: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })

	if got := ctx.Dir(); got != "/tmp/conduit-ctx" {
		t.Errorf("Dir() = %q, want %q", got, "/tmp/conduit-ctx")
	}
	if got := ctx.ClientName(); got != "ctx-test" {
		t.Errorf("ClientName() = %q, want %q", got, "ctx-test")
	}
	if !ctx.UseAgentInvoker() {
		t.Errorf("UseAgentInvoker() = false, want true")
	}
	if got := ctx.IdleSleep(); got != 3*time.Millisecond {
		t.Errorf("IdleSleep() = %v, want %v", got, 3*time.Millisecond)
	}
	if got := ctx.DriverTimeout(); got != 2*time.Second {
		t.Errorf("DriverTimeout() = %v, want %v", got, 2*time.Second)
	}
	if ctx.Logger() != log {
		t.Errorf("Logger() not carried over")
	}
}

func TestBindStreamFlagsRebind(t *testing.T) {
	v := viper.New()
	run := &cobra.Command{Use: "run"}
	ping := &cobra.Command{Use: "ping"}
	BindStreamFlags(run, v)
	BindStreamFlags(ping, v)

	if err := run.Flags().Parse([]string{"--stream-id", "5"}); err != nil {
		t.Fatalf("Parse flags: %v", err)
	}
	// ping was bound last, so run's flag is invisible until rebound.
	if got := v.GetInt32("stream.stream_id"); got != 0 {
		t.Fatalf("stream.stream_id before rebind = %d, want 0", got)
	}
	BindStreamFlags(run, v)
	if got := v.GetInt32("stream.stream_id"); got != 5 {
		t.Errorf("stream.stream_id after rebind = %d, want 5", got)
	}
}
