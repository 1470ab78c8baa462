package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/pkg/driver"
)

func TestDefaultDataDir(t *testing.T) {
	dataDir := DefaultDataDir()
	if !strings.HasSuffix(dataDir, ".conduit") {
		t.Errorf("DefaultDataDir() should end with .conduit, got: %s", dataDir)
	}
	if !filepath.IsAbs(dataDir) {
		t.Errorf("DefaultDataDir() should return absolute path, got: %s", dataDir)
	}
}

// TestLoadDefaults verifies that Load applies all defaults when no config file
// or env vars are set.
func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v := viper.New()
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load with no config file should not error, got: %v", err)
	}

	if cfg.Driver.Dir != driver.DefaultDir() {
		t.Errorf("Driver.Dir = %q, want %q", cfg.Driver.Dir, driver.DefaultDir())
	}
	if cfg.Driver.TermLength != "1m" {
		t.Errorf("Driver.TermLength = %q, want %q", cfg.Driver.TermLength, "1m")
	}
	if cfg.Driver.ClientLivenessTimeout != driver.DefaultClientLivenessTimeout {
		t.Errorf("Driver.ClientLivenessTimeout = %v, want %v", cfg.Driver.ClientLivenessTimeout, driver.DefaultClientLivenessTimeout)
	}
	if cfg.Client.IdleSleep != time.Millisecond {
		t.Errorf("Client.IdleSleep = %v, want %v", cfg.Client.IdleSleep, time.Millisecond)
	}
	if cfg.Client.UseAgentInvoker {
		t.Errorf("Client.UseAgentInvoker = true, want false")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("Observability.LogLevel = %q, want %q", cfg.Observability.LogLevel, "info")
	}
	if cfg.Observability.MetricsAddr != ":9090" {
		t.Errorf("Observability.MetricsAddr = %q, want %q", cfg.Observability.MetricsAddr, ":9090")
	}
	if cfg.Observability.OTLPProtocol != "http" {
		t.Errorf("Observability.OTLPProtocol = %q, want %q", cfg.Observability.OTLPProtocol, "http")
	}
	if cfg.Recording.Backend != "memory" {
		t.Errorf("Recording.Backend = %q, want %q", cfg.Recording.Backend, "memory")
	}
	if cfg.Stream.Channel != "aeron:ipc" {
		t.Errorf("Stream.Channel = %q, want %q", cfg.Stream.Channel, "aeron:ipc")
	}
	if cfg.Stream.StreamID != 1001 {
		t.Errorf("Stream.StreamID = %d, want %d", cfg.Stream.StreamID, 1001)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONDUIT_STREAM_CHANNEL", "aeron:ipc?term-length=64k")
	t.Setenv("CONDUIT_OBSERVABILITY_LOG_LEVEL", "debug")
	t.Setenv("CONDUIT_CLIENT_IDLE_SLEEP", "5ms")
	t.Setenv("CONDUIT_DATA_DIR", "/custom/data/dir")

	v := viper.New()
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Stream.Channel != "aeron:ipc?term-length=64k" {
		t.Errorf("Stream.Channel = %q, want env value", cfg.Stream.Channel)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("Observability.LogLevel = %q, want %q", cfg.Observability.LogLevel, "debug")
	}
	if cfg.Client.IdleSleep != 5*time.Millisecond {
		t.Errorf("Client.IdleSleep = %v, want %v", cfg.Client.IdleSleep, 5*time.Millisecond)
	}
	if cfg.DataDir != "/custom/data/dir" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/custom/data/dir")
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conduit.yaml")
	content := `
data_dir: /tmp/conduit-test
driver:
  dir: /tmp/conduit-shm
  term_length: 64k
  mapped_log_buffers: true
  client_liveness_timeout: 2s
client:
  name: loader
  use_agent_invoker: true
observability:
  log_level: warn
  log_format: json
recording:
  enabled: true
  backend: sqlite
  config:
    path: /tmp/recording.db
stream:
  channel: aeron:ipc?mtu=4096
  stream_id: 42
  publishers: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(viper.New(), configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DataDir != "/tmp/conduit-test" {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/tmp/conduit-test")
	}
	if cfg.Driver.Dir != "/tmp/conduit-shm" {
		t.Errorf("Driver.Dir = %q, want %q", cfg.Driver.Dir, "/tmp/conduit-shm")
	}
	if !cfg.Driver.MappedLogBuffers {
		t.Errorf("Driver.MappedLogBuffers = false, want true")
	}
	if cfg.Driver.ClientLivenessTimeout != 2*time.Second {
		t.Errorf("Driver.ClientLivenessTimeout = %v, want %v", cfg.Driver.ClientLivenessTimeout, 2*time.Second)
	}
	if cfg.Client.Name != "loader" || !cfg.Client.UseAgentInvoker {
		t.Errorf("Client = %+v, want name loader with invoker", cfg.Client)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("Observability.LogFormat = %q, want %q", cfg.Observability.LogFormat, "json")
	}
	if !cfg.Recording.Enabled || cfg.Recording.Backend != "sqlite" {
		t.Errorf("Recording = %+v, want enabled sqlite", cfg.Recording)
	}
	if cfg.Recording.Config["path"] != "/tmp/recording.db" {
		t.Errorf("Recording.Config = %v, want path=/tmp/recording.db", cfg.Recording.Config)
	}
	if cfg.Stream.StreamID != 42 || cfg.Stream.Publishers != 3 {
		t.Errorf("Stream = %+v, want stream 42 with 3 publishers", cfg.Stream)
	}
	// Unset keys keep their defaults.
	if cfg.Stream.MessageLength != Defaults.MessageLength {
		t.Errorf("Stream.MessageLength = %d, want %d", cfg.Stream.MessageLength, Defaults.MessageLength)
	}
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	_, err := Load(viper.New(), "/nonexistent/path/to/conduit.yaml")
	if err == nil {
		t.Error("Load with explicit missing config file should error")
	}
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "conduit.yaml"), []byte("stream:\n  stream_id: 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.StreamID != 7 {
		t.Errorf("Stream.StreamID = %d, want %d", cfg.Stream.StreamID, 7)
	}
}
