// Package cli provides the output renderers and command scaffolding shared by
// conduit subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/observability"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// ShutdownTimeout bounds the flush of observability on command exit.
const ShutdownTimeout = 15 * time.Second

// Env is what a command body receives.
type Env struct {
	Config config.Config
	Obs    *observability.Observability
	Log    *logging.Logger
}

// CommandConfig configures a conduit command.
type CommandConfig struct {
	// Name identifies the command in logs, spans and metrics.
	Name string

	// Viper holds the command's flags and configuration. Its "output" key
	// selects the output format.
	Viper *viper.Viper

	// ConfigFile overrides the config search path when set.
	ConfigFile string

	// LogToFile sends logs to {data_dir}/log/<Name>.log, for commands that
	// own the terminal.
	LogToFile bool

	// Timeout for the command body. Zero means no timeout.
	Timeout time.Duration

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr *os.File

	// Run is the command's business logic.
	Run func(ctx context.Context, env *Env, out *Output) error
}

// RunCommand loads configuration, sets up observability and output, runs the
// command body as a tracked operation and flushes observability afterwards.
func RunCommand(ctx context.Context, cfg CommandConfig) (err error) {
	if cfg.Name == "" {
		return errors.New("command name required")
	}
	if cfg.Viper == nil {
		return errors.New("viper required")
	}
	if cfg.Run == nil {
		return errors.New("run function required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	format, err := ParseFormat(cfg.Viper.GetString("output"))
	if err != nil {
		return err
	}

	conf, err := config.Load(cfg.Viper, cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsCfg := conf.Observability
	var logw io.Writer = cfg.Stderr
	if cfg.LogToFile {
		f, err := OpenLogFile(conf.DataDir, cfg.Name)
		if err != nil {
			return err
		}
		defer f.Close()
		logw = f
		if obsCfg.LogFormat == "" || obsCfg.LogFormat == "auto" {
			obsCfg.LogFormat = "json"
		}
	} else {
		obsCfg.LogFormat = observability.ResolveFormat(obsCfg.LogFormat, cfg.Stderr)
	}

	obs, err := observability.New(ctx, obsCfg, logw)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, obs.Close(shutdownCtx))
	}()

	op, ctx := observability.StartOperation(ctx, obs.Metrics, obs.Logger, "cli."+cfg.Name)
	defer func() { op.End(err) }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	env := &Env{Config: conf, Obs: obs, Log: obs.Logger.WithComponent(cfg.Name)}
	return cfg.Run(ctx, env, NewOutput(format, cfg.Stdout))
}

// OpenLogFile opens {dataDir}/log/<name>.log for appending, creating the
// directory if needed.
func OpenLogFile(dataDir, name string) (*os.File, error) {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is constructed from the data dir
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
