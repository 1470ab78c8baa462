package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/cli"
	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/node"
	"github.com/gezibash/arc-conduit/internal/observability"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish and subscribe on one stream through an embedded driver",
		Long: `Launch an embedded driver, attach publishers and a subscriber to the
configured stream and exchange messages until interrupted or --duration
elapses. Metrics and the gRPC health service are served while running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, v)
		},
	}
	cmd.Flags().Duration("duration", 0, "stop after this long (0 = until interrupted)")
	withStreamFlags(cmd, v)
	return cmd
}

func runRun(cmd *cobra.Command, v *viper.Viper) error {
	duration, _ := cmd.Flags().GetDuration("duration")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.RunCommand(ctx, cli.CommandConfig{
		Name:       "run",
		Viper:      v,
		ConfigFile: configFile(cmd),
		Stdout:     cmd.OutOrStdout(),
		Run: func(ctx context.Context, env *cli.Env, out *cli.Output) (err error) {
			observability.Annotate(ctx, env.Config.Stream.Channel, env.Config.Stream.StreamID)
			n, err := node.New(ctx, env.Config, node.Deps{
				Logger:         env.Log,
				Metrics:        env.Obs.Metrics,
				TracerProvider: env.Obs.TracerProvider,
			})
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, n.Close()) }()

			if err := serveAdmin(env, n); err != nil {
				return err
			}

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			env.Log.Info("running", "channel", env.Config.Stream.Channel, "stream_id", env.Config.Stream.StreamID, "duration", duration)
			if err := n.Run(ctx); err != nil {
				return err
			}
			return snapshotKV(out, n.Snapshot()).Render()
		},
	})
}

// serveAdmin exports driver metrics and starts the metrics and health
// listeners that are configured. Both stop with observability shutdown.
func serveAdmin(env *cli.Env, n *node.Node) error {
	obsCfg := env.Config.Observability
	if err := env.Obs.Metrics.WatchDriver(n.Driver()); err != nil {
		return fmt.Errorf("register driver metrics: %w", err)
	}
	if obsCfg.MetricsAddr != "" {
		if _, err := env.Obs.ServeMetrics(obsCfg.MetricsAddr); err != nil {
			return err
		}
	}
	if obsCfg.HealthAddr != "" {
		_, err := env.Obs.ServeAdmin(observability.AdminConfig{
			Addr:             obsCfg.HealthAddr,
			EnableReflection: obsCfg.EnableReflection,
		}, n.Probe)
		if err != nil {
			return err
		}
	}
	return nil
}

// snapshotKV renders the counters of a finished or running node.
func snapshotKV(out *cli.Output, s node.Snapshot) *cli.KV {
	kv := out.KV("snapshot").
		Set("Channel", s.Channel).
		Set("Stream", s.StreamID).
		Set("Publishers", s.Publishers).
		Set("Images", s.Images).
		Set("Sent", s.Sent).
		Set("Received", s.Received).
		Set("Filtered", s.Filtered).
		Set("Bytes Sent", s.BytesSent).
		Set("Back Pressured", s.BackPressured).
		Set("Not Connected", s.NotConnected).
		Set("Admin Actions", s.AdminActions).
		Set("Rate", s.Rate()).
		Set("Mean Latency", s.MeanLatency).
		Set("Max Latency", s.MaxLatency).
		Set("Elapsed", s.Elapsed.Truncate(time.Millisecond))
	if s.RunID != "" {
		kv.Set("Run", s.RunID).Set("Recorded", s.Recorded)
	}
	return kv
}

// configFile returns the --config flag. It is not bound to viper.
func configFile(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// withStreamFlags adds the stream flags to cmd and rebinds them before it runs.
func withStreamFlags(cmd *cobra.Command, v *viper.Viper) {
	config.BindStreamFlags(cmd, v)
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		config.BindStreamFlags(cmd, v)
		return nil
	}
}
