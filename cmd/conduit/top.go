package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/cmd/conduit/tui"
	"github.com/gezibash/arc-conduit/internal/cli"
	"github.com/gezibash/arc-conduit/internal/node"
	"github.com/gezibash/arc-conduit/internal/observability"
)

func newTopCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Run a stream and watch it live",
		Long: `Like run, but shows a live dashboard of throughput, latency, flow
control and driver state instead of logging. Logs go to
{data_dir}/log/top.log. A summary is printed on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:       "top",
				Viper:      v,
				ConfigFile: configFile(cmd),
				LogToFile:  true,
				Stdout:     cmd.OutOrStdout(),
				Run: func(ctx context.Context, env *cli.Env, out *cli.Output) error {
					return runTop(ctx, env, out, interval)
				},
			})
		},
	}
	cmd.Flags().Duration("interval", tui.DefaultInterval, "dashboard refresh interval")
	withStreamFlags(cmd, v)
	return cmd
}

func runTop(ctx context.Context, env *cli.Env, out *cli.Output, interval time.Duration) (err error) {
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

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// stopped yields Run's result once; notify forwards it to the dashboard.
	stopped := make(chan error, 1)
	notify := make(chan error, 1)
	go func() {
		runErr := n.Run(runCtx)
		stopped <- runErr
		notify <- runErr
	}()

	stream := env.Config.Stream
	base := tui.NewBase(runCtx, "top", fmt.Sprintf("%s/%d", stream.Channel, stream.StreamID)).
		WithApp(newDashboard()).
		WithSampler(func() any { return n.Snapshot() }).
		WatchDone(notify)
	if interval > 0 {
		base.Interval = interval
	}
	uiErr := base.Run()

	cancel()
	if runErr := <-stopped; runErr != nil {
		return runErr
	}
	if uiErr != nil {
		return fmt.Errorf("dashboard: %w", uiErr)
	}
	return snapshotKV(out, n.Snapshot()).Render()
}
