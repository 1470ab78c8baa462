package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/cli"
	"github.com/gezibash/arc-conduit/internal/node"
	"github.com/gezibash/arc-conduit/internal/observability"
)

func newPingCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round-trip latency through an embedded driver",
		Long: `Send pings on the configured stream, echo each one back on stream+1 and
report the round-trip latency distribution. Warmup round trips are not
measured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd, v)
		},
	}
	cmd.Flags().Int("messages", 10000, "measured round trips")
	cmd.Flags().Int("warmup", 1000, "unmeasured round trips before measuring")
	cmd.Flags().Duration("timeout", 5*time.Second, "maximum wait for a single reply")
	withStreamFlags(cmd, v)
	return cmd
}

func runPing(cmd *cobra.Command, v *viper.Viper) error {
	messages, _ := cmd.Flags().GetInt("messages")
	warmup, _ := cmd.Flags().GetInt("warmup")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cli.RunCommand(ctx, cli.CommandConfig{
		Name:       "ping",
		Viper:      v,
		ConfigFile: configFile(cmd),
		Stdout:     cmd.OutOrStdout(),
		Run: func(ctx context.Context, env *cli.Env, out *cli.Output) error {
			observability.Annotate(ctx, env.Config.Stream.Channel, env.Config.Stream.StreamID)
			res, err := node.Ping(ctx, env.Config, node.PingOptions{
				Messages: messages,
				Warmup:   warmup,
				Timeout:  timeout,
			}, node.Deps{
				Logger:         env.Log,
				Metrics:        env.Obs.Metrics,
				TracerProvider: env.Obs.TracerProvider,
			})
			if err != nil {
				return err
			}
			return pingKV(out, env.Config.Stream.MessageLength, res).Render()
		},
	})
}

func pingKV(out *cli.Output, length int, res *node.PingResult) *cli.KV {
	kv := out.KV("ping").
		Set("Messages", res.Messages).
		Set("Length", max(length, node.MinMessageLength)).
		Set("Min", res.Min).
		Set("Mean", res.Mean).
		Set("P50", res.P50).
		Set("P90", res.P90).
		Set("P99", res.P99).
		Set("P99.9", res.P999).
		Set("Max", res.Max).
		Set("Elapsed", res.Elapsed.Truncate(time.Millisecond))
	if res.Elapsed > 0 {
		kv.Set("Round Trip Rate", float64(res.Messages)/res.Elapsed.Seconds())
	}
	return kv
}
