package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/config"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "conduit",
		Short:         "Shared-memory message streams with an embedded driver",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	config.BindCommonFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, yaml, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(
		newRunCmd(v),
		newPingCmd(v),
		newReplayCmd(v),
		newTopCmd(v),
		newConfigCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}
