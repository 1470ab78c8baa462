package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/cli"
	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/filter"
	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

const redacted = "<redacted>"

// secretMarkers flag settings whose values are never printed.
var secretMarkers = []string{"secret", "password", "token"}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Long: `Merge defaults, config file, environment and flags, check that the
result can start a driver and print it. Credentials are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:       "config",
				Viper:      v,
				ConfigFile: configFile(cmd),
				Stdout:     cmd.OutOrStdout(),
				Run: func(ctx context.Context, env *cli.Env, out *cli.Output) error {
					if err := validateConfig(env.Config); err != nil {
						return err
					}
					settings := v.AllSettings()
					delete(settings, "output")
					return out.Value("config", redact(settings)).Render()
				},
			})
		},
	}
}

// validateConfig performs every check a node would make before launching,
// without launching anything.
func validateConfig(cfg config.Config) error {
	if _, err := cfg.ToDriverConfig(logging.Discard()); err != nil {
		return err
	}
	if cfg.Stream.Publishers < 1 {
		return fmt.Errorf("stream.publishers: must be at least 1, got %d", cfg.Stream.Publishers)
	}
	if cfg.Stream.Filter != "" {
		if _, err := filter.Compile(cfg.Stream.Filter); err != nil {
			return fmt.Errorf("stream.filter: %w", err)
		}
	}
	if cfg.Recording.Enabled && !physical.IsRegistered(cfg.Recording.Backend) {
		return fmt.Errorf("recording.backend: unknown backend %q (have %s)",
			cfg.Recording.Backend, strings.Join(physical.ListBackends(), ", "))
	}
	return nil
}

// redact returns a copy of settings with secrets masked and durations
// rendered as strings.
func redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]any:
			out[k] = redact(val)
		case map[string]string:
			m := make(map[string]any, len(val))
			for mk, mv := range val {
				m[mk] = mv
			}
			out[k] = redact(m)
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = v
		}
		if isSecret(k) {
			if s, ok := out[k].(string); ok && s != "" {
				out[k] = redacted
			}
		}
	}
	return out
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, m := range secretMarkers {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}
