package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-conduit/internal/cli"
	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/filter"
	"github.com/gezibash/arc-conduit/internal/node"
	"github.com/gezibash/arc-conduit/internal/recording"
	"github.com/gezibash/arc-conduit/internal/recording/physical"
)

const (
	defaultReplayLimit = 50
	payloadPreview     = 24
)

type replayOptions struct {
	backend       string
	backendConfig map[string]string
	runs          bool
	run           string
	streamID      int32
	sessions      []int32
	minPosition   int64
	maxPosition   int64
	filter        string
	limit         int
	after         string
}

func newReplayCmd(v *viper.Viper) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "List recorded fragments",
		Long: `Read fragments persisted by "conduit run --record" from the recording
backend, oldest first. Backend and query flags narrow the selection; --filter
applies a CEL expression over the stored headers. Use --after with the cursor
printed below a page to continue.`,
		Example: `  conduit replay --runs
  conduit replay --backend sqlite --run 0199f1c2-... --limit 20
  conduit replay --filter 'session_id == 7 && length > 64' -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:       "replay",
				Viper:      v,
				ConfigFile: configFile(cmd),
				Stdout:     cmd.OutOrStdout(),
				Run: func(ctx context.Context, env *cli.Env, out *cli.Output) error {
					return runReplay(ctx, env, out, opts)
				},
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.backend, "backend", "", "recording backend (default recording.backend)")
	f.StringToStringVar(&opts.backendConfig, "backend-config", nil, "backend settings, merged over recording.config (key=value,...)")
	f.BoolVar(&opts.runs, "runs", false, "list recorded runs instead of fragments")
	f.StringVar(&opts.run, "run", "", "only this run id")
	f.Int32Var(&opts.streamID, "stream-id", 0, "only this stream id")
	f.Int32SliceVar(&opts.sessions, "session", nil, "only these session ids")
	f.Int64Var(&opts.minPosition, "min-position", 0, "lowest position, inclusive")
	f.Int64Var(&opts.maxPosition, "max-position", 0, "highest position, inclusive (0 = unbounded)")
	f.StringVar(&opts.filter, "filter", "", "CEL expression over fragment headers")
	f.IntVar(&opts.limit, "limit", defaultReplayLimit, "maximum fragments to list")
	f.StringVar(&opts.after, "after", "", "continue after this run:seq cursor")
	return cmd
}

func runReplay(ctx context.Context, env *cli.Env, out *cli.Output, opts replayOptions) (err error) {
	rc := recordingConfig(env.Config.Recording, opts)
	backend, err := node.NewRecordingBackend(ctx, rc, env.Obs.Metrics, env.Log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(); err == nil {
			err = cerr
		}
	}()

	if opts.runs {
		return listRuns(ctx, backend, out)
	}

	q := physical.Query{
		RunID:       opts.run,
		StreamID:    opts.streamID,
		SessionIDs:  opts.sessions,
		MinPosition: opts.minPosition,
		MaxPosition: opts.maxPosition,
	}
	if opts.after != "" {
		if q.After, err = parseCursor(opts.after); err != nil {
			return err
		}
	}
	var f *filter.Filter
	if opts.filter != "" {
		if f, err = filter.Compile(opts.filter); err != nil {
			return fmt.Errorf("--filter: %w", err)
		}
	}
	if opts.limit <= 0 {
		opts.limit = defaultReplayLimit
	}

	page, hasMore, err := selectRecords(ctx, backend, q, f, opts.limit)
	if err != nil {
		return err
	}

	t := out.Table("fragments", "Run", "Seq", "Time", "Session", "Stream", "Position", "Length", "Payload").
		AlignRight("Seq", "Session", "Stream", "Position", "Length")
	for _, rec := range page {
		t.AddRow(
			rec.RunID,
			rec.Seq,
			time.Unix(0, rec.Timestamp).Format(time.TimeOnly+".000000"),
			rec.SessionID,
			rec.StreamID,
			rec.Position,
			len(rec.Payload),
			previewPayload(rec.Payload),
		)
	}
	cursor := ""
	if len(page) > 0 {
		last := page[len(page)-1]
		cursor = formatCursor(physical.Cursor{RunID: last.RunID, Seq: last.Seq})
	}
	t.WithPagination(cursor, hasMore)
	if len(page) == 0 {
		t.Caption("no fragments recorded in %s", rc.Backend)
	}
	return t.Render()
}

// selectRecords walks the backend in order and keeps up to limit records
// that pass f. hasMore reports whether another match follows the page.
func selectRecords(ctx context.Context, backend physical.Backend, q physical.Query, f *filter.Filter, limit int) ([]*physical.Record, bool, error) {
	var page []*physical.Record
	hasMore := false
	err := recording.Each(ctx, backend, q, func(rec *physical.Record) (bool, error) {
		if f != nil {
			h := rec.Header()
			if !f.Match(len(rec.Payload), &h) {
				return true, nil
			}
		}
		if len(page) == limit {
			hasMore = true
			return false, nil
		}
		page = append(page, rec)
		return true, nil
	})
	return page, hasMore, err
}

func listRuns(ctx context.Context, backend physical.Backend, out *cli.Output) error {
	runs, err := backend.Runs(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	t := out.Table("runs", "Run", "Fragments").AlignRight("Fragments")
	for _, run := range runs {
		n, err := backend.Count(ctx, physical.Query{RunID: run})
		if err != nil {
			return fmt.Errorf("count run %s: %w", run, err)
		}
		t.AddRow(run, n)
	}
	if len(runs) == 0 {
		t.Caption("no runs recorded")
	}
	return t.Render()
}

// recordingConfig applies the replay flags over the configured backend.
func recordingConfig(rc config.RecordingConfig, opts replayOptions) config.RecordingConfig {
	if opts.backend != "" && opts.backend != rc.Backend {
		rc.Backend = opts.backend
		rc.Config = nil
	}
	merged := make(map[string]string, len(rc.Config)+len(opts.backendConfig))
	maps.Copy(merged, rc.Config)
	maps.Copy(merged, opts.backendConfig)
	rc.Config = merged
	return rc
}

// formatCursor and parseCursor convert a position in (run, seq) order to and
// from "run:seq".
func formatCursor(c physical.Cursor) string {
	return c.RunID + ":" + strconv.FormatInt(c.Seq, 10)
}

func parseCursor(s string) (physical.Cursor, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return physical.Cursor{}, fmt.Errorf("--after %q: want run:seq", s)
	}
	seq, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || seq < 0 {
		return physical.Cursor{}, fmt.Errorf("--after %q: invalid seq", s)
	}
	return physical.Cursor{RunID: s[:i], Seq: seq}, nil
}

func previewPayload(p []byte) string {
	return truncate.StringWithTail(hex.EncodeToString(p), payloadPreview, "…")
}
