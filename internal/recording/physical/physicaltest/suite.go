// Package physicaltest provides a behavioural test suite shared by every
// recording backend.
package physicaltest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
)

// NewBackend returns a fresh, empty backend. It registers its own cleanup.
type NewBackend func(t *testing.T) physical.Backend

// MakeRecord builds a record on stream 10 whose position grows with seq.
func MakeRecord(runID string, seq int64, sessionID int32) *physical.Record {
	return &physical.Record{
		RunID:               runID,
		Seq:                 seq,
		Timestamp:           1_700_000_000_000 + seq,
		Channel:             "aeron:ipc",
		FrameLength:         int32(32 + 8),
		Flags:               0xC0,
		Type:                1,
		TermOffset:          int32(seq * 64),
		SessionID:           sessionID,
		StreamID:            10,
		TermID:              7,
		ReservedValue:       seq * 3,
		InitialTermID:       7,
		PositionBitsToShift: 16,
		Position:            seq*64 + 64,
		Payload:             fmt.Appendf(nil, "payload-%d", seq),
	}
}

// Run exercises newBackend against the physical.Backend contract.
func Run(t *testing.T, newBackend NewBackend) {
	t.Run("AppendAndScan", func(t *testing.T) { testAppendAndScan(t, newBackend(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, newBackend(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newBackend(t)) })
	t.Run("Pagination", func(t *testing.T) { testPagination(t, newBackend(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newBackend(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func seed(t *testing.T, b physical.Backend, recs ...*physical.Record) {
	t.Helper()
	for _, r := range recs {
		if err := b.Append(context.Background(), r); err != nil {
			t.Fatalf("Append(%s/%d): %v", r.RunID, r.Seq, err)
		}
	}
}

func testAppendAndScan(t *testing.T, b physical.Backend) {
	want := MakeRecord("run-a", 1, 42)
	seed(t, b, want)

	got, err := b.Scan(context.Background(), physical.Query{RunID: "run-a"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	r := got[0]
	if r.Seq != want.Seq || r.SessionID != want.SessionID || r.Position != want.Position {
		t.Errorf("record = %+v, want %+v", r, want)
	}
	if r.Channel != want.Channel || r.Flags != want.Flags || r.ReservedValue != want.ReservedValue {
		t.Errorf("record = %+v, want %+v", r, want)
	}
	if !bytes.Equal(r.Payload, want.Payload) {
		t.Errorf("payload = %q, want %q", r.Payload, want.Payload)
	}
	if h := r.Header(); h.Position() != want.Position {
		t.Errorf("header position = %d, want %d", h.Position(), want.Position)
	}
}

func testScanOrder(t *testing.T, b physical.Backend) {
	// Seqs above 9 and 255 catch backends that order keys as text.
	seed(t, b,
		MakeRecord("run-b", 300, 1),
		MakeRecord("run-a", 10, 1),
		MakeRecord("run-b", 2, 1),
		MakeRecord("run-a", 9, 1),
	)

	got, err := b.Scan(context.Background(), physical.Query{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []physical.Cursor{{RunID: "run-a", Seq: 9}, {RunID: "run-a", Seq: 10}, {RunID: "run-b", Seq: 2}, {RunID: "run-b", Seq: 300}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, r := range got {
		if c := (physical.Cursor{RunID: r.RunID, Seq: r.Seq}); c != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, c, want[i])
		}
	}
}

func testFilters(t *testing.T, b physical.Backend) {
	for seq := int64(1); seq <= 6; seq++ {
		seed(t, b, MakeRecord("run-a", seq, int32(seq%2)+1))
	}
	other := MakeRecord("run-a", 7, 1)
	other.StreamID = 11
	seed(t, b, other)

	tests := []struct {
		name string
		q    physical.Query
		want int64
	}{
		{"all", physical.Query{}, 7},
		{"stream", physical.Query{StreamID: 10}, 6},
		{"session", physical.Query{SessionIDs: []int32{2}}, 3},
		{"sessions", physical.Query{SessionIDs: []int32{1, 2}}, 7},
		{"min position", physical.Query{MinPosition: 4*64 + 64}, 4},
		{"max position", physical.Query{MaxPosition: 2*64 + 64}, 2},
		{"after", physical.Query{After: physical.Cursor{RunID: "run-a", Seq: 5}}, 2},
		{"unknown run", physical.Query{RunID: "run-z"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := b.Count(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != tt.want {
				t.Errorf("Count = %d, want %d", n, tt.want)
			}
			recs, err := b.Scan(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if int64(len(recs)) != tt.want {
				t.Errorf("Scan len = %d, want %d", len(recs), tt.want)
			}
			for _, r := range recs {
				if !tt.q.Match(r) {
					t.Errorf("Scan returned non-matching record %s/%d", r.RunID, r.Seq)
				}
			}
		})
	}
}

func testPagination(t *testing.T, b physical.Backend) {
	for seq := int64(1); seq <= 10; seq++ {
		seed(t, b, MakeRecord("run-a", seq, 1))
	}

	ctx := context.Background()
	q := physical.Query{RunID: "run-a", Limit: 3}
	var seen []int64
	for {
		page, err := b.Scan(ctx, q)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(page) > q.Limit {
			t.Fatalf("page len = %d, want <= %d", len(page), q.Limit)
		}
		for _, r := range page {
			seen = append(seen, r.Seq)
		}
		if len(page) < q.Limit {
			break
		}
		last := page[len(page)-1]
		q.After = physical.Cursor{RunID: last.RunID, Seq: last.Seq}
	}
	if len(seen) != 10 {
		t.Fatalf("seen %d records, want 10: %v", len(seen), seen)
	}
	for i, seq := range seen {
		if seq != int64(i+1) {
			t.Errorf("seen[%d] = %d, want %d", i, seq, i+1)
		}
	}

	n, err := b.Count(ctx, physical.Query{Limit: 2})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 10 {
		t.Errorf("Count with limit = %d, want 10", n)
	}
}

func testRuns(t *testing.T, b physical.Backend) {
	runs, err := b.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("Runs on empty backend = %v, want none", runs)
	}

	seed(t, b, MakeRecord("run-b", 1, 1), MakeRecord("run-a", 1, 1), MakeRecord("run-a", 2, 1))
	runs, err = b.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-a" || runs[1] != "run-b" {
		t.Errorf("Runs = %v, want [run-a run-b]", runs)
	}
}

func testStats(t *testing.T, b physical.Backend) {
	seed(t, b, MakeRecord("run-a", 1, 1), MakeRecord("run-a", 2, 1))
	stats, err := b.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records != 2 {
		t.Errorf("Records = %d, want 2", stats.Records)
	}
	if stats.BackendType == "" {
		t.Error("BackendType is empty")
	}
}

func testClosed(t *testing.T, b physical.Backend) {
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	ctx := context.Background()
	if err := b.Append(ctx, MakeRecord("run-a", 1, 1)); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("Append after close = %v, want ErrClosed", err)
	}
	if _, err := b.Scan(ctx, physical.Query{}); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("Scan after close = %v, want ErrClosed", err)
	}
	if _, err := b.Runs(ctx); !errors.Is(err, physical.ErrClosed) {
		t.Errorf("Runs after close = %v, want ErrClosed", err)
	}
}
