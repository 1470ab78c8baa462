// Package recording persists delivered fragments into a physical backend and
// replays them through a fragment handler.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// Recorder is a client.FragmentHandler that appends every fragment to a
// backend under one run id. Sequence numbers start at 1.
//
// The first append error stops recording; later fragments are dropped and
// Err reports the failure. Recording never blocks delivery on retries.
type Recorder struct {
	ctx     context.Context
	backend physical.Backend
	channel string
	runID   string
	log     *logging.Logger
	now     func() time.Time

	seq     atomic.Int64
	dropped atomic.Int64

	mu  sync.Mutex
	err error
}

// NewRecorder starts a new run. The run id is a UUIDv7, so run ids sort in
// creation order.
func NewRecorder(ctx context.Context, backend physical.Backend, channel string, log *logging.Logger) (*Recorder, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("new run id: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	r := &Recorder{
		ctx:     ctx,
		backend: backend,
		channel: channel,
		runID:   id.String(),
		log:     log.With(slog.String("run_id", id.String())),
		now:     time.Now,
	}
	r.log.Info("recording started", "channel", channel)
	return r, nil
}

// RunID returns the id every record of this run is stored under.
func (r *Recorder) RunID() string { return r.runID }

// Recorded returns the number of fragments stored so far.
func (r *Recorder) Recorded() int64 { return r.seq.Load() }

// Dropped returns the number of fragments skipped after a failure.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Err returns the error that stopped recording, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// OnFragment stores one fragment. buffer is copied.
func (r *Recorder) OnFragment(buffer []byte, header *client.Header) {
	if r.Err() != nil {
		r.dropped.Add(1)
		return
	}

	seq := r.seq.Load() + 1
	rec := physical.NewRecord(r.runID, seq, r.now().UnixNano(), r.channel, buffer, header)
	if err := r.backend.Append(r.ctx, rec); err != nil {
		r.mu.Lock()
		r.err = fmt.Errorf("record seq %d: %w", seq, err)
		r.mu.Unlock()
		r.dropped.Add(1)
		r.log.Error("recording stopped", "seq", seq, "error", err)
		return
	}
	r.seq.Store(seq)
}
