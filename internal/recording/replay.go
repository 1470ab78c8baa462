package recording

import (
	"context"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/pkg/client"
)

const replayPageSize = 256

// Each calls fn for every record matching q in (RunID, Seq) order, reading
// the backend a page at a time. q.Limit caps the number of records visited.
// Iteration stops early when fn returns false or an error.
func Each(ctx context.Context, backend physical.Backend, q physical.Query, fn func(*physical.Record) (bool, error)) error {
	limit := q.Limit
	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		q.Limit = replayPageSize
		if limit > 0 {
			q.Limit = min(replayPageSize, limit-visited)
		}
		page, err := backend.Scan(ctx, q)
		if err != nil {
			return err
		}

		for _, rec := range page {
			visited++
			more, err := fn(rec)
			if err != nil || !more {
				return err
			}
		}

		if len(page) < q.Limit || (limit > 0 && visited >= limit) {
			return nil
		}
		last := page[len(page)-1]
		q.After = physical.Cursor{RunID: last.RunID, Seq: last.Seq}
	}
}

// Replay feeds every record matching q through handler in (RunID, Seq)
// order and returns how many were delivered. q.Limit caps the total.
// The header passed to handler is rebuilt from the stored record.
func Replay(ctx context.Context, backend physical.Backend, q physical.Query, handler client.FragmentHandler) (int, error) {
	delivered := 0
	err := Each(ctx, backend, q, func(rec *physical.Record) (bool, error) {
		h := rec.Header()
		handler.OnFragment(rec.Payload, &h)
		delivered++
		return true, nil
	})
	return delivered, err
}
