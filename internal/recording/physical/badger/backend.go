// Package badger provides a BadgerDB-backed recording backend.
package badger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/internal/storage"
)

const (
	prefixRecord = "rec/"
	prefixRun    = "run/"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.conduit/recordings",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: "256m",
		KeyMemTableSize:     "64m",
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("badger", config)

	inMemory, err := o.Bool(KeyInMemory, false)
	if err != nil {
		return nil, err
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path, err := o.Path(KeyPath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, o.Err(KeyPath, "failed to create directory", err)
		}
		opts = badger.DefaultOptions(path)

		if opts.SyncWrites, err = o.Bool(KeySyncWrites, false); err != nil {
			return nil, err
		}
		vlog, err := o.Size(KeyValueLogFileSize, 256<<20)
		if err != nil {
			return nil, err
		}
		if vlog > 0 {
			opts.ValueLogFileSize = vlog
		}
	}

	memTable, err := o.Size(KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, err
	}
	if memTable > 0 {
		opts.MemTableSize = memTable
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, o.Err(KeyPath, "failed to open database", err)
	}

	slog.Info("badger recording backend initialized", "path", opts.Dir, "in_memory", inMemory)
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

func recordKey(runID string, seq int64) []byte {
	return fmt.Appendf(nil, "%s%s/%016x", prefixRecord, runID, uint64(seq))
}

// Append stores a record and notes its run.
func (b *Backend) Append(_ context.Context, r *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := physical.Encode(r)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixRun+r.RunID), nil); err != nil {
			return err
		}
		return txn.Set(recordKey(r.RunID, r.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("badger append: %w", err)
	}
	return nil
}

// Scan returns matching records in key order, which is (RunID, Seq) order.
func (b *Backend) Scan(_ context.Context, q physical.Query) ([]*physical.Record, error) {
	var out []*physical.Record
	err := b.iterate(q, func(r *physical.Record) bool {
		out = append(out, r)
		return !q.Full(len(out))
	})
	return out, err
}

// Count returns the number of matching records, ignoring the limit.
func (b *Backend) Count(_ context.Context, q physical.Query) (int64, error) {
	q.Limit = 0
	var n int64
	err := b.iterate(q, func(*physical.Record) bool {
		n++
		return true
	})
	return n, err
}

func (b *Backend) iterate(q physical.Query, fn func(*physical.Record) bool) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	prefix := []byte(prefixRecord)
	if q.RunID != "" {
		prefix = []byte(prefixRecord + q.RunID + "/")
	}
	start := prefix
	if after := q.After; after != (physical.Cursor{}) && (q.RunID == "" || q.RunID == after.RunID) {
		if k := recordKey(after.RunID, after.Seq+1); bytes.Compare(k, start) > 0 {
			start = k
		}
	}

	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var rec *physical.Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = physical.Decode(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("badger scan %s: %w", it.Item().Key(), err)
			}
			if !q.Match(rec) {
				continue
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// Runs lists recorded run ids in order.
func (b *Backend) Runs(_ context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	var runs []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			runs = append(runs, strings.TrimPrefix(string(it.Item().Key()), prefixRun))
		}
		return nil
	})
	return runs, err
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	n, err := b.Count(ctx, physical.Query{})
	if err != nil {
		return nil, err
	}
	lsm, vlog := b.db.Size()
	return &physical.Stats{Records: n, SizeBytes: lsm + vlog, BackendType: "badger"}, nil
}

// RunGC reclaims value log space.
func (b *Backend) RunGC(discardRatio float64) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	err := b.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// Close closes the database. Closing twice is a no-op.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}
