// Package sqlite provides a SQLite-backed recording backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.conduit/recordings.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
    run_id         TEXT NOT NULL,
    seq            INTEGER NOT NULL,
    timestamp      INTEGER NOT NULL,
    channel        TEXT NOT NULL,
    frame_length   INTEGER NOT NULL,
    flags          INTEGER NOT NULL,
    type           INTEGER NOT NULL,
    term_offset    INTEGER NOT NULL,
    session_id     INTEGER NOT NULL,
    stream_id      INTEGER NOT NULL,
    term_id        INTEGER NOT NULL,
    reserved_value INTEGER NOT NULL,
    initial_term_id INTEGER NOT NULL,
    position_bits  INTEGER NOT NULL,
    position       INTEGER NOT NULL,
    payload        BLOB,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_records_stream ON records(stream_id, session_id, position);
`

const columns = `run_id, seq, timestamp, channel, frame_length, flags, type, term_offset,
	session_id, stream_id, term_id, reserved_value, initial_term_id, position_bits, position, payload`

// NewFactory creates a new SQLite backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("sqlite", config)

	path, err := o.Path(KeyPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, o.Err(KeyPath, "failed to create directory", err)
	}

	journalMode := o.String(KeyJournalMode, "wal")
	busyTimeout, err := o.Int(KeyBusyTimeout, 5000)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)", path, journalMode, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, o.Err(KeyPath, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, o.Err(KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite recording backend initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Append stores a record. Appending the same (run, seq) twice replaces it.
func (b *Backend) Append(ctx context.Context, r *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Seq, r.Timestamp, r.Channel, r.FrameLength, r.Flags, r.Type, r.TermOffset,
		r.SessionID, r.StreamID, r.TermID, r.ReservedValue, r.InitialTermID, r.PositionBitsToShift, r.Position, r.Payload,
	)
	if err != nil {
		return fmt.Errorf("sqlite append: %w", err)
	}
	return nil
}

// where renders q as a WHERE clause. Limit is left to the caller.
func where(q physical.Query) (string, []any) {
	var conds []string
	var args []any
	if q.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.After != (physical.Cursor{}) {
		conds = append(conds, "(run_id > ? OR (run_id = ? AND seq > ?))")
		args = append(args, q.After.RunID, q.After.RunID, q.After.Seq)
	}
	if q.StreamID != 0 {
		conds = append(conds, "stream_id = ?")
		args = append(args, q.StreamID)
	}
	if len(q.SessionIDs) > 0 {
		conds = append(conds, "session_id IN (?"+strings.Repeat(", ?", len(q.SessionIDs)-1)+")")
		for _, id := range q.SessionIDs {
			args = append(args, id)
		}
	}
	if q.MinPosition > 0 {
		conds = append(conds, "position >= ?")
		args = append(args, q.MinPosition)
	}
	if q.MaxPosition > 0 {
		conds = append(conds, "position <= ?")
		args = append(args, q.MaxPosition)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Scan returns matching records in (run_id, seq) order.
func (b *Backend) Scan(ctx context.Context, q physical.Query) ([]*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	clause, args := where(q)
	query := `SELECT ` + columns + ` FROM records` + clause + ` ORDER BY run_id, seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite scan: %w", err)
	}
	defer rows.Close()

	var out []*physical.Record
	for rows.Next() {
		r := &physical.Record{}
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Timestamp, &r.Channel, &r.FrameLength, &r.Flags, &r.Type,
			&r.TermOffset, &r.SessionID, &r.StreamID, &r.TermID, &r.ReservedValue, &r.InitialTermID,
			&r.PositionBitsToShift, &r.Position, &r.Payload); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of matching records, ignoring the limit.
func (b *Backend) Count(ctx context.Context, q physical.Query) (int64, error) {
	if b.closed.Load() {
		return 0, physical.ErrClosed
	}
	clause, args := where(q)
	var n int64
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// Runs lists recorded run ids in order.
func (b *Backend) Runs(ctx context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM records ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite runs: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}

// Stats returns storage statistics.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	n, err := b.Count(ctx, physical.Query{})
	if err != nil {
		return nil, err
	}
	var pages, pageSize int64
	if err := b.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	if err := b.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("sqlite stats: %w", err)
	}
	return &physical.Stats{Records: n, SizeBytes: pages * pageSize, BackendType: "sqlite"}, nil
}

// Close closes the database. Closing twice is a no-op.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
