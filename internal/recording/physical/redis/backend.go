// Package redis provides a Redis-backed recording backend.
//
// Each run is a sorted set scored by Seq whose members are encoded records.
// A second sorted set lists the run ids.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"

	pageSize = 500
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "2",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "conduit:",
	}
}

// NewFactory creates a new Redis backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	o := storage.NewOptions("redis", config)

	addr, err := o.Require(KeyAddr)
	if err != nil {
		return nil, err
	}
	db, err := o.Int(KeyDB, 2)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, o.Err(KeyDB, "must be non-negative", nil)
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: o.String(KeyPassword, ""),
		DB:       db,
	}
	if opts.MaxRetries, err = o.Int(KeyMaxRetries, 3); err != nil {
		return nil, err
	}
	if opts.DialTimeout, err = o.Duration(KeyDialTimeout, 5*time.Second); err != nil {
		return nil, err
	}
	if opts.ReadTimeout, err = o.Duration(KeyReadTimeout, 3*time.Second); err != nil {
		return nil, err
	}
	if opts.WriteTimeout, err = o.Duration(KeyWriteTimeout, 3*time.Second); err != nil {
		return nil, err
	}
	if opts.PoolSize, err = o.Int(KeyPoolSize, 0); err != nil {
		return nil, err
	}
	keyPrefix := o.String(KeyKeyPrefix, "conduit:")

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, o.Err(KeyAddr, "failed to connect", err)
	}

	slog.Info("redis recording backend initialized", "addr", addr, "db", db, "key_prefix", keyPrefix)
	return NewWithClient(client, keyPrefix), nil
}

// Backend is a Redis implementation of physical.Backend.
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

// NewWithClient creates a new backend with an existing Redis client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) runsKey() string            { return b.prefix + "runs" }
func (b *Backend) runKey(runID string) string { return b.prefix + "run:" + runID }

// Append stores a record, replacing any record with the same (run, seq).
func (b *Backend) Append(ctx context.Context, r *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := physical.Encode(r)
	if err != nil {
		return err
	}
	seq := strconv.FormatInt(r.Seq, 10)
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, b.runsKey(), redis.Z{Score: 0, Member: r.RunID})
		pipe.ZRemRangeByScore(ctx, b.runKey(r.RunID), seq, seq)
		pipe.ZAdd(ctx, b.runKey(r.RunID), redis.Z{Score: float64(r.Seq), Member: data})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

// Scan returns matching records in (RunID, Seq) order.
func (b *Backend) Scan(ctx context.Context, q physical.Query) ([]*physical.Record, error) {
	var out []*physical.Record
	err := b.iterate(ctx, q, func(r *physical.Record, _ int) bool {
		out = append(out, r)
		return !q.Full(len(out))
	})
	return out, err
}

// Count returns the number of matching records, ignoring the limit.
func (b *Backend) Count(ctx context.Context, q physical.Query) (int64, error) {
	q.Limit = 0
	var n int64
	err := b.iterate(ctx, q, func(*physical.Record, int) bool {
		n++
		return true
	})
	return n, err
}

func (b *Backend) iterate(ctx context.Context, q physical.Query, fn func(*physical.Record, int) bool) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}

	runs := []string{q.RunID}
	if q.RunID == "" {
		var err error
		if runs, err = b.Runs(ctx); err != nil {
			return err
		}
	}

	for _, runID := range runs {
		if q.After.RunID > runID {
			continue
		}
		lo := "-inf"
		if q.After.RunID == runID {
			lo = "(" + strconv.FormatInt(q.After.Seq, 10)
		}
		for {
			members, err := b.client.ZRangeByScore(ctx, b.runKey(runID), &redis.ZRangeBy{
				Min:   lo,
				Max:   "+inf",
				Count: pageSize,
			}).Result()
			if err != nil {
				return fmt.Errorf("redis scan: %w", err)
			}
			var last int64
			for _, m := range members {
				rec, err := physical.Decode([]byte(m))
				if err != nil {
					return fmt.Errorf("redis scan %s: %w", runID, err)
				}
				last = rec.Seq
				if !q.Match(rec) {
					continue
				}
				if !fn(rec, len(m)) {
					return nil
				}
			}
			if len(members) < pageSize {
				break
			}
			lo = "(" + strconv.FormatInt(last, 10)
		}
	}
	return nil
}

// Runs lists recorded run ids in order.
func (b *Backend) Runs(ctx context.Context) ([]string, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	runs, err := b.client.ZRangeByLex(ctx, b.runsKey(), &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis runs: %w", err)
	}
	return runs, nil
}

// Stats returns storage statistics. SizeBytes counts encoded record bytes.
func (b *Backend) Stats(ctx context.Context) (*physical.Stats, error) {
	var n, size int64
	err := b.iterate(ctx, physical.Query{}, func(_ *physical.Record, sz int) bool {
		n++
		size += int64(sz)
		return true
	})
	if err != nil {
		return nil, err
	}
	return &physical.Stats{Records: n, SizeBytes: size, BackendType: "redis"}, nil
}

// Close closes the client. Closing twice is a no-op.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.client.Close()
}
