// Package memory provides an in-memory recording backend for tests and
// short-lived runs.
package memory

import (
	"context"
	"maps"

	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/internal/recording/physical/badger"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		badger.KeyInMemory:     "true",
		badger.KeyMemTableSize: "16m",
	}
}

// NewFactory creates a new in-memory backend using BadgerDB's in-memory mode.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	cfg := maps.Clone(config)
	if cfg == nil {
		cfg = make(map[string]string, 1)
	}
	cfg[badger.KeyInMemory] = "true"
	return badger.NewFactory(ctx, cfg)
}
