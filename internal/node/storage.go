// Package node hosts an embedded driver together with the publishers and
// subscriber of one stream, and provides the recording and ping harnesses
// built on it.
package node

import (
	"context"
	"fmt"

	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/internal/observability"
	"github.com/gezibash/arc-conduit/internal/recording/physical"
	"github.com/gezibash/arc-conduit/pkg/logging"

	// Register recording backends
	_ "github.com/gezibash/arc-conduit/internal/recording/physical/badger"
	_ "github.com/gezibash/arc-conduit/internal/recording/physical/memory"
	_ "github.com/gezibash/arc-conduit/internal/recording/physical/redis"
	_ "github.com/gezibash/arc-conduit/internal/recording/physical/s3"
	_ "github.com/gezibash/arc-conduit/internal/recording/physical/sqlite"
)

// NewRecordingBackend creates the recording backend named in cfg.
func NewRecordingBackend(ctx context.Context, cfg config.RecordingConfig, metrics *observability.Metrics, log *logging.Logger) (physical.Backend, error) {
	backend, err := physical.New(ctx, cfg.Backend, cfg.Config, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("create recording backend: %w", err)
	}
	return backend, nil
}
