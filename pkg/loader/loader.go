// Package loader defines the destination contract for sync runs and the
// registry that maps configured destination types to implementations.
//
// Loaders are append-only: records are staged during Write and made durable
// at Commit. The orchestrator persists the run's cursor only after Commit
// returns, so a loader that commits partially must fail loudly rather than
// report success.
package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/models"
)

// Loader receives enriched records and makes them durable downstream.
type Loader interface {
	// Open prepares the loader for one run.
	Open(ctx context.Context) error
	// Write stages a batch of records. May flush internally.
	Write(ctx context.Context, records []*models.Record) error
	// Commit makes all staged records durable. Records are only considered
	// emitted once Commit returns nil.
	Commit(ctx context.Context) error
	// Abort discards staged records after a failed run. Parts already
	// flushed to append-only storage may remain; Abort guarantees no
	// further writes, not a rollback.
	Abort(ctx context.Context) error
	// Close releases resources. Safe after Commit or Abort.
	Close(ctx context.Context) error
}

// Factory builds a loader from destination settings.
type Factory func(cfg config.DestinationConfig, logger *zap.Logger) (Loader, error)
