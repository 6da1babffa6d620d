// Package aggregator implements the Master Progress Aggregator (C8): a
// single SQL statement that recomputes a master's completed/failed counts,
// progress percentage and terminal status from its sub-tasks, invoked by
// every component that moves a sub-task into a terminal state.
package aggregator

import (
	"context"

	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/store"
)

// Aggregator recomputes one master's rollup fields on demand.
type Aggregator struct {
	store *store.Queries
}

// New builds an Aggregator.
func New(q *store.Queries) *Aggregator {
	return &Aggregator{store: q}
}

// Recompute runs the aggregation UPDATE for masterID (spec §4.8). Callers
// that cannot usefully react to a failure (a poller or fetcher tick driving
// many masters at once) should use Trigger instead.
func (a *Aggregator) Recompute(ctx context.Context, masterID string) error {
	return a.store.RecomputeMasterProgress(ctx, masterID)
}

// Trigger recomputes masterID and logs, rather than propagates, any error.
// It is the form used after a poller terminal transition (spec §4.5
// step 2, §4.8 "invoked after every terminal sub-task transition"): one
// master's aggregation failure must not abort the tick processing the rest
// of the batch.
func (a *Aggregator) Trigger(ctx context.Context, masterID string) {
	if err := a.store.RecomputeMasterProgress(ctx, masterID); err != nil {
		logger.Warn("Failed to recompute master progress",
			zap.String("master_id", masterID), zap.Error(err))
	}
}
