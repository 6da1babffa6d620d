// Package jobs holds the River job definitions that back the durable,
// cross-restart side of the recovery sweeper (spec §4.7): the sweeper's own
// in-process ticker is the primary driver, but a periodic River job gives
// the same sweep pass a durable trigger that survives a mid-interval
// process restart in a scaled-out deployment.
package jobs

import (
	"context"

	"github.com/riverqueue/river"

	"sampleforge.io/orchestrator/internal/sweeper"
)

// SweepArgs triggers one recovery-sweep pass.
type SweepArgs struct{}

// Kind implements river.JobArgs.
func (SweepArgs) Kind() string { return "sweep" }

// SweepWorker runs one Sweep pass per job.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	Sweeper *sweeper.Sweeper
}

// Work executes the job.
func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	w.Sweeper.Sweep(ctx)
	return nil
}
