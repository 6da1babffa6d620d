// Package pauseresume implements the Pause/Resume Controller (C9): the
// master-level pause/resume/cancel operations and their sub-task cascades,
// asynchronously re-entering the submission pipeline for revived sub-tasks
// on resume.
package pauseresume

import (
	"context"

	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/pkg/errors"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/pkg/worker"
	"sampleforge.io/orchestrator/internal/store"
)

// Submitter is the narrow collaborator used to re-enter the submission
// pipeline for each sub-task revived by Resume (spec §4.9 Resume step 3).
type Submitter interface {
	SubmitOne(ctx context.Context, subTaskID string) error
}

// Controller is the pause/resume/cancel controller.
type Controller struct {
	store     *store.Queries
	submitter Submitter
	pools     *worker.Pools
	agg       *aggregator.Aggregator
}

// New builds a Controller.
func New(q *store.Queries, submitter Submitter, pools *worker.Pools, agg *aggregator.Aggregator) *Controller {
	return &Controller{store: q, submitter: submitter, pools: pools, agg: agg}
}

// Pause soft-pauses a master: in-flight Submitted/Analyzing sub-tasks are
// left to complete; only Pending/Submitting rows are paused (spec §4.9
// Pause steps 1-2).
func (c *Controller) Pause(ctx context.Context, masterID, reason string) error {
	rows, err := c.store.PauseMaster(ctx, masterID, reason)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.ErrMasterNotPausablef(masterID)
	}
	if _, err := c.store.CascadePauseSubTasks(ctx, masterID); err != nil {
		return err
	}
	return nil
}

// Resume reverses Pause: Paused sub-tasks return to Pending and are
// asynchronously re-submitted (spec §4.9 Resume). A single sub-task's
// resubmit failure never reverts the master back to Paused — the recovery
// sweeper will retry it.
func (c *Controller) Resume(ctx context.Context, masterID string) error {
	rows, err := c.store.ResumeMaster(ctx, masterID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.ErrMasterNotResumablef(masterID)
	}

	revived, err := c.store.CascadeResumeSubTasks(ctx, masterID)
	if err != nil {
		return err
	}

	for _, subTaskID := range revived {
		subTaskID := subTaskID
		if err := c.pools.SubmitDetached("backend", func(ctx context.Context) {
			if err := c.submitter.SubmitOne(ctx, subTaskID); err != nil {
				logger.Warn("Resume re-submit failed", zap.String("sub_task_id", subTaskID), zap.Error(err))
			}
		}); err != nil {
			logger.Warn("Failed to schedule resume re-submit", zap.String("sub_task_id", subTaskID), zap.Error(err))
		}
	}
	return nil
}

// Cancel is pause followed by marking the master Cancelled; non-terminal
// sub-tasks cascade to Cancelled (spec §4.9 "Cancel"). If the master is
// already Completed, Failed or Cancelled, Cancel returns
// ErrMasterAlreadyTerminal and runs no sub-task cascade.
func (c *Controller) Cancel(ctx context.Context, masterID string) error {
	if _, err := c.store.PauseMaster(ctx, masterID, "cancelled"); err != nil {
		return err
	}
	rows, err := c.store.CancelMaster(ctx, masterID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.ErrMasterAlreadyTerminalf(masterID)
	}
	if _, err := c.store.CascadeCancelSubTasks(ctx, masterID); err != nil {
		return err
	}
	c.agg.Trigger(ctx, masterID)
	return nil
}
