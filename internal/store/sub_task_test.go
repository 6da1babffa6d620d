package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/domain"
)

func TestQueries_ClaimSubTask_OnlyOneClaimWins(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "claim_subtask_race")

	seedMaster(t, ctx, q, "m-claim", 1)
	seedSubTask(t, ctx, q, "st-claim", "m-claim", "sample-1")

	rows, err := q.ClaimSubTask(ctx, "st-claim", -1)
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	// A second claim attempt on the same already-claimed row affects zero
	// rows: the guard is "status = 'Pending'".
	rows, err = q.ClaimSubTask(ctx, "st-claim", -2)
	require.NoError(t, err)
	require.EqualValues(t, 0, rows)

	sub, err := q.GetSubTask(ctx, "st-claim")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskSubmitting, sub.Status)
}

func TestQueries_MarkSubmitted_RequiresSubmitting(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "mark_submitted_guard")

	seedMaster(t, ctx, q, "m-submit", 1)
	seedSubTask(t, ctx, q, "st-submit", "m-submit", "sample-1")

	// Not yet claimed: MarkSubmitted is a no-op.
	rows, err := q.MarkSubmitted(ctx, "st-submit", "ext-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, rows)

	_, err = q.ClaimSubTask(ctx, "st-submit", -1)
	require.NoError(t, err)

	rows, err = q.MarkSubmitted(ctx, "st-submit", "ext-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	sub, err := q.GetSubTask(ctx, "st-submit")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskSubmitted, sub.Status)
	require.Equal(t, "ext-1", *sub.ExternalTaskID)
}

func TestQueries_RollbackToPending_BumpsRetryCount(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "rollback_retry_count")

	seedMaster(t, ctx, q, "m-rollback", 1)
	seedSubTask(t, ctx, q, "st-rollback", "m-rollback", "sample-1")
	_, err := q.ClaimSubTask(ctx, "st-rollback", -1)
	require.NoError(t, err)

	rows, err := q.RollbackToPending(ctx, "st-rollback", "transient backend error")
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	sub, err := q.GetSubTask(ctx, "st-rollback")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskPending, sub.Status)
	require.Nil(t, sub.ExternalTaskID)
	require.Equal(t, 1, sub.RetryCount)
}

func TestQueries_StuckSubmittingCandidates_RespectsThreshold(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "stuck_submitting_candidates")

	seedMaster(t, ctx, q, "m-stuck", 1)
	seedSubTask(t, ctx, q, "st-stuck", "m-stuck", "sample-1")
	_, err := q.ClaimSubTask(ctx, "st-stuck", -1)
	require.NoError(t, err)

	// updated_at was just set to now(): not yet older than the threshold.
	rows, err := q.StuckSubmittingCandidates(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = q.StuckSubmittingCandidates(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "st-stuck", rows[0].ID)
}

func TestQueries_UnstickSubmitting(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "unstick_submitting")

	seedMaster(t, ctx, q, "m-unstick", 1)
	seedSubTask(t, ctx, q, "st-unstick", "m-unstick", "sample-1")

	// Not Submitting yet: the guard rejects it.
	rows, err := q.UnstickSubmitting(ctx, "st-unstick")
	require.NoError(t, err)
	require.EqualValues(t, 0, rows)

	// Mark it Submitting with no external id (a claim never completed), the
	// exact state Job B targets.
	_, err = q.ClaimSubTask(ctx, "st-unstick", -1)
	require.NoError(t, err)
	_, err = q.RollbackToPending(ctx, "st-unstick", "")
	require.NoError(t, err)
	_, err = q.ClaimSubTask(ctx, "st-unstick", -2)
	require.NoError(t, err)

	rows, err = q.UnstickSubmitting(ctx, "st-unstick")
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	sub, err := q.GetSubTask(ctx, "st-unstick")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskPending, sub.Status)
	require.Equal(t, 2, sub.RetryCount)
}

func TestQueries_CascadePauseAndResumeSubTasks(t *testing.T) {
	ctx := context.Background()
	q := newTestQueries(t, "cascade_pause_resume")

	seedMaster(t, ctx, q, "m-cascade", 2)
	seedSubTask(t, ctx, q, "st-pending", "m-cascade", "sample-1")
	seedSubTask(t, ctx, q, "st-submitting", "m-cascade", "sample-2")
	_, err := q.ClaimSubTask(ctx, "st-submitting", -1)
	require.NoError(t, err)

	rows, err := q.CascadePauseSubTasks(ctx, "m-cascade")
	require.NoError(t, err)
	require.EqualValues(t, 2, rows)

	ids, err := q.CascadeResumeSubTasks(ctx, "m-cascade")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"st-pending", "st-submitting"}, ids)

	sub, err := q.GetSubTask(ctx, "st-submitting")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskPending, sub.Status)
}
