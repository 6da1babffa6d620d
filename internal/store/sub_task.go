package store

import (
	"context"
	"strconv"
	"time"

	"sampleforge.io/orchestrator/internal/domain"
)

// CreateSubTaskParams are the fields supplied when materializing one
// sub-task row at master-creation time (spec §4.2 "Selection policy").
type CreateSubTaskParams struct {
	ID             string
	MasterID       string
	SampleID       string
	AnalyzerFamily domain.AnalyzerFamily
	InstanceID     *string
	Priority       int
	Parameters     []byte
}

const insertSubTaskSQL = `
INSERT INTO sub_tasks
	(id, master_id, sample_id, analyzer_family, instance_id, status, priority,
	 parameters, retry_count, created_at, updated_at)
VALUES
	($1, $2, $3, $4, $5, 'Pending', $6, $7, 0, now(), now())
`

// CreateSubTask inserts a new SubTask in status Pending.
func (q *Queries) CreateSubTask(ctx context.Context, p CreateSubTaskParams) error {
	_, err := q.db.Exec(ctx, insertSubTaskSQL,
		p.ID, p.MasterID, p.SampleID, p.AnalyzerFamily, p.InstanceID, p.Priority, p.Parameters)
	return err
}

const getSubTaskSQL = `
SELECT id, master_id, sample_id, analyzer_family, instance_id, external_task_id,
       status, priority, parameters, retry_count, error_message,
       created_at, started_at, completed_at, updated_at
FROM sub_tasks WHERE id = $1
`

// GetSubTask fetches one sub-task by id.
func (q *Queries) GetSubTask(ctx context.Context, id string) (*domain.SubTask, error) {
	return scanSubTask(q.db.QueryRow(ctx, getSubTaskSQL, id))
}

func scanSubTask(row interface{ Scan(dest ...interface{}) error }) (*domain.SubTask, error) {
	var s domain.SubTask
	var errMsg *string
	if err := row.Scan(
		&s.ID, &s.MasterID, &s.SampleID, &s.AnalyzerFamily, &s.InstanceID,
		&s.ExternalTaskID, &s.Status, &s.Priority, &s.Parameters, &s.RetryCount,
		&errMsg, &s.CreatedAt, &s.StartedAt, &s.CompletedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if errMsg != nil {
		s.ErrorMessage = *errMsg
	}
	return &s, nil
}

const listSubTasksByMasterSQL = `
SELECT id, master_id, sample_id, analyzer_family, instance_id, external_task_id,
       status, priority, parameters, retry_count, error_message,
       created_at, started_at, completed_at, updated_at
FROM sub_tasks
WHERE master_id = $1
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at ASC
LIMIT $3 OFFSET $4
`

// ListSubTasksByMaster pages sub-tasks belonging to a master, optionally
// filtered by status (spec §6 GET /api/tasks/{id}/sub-tasks).
func (q *Queries) ListSubTasksByMaster(ctx context.Context, masterID string, status *domain.SubTaskStatus, limit, offset int) ([]*domain.SubTask, error) {
	rows, err := q.db.Query(ctx, listSubTasksByMasterSQL, masterID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubTasks(rows)
}

func collectSubTasks(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]*domain.SubTask, error) {
	var out []*domain.SubTask
	for rows.Next() {
		s, err := scanSubTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClaimSubTask executes the optimistic claim UPDATE (spec §4.4 step 2): it
// reserves the row with a negative-sentinel external_task_id so concurrent
// claimers see a non-null value, without yet knowing the real backend id.
// rowsAffected==0 means another worker already claimed (or the row is no
// longer Pending) — callers must return silently, never retry blindly.
const claimSubTaskSQL = `
UPDATE sub_tasks
SET status = 'Submitting', external_task_id = $2, started_at = now(), updated_at = now()
WHERE id = $1
  AND status = 'Pending'
  AND (external_task_id IS NULL OR external_task_id LIKE '-%')
`

func (q *Queries) ClaimSubTask(ctx context.Context, id string, sentinel int64) (int64, error) {
	tag, err := q.db.Exec(ctx, claimSubTaskSQL, id, strconv.FormatInt(sentinel, 10))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkSubmitted records the real external_task_id returned by the backend
// and advances the sub-task to Submitted, replacing the claim's negative
// sentinel in the same guarded UPDATE (spec §4.4 step 5).
const markSubmittedSQL = `
UPDATE sub_tasks
SET status = 'Submitted', external_task_id = $2, updated_at = now()
WHERE id = $1 AND status = 'Submitting'
`

func (q *Queries) MarkSubmitted(ctx context.Context, id, externalTaskID string) (int64, error) {
	tag, err := q.db.Exec(ctx, markSubmittedSQL, id, externalTaskID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkFailed transitions a sub-task to Failed with an error message, from
// any non-terminal state (spec §4.4 step 4 "permanent error").
const markFailedSQL = `
UPDATE sub_tasks
SET status = 'Failed', error_message = $2, updated_at = now(), completed_at = now()
WHERE id = $1 AND status NOT IN ('Completed', 'Failed', 'Cancelled')
`

func (q *Queries) MarkFailed(ctx context.Context, id, errMsg string) (int64, error) {
	tag, err := q.db.Exec(ctx, markFailedSQL, id, truncate(errMsg, 300))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RollbackToPending reverts a sub-task from Submitting back to Pending after
// exhausting retries on a transient error (spec §4.4 step 6) or unsticking a
// stuck Submitting row (spec §4.7 Job B). retry_count is bumped here only —
// never on an in-pipeline retry attempt (spec §9(a) open-question decision).
const rollbackToPendingSQL = `
UPDATE sub_tasks
SET status = 'Pending', external_task_id = NULL, retry_count = retry_count + 1,
    error_message = $2, updated_at = now()
WHERE id = $1 AND status = 'Submitting'
`

func (q *Queries) RollbackToPending(ctx context.Context, id, errMsg string) (int64, error) {
	tag, err := q.db.Exec(ctx, rollbackToPendingSQL, id, truncate(errMsg, 300))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PauseGatedSubTask marks a sub-task Paused because its master is not
// runnable (spec §4.4 step 1). It is guarded to only move non-terminal rows.
const pauseGatedSubTaskSQL = `
UPDATE sub_tasks
SET status = 'Paused', error_message = $2, updated_at = now()
WHERE id = $1 AND status NOT IN ('Completed', 'Failed', 'Cancelled', 'Paused')
`

func (q *Queries) PauseGatedSubTask(ctx context.Context, id, reason string) (int64, error) {
	tag, err := q.db.Exec(ctx, pauseGatedSubTaskSQL, id, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AdvanceAnalyzing moves Submitted -> Analyzing (spec §4.5 poller mapping
// "pending/running/analyzing").
const advanceAnalyzingSQL = `
UPDATE sub_tasks SET status = 'Analyzing', updated_at = now()
WHERE id = $1 AND status = 'Submitted'
`

func (q *Queries) AdvanceAnalyzing(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, advanceAnalyzingSQL, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AdvanceCompleted moves Analyzing -> Completed (spec §4.5 poller mapping
// "completed"/"reported").
const advanceCompletedSQL = `
UPDATE sub_tasks SET status = 'Completed', completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'Analyzing'
`

func (q *Queries) AdvanceCompleted(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, advanceCompletedSQL, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TouchError persists an error string and bumps updated_at without changing
// status, used when a status query itself errors (spec §4.5 anti-head-of-
// line-blocking: the row moves to the tail of the updated_at-ordered queue).
const touchErrorSQL = `
UPDATE sub_tasks SET error_message = $2, updated_at = now()
WHERE id = $1
`

func (q *Queries) TouchError(ctx context.Context, id, errMsg string) error {
	_, err := q.db.Exec(ctx, touchErrorSQL, id, truncate(errMsg, 300))
	return err
}

// PollCandidatesParams selects the rows the status poller (C5) should poll
// for one instance this tick (spec §4.5 step 1).
type PollCandidatesParams struct {
	InstanceID string
	Limit      int
}

const pollCandidatesSQL = `
SELECT id, master_id, sample_id, analyzer_family, instance_id, external_task_id,
       status, priority, parameters, retry_count, error_message,
       created_at, started_at, completed_at, updated_at
FROM sub_tasks
WHERE instance_id = $1
  AND status IN ('Submitting', 'Submitted', 'Analyzing', 'Completed')
  AND external_task_id IS NOT NULL
  AND external_task_id NOT LIKE '-%'
ORDER BY (status = 'Completed') ASC, updated_at ASC
LIMIT $2
`

// PollCandidates lists the non-terminal (plus Completed-awaiting-report) rows
// assigned to instance, non-terminal first then oldest updated_at first.
func (q *Queries) PollCandidates(ctx context.Context, p PollCandidatesParams) ([]*domain.SubTask, error) {
	rows, err := q.db.Query(ctx, pollCandidatesSQL, p.InstanceID, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubTasks(rows)
}

const fetchCandidatesSQL = `
SELECT st.id, st.master_id, st.sample_id, st.analyzer_family, st.instance_id,
       st.external_task_id, st.status, st.priority, st.parameters,
       st.retry_count, st.error_message, st.created_at, st.started_at,
       st.completed_at, st.updated_at
FROM sub_tasks st
WHERE st.instance_id = $1
  AND st.status = 'Completed'
  AND st.external_task_id IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM analysis_results ar WHERE ar.sub_task_id = st.id)
ORDER BY st.updated_at ASC
LIMIT $2
`

// FetchCandidates lists Completed sub-tasks on instance with no stored
// result yet (spec §4.6, the Report Fetcher's selection query).
func (q *Queries) FetchCandidates(ctx context.Context, instanceID string, limit int) ([]*domain.SubTask, error) {
	rows, err := q.db.Query(ctx, fetchCandidatesSQL, instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubTasks(rows)
}

const pendingResubmitCandidatesSQL = `
SELECT st.id, st.master_id, st.sample_id, st.analyzer_family, st.instance_id,
       st.external_task_id, st.status, st.priority, st.parameters,
       st.retry_count, st.error_message, st.created_at, st.started_at,
       st.completed_at, st.updated_at
FROM sub_tasks st
JOIN master_tasks m ON m.id = st.master_id
WHERE st.analyzer_family = $1
  AND st.status = 'Pending'
  AND st.external_task_id IS NULL
  AND m.status IN ('Pending', 'Running')
ORDER BY st.created_at ASC
LIMIT $2
`

// PendingResubmitCandidates is the sweeper's Job A selection query (spec
// §4.7): pending, unclaimed sub-tasks whose master is runnable.
func (q *Queries) PendingResubmitCandidates(ctx context.Context, family domain.AnalyzerFamily, limit int) ([]*domain.SubTask, error) {
	rows, err := q.db.Query(ctx, pendingResubmitCandidatesSQL, family, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubTasks(rows)
}

const stuckSubmittingCandidatesSQL = `
SELECT st.id, st.master_id, st.sample_id, st.analyzer_family, st.instance_id,
       st.external_task_id, st.status, st.priority, st.parameters,
       st.retry_count, st.error_message, st.created_at, st.started_at,
       st.completed_at, st.updated_at
FROM sub_tasks st
JOIN master_tasks m ON m.id = st.master_id
WHERE st.status = 'Submitting'
  AND (st.external_task_id IS NULL OR st.external_task_id LIKE '-%')
  AND st.updated_at < $1
  AND m.status IN ('Pending', 'Running')
ORDER BY st.updated_at ASC
LIMIT $2
`

// StuckSubmittingCandidates is the sweeper's Job B selection query (spec
// §4.7): sub-tasks that have been Submitting, with no real external id
// (NULL or a claim's negative sentinel), longer than stuckThreshold.
func (q *Queries) StuckSubmittingCandidates(ctx context.Context, olderThan time.Time, limit int) ([]*domain.SubTask, error) {
	rows, err := q.db.Query(ctx, stuckSubmittingCandidatesSQL, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubTasks(rows)
}

// UnstickSubmitting is the guarded recovery UPDATE for Job B (spec §4.7): a
// guard failure (rowsAffected==0) means another process already recovered
// the row. A negative sentinel is cleared so Job A picks the row up again.
const unstickSubmittingSQL = `
UPDATE sub_tasks
SET status = 'Pending', external_task_id = NULL, retry_count = retry_count + 1,
    error_message = 'Recovered from stuck submitting state', updated_at = now()
WHERE id = $1 AND status = 'Submitting'
  AND (external_task_id IS NULL OR external_task_id LIKE '-%')
`

func (q *Queries) UnstickSubmitting(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, unstickSubmittingSQL, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CascadePauseSubTasks moves every Pending/Submitting sub-task of a master
// to Paused (spec §4.9 Pause step 2). Submitted/Analyzing rows are left
// alone: their backend work continues to completion.
const cascadePauseSubTasksSQL = `
UPDATE sub_tasks SET status = 'Paused', updated_at = now()
WHERE master_id = $1 AND status IN ('Pending', 'Submitting')
`

func (q *Queries) CascadePauseSubTasks(ctx context.Context, masterID string) (int64, error) {
	tag, err := q.db.Exec(ctx, cascadePauseSubTasksSQL, masterID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CascadeResumeSubTasks moves every Paused sub-task of a master back to
// Pending, clearing error_message (spec §4.9 Resume step 2).
const cascadeResumeSubTasksSQL = `
UPDATE sub_tasks SET status = 'Pending', error_message = NULL, updated_at = now()
WHERE master_id = $1 AND status = 'Paused'
RETURNING id
`

func (q *Queries) CascadeResumeSubTasks(ctx context.Context, masterID string) ([]string, error) {
	rows, err := q.db.Query(ctx, cascadeResumeSubTasksSQL, masterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CascadeCancelSubTasks moves every non-terminal sub-task of a master to
// Cancelled (spec §4.9 "Cancel"). Results already stored are retained.
const cascadeCancelSubTasksSQL = `
UPDATE sub_tasks SET status = 'Cancelled', completed_at = now(), updated_at = now()
WHERE master_id = $1 AND status NOT IN ('Completed', 'Failed', 'Cancelled')
`

func (q *Queries) CascadeCancelSubTasks(ctx context.Context, masterID string) (int64, error) {
	tag, err := q.db.Exec(ctx, cascadeCancelSubTasksSQL, masterID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
