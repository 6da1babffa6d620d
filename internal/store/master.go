package store

import (
	"context"
	"time"

	"sampleforge.io/orchestrator/internal/domain"
)

// CreateMasterParams are the fields supplied when materializing a new
// MasterTask (spec §6 POST /api/tasks, /api/tasks/by-filter).
type CreateMasterParams struct {
	ID             string
	Name           string
	AnalyzerFamily domain.AnalyzerFamily
	TaskType       domain.TaskType
	TotalSamples   int
	SampleFilter   []byte
}

const insertMasterSQL = `
INSERT INTO master_tasks
	(id, name, analyzer_family, task_type, total_samples, status, sample_filter, created_at, updated_at)
VALUES
	($1, $2, $3, $4, $5, 'Pending', $6, now(), now())
`

// CreateMaster inserts a new MasterTask in status Pending.
func (q *Queries) CreateMaster(ctx context.Context, p CreateMasterParams) error {
	_, err := q.db.Exec(ctx, insertMasterSQL,
		p.ID, p.Name, p.AnalyzerFamily, p.TaskType, p.TotalSamples, p.SampleFilter)
	return err
}

const getMasterSQL = `
SELECT id, name, analyzer_family, task_type, total_samples, completed_samples,
       failed_samples, progress_percent, status, sample_filter, paused_at,
       pause_reason, created_at, updated_at, started_at, completed_at
FROM master_tasks WHERE id = $1
`

// GetMaster fetches one master by id. Returns pgx.ErrNoRows if absent.
func (q *Queries) GetMaster(ctx context.Context, id string) (*domain.MasterTask, error) {
	row := q.db.QueryRow(ctx, getMasterSQL, id)
	return scanMaster(row)
}

func scanMaster(row interface{ Scan(dest ...interface{}) error }) (*domain.MasterTask, error) {
	var m domain.MasterTask
	var pauseReason *string
	if err := row.Scan(
		&m.ID, &m.Name, &m.AnalyzerFamily, &m.TaskType, &m.TotalSamples,
		&m.CompletedSamples, &m.FailedSamples, &m.ProgressPercent, &m.Status,
		&m.SampleFilter, &m.PausedAt, &pauseReason, &m.CreatedAt, &m.UpdatedAt,
		&m.StartedAt, &m.CompletedAt,
	); err != nil {
		return nil, err
	}
	if pauseReason != nil {
		m.PauseReason = *pauseReason
	}
	return &m, nil
}

// ListMastersParams filters the paged master list (spec §6 GET /api/tasks).
type ListMastersParams struct {
	AnalyzerFamily *domain.AnalyzerFamily
	Status         *domain.MasterStatus
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
	Limit          int
	Offset         int
}

const listMastersSQL = `
SELECT id, name, analyzer_family, task_type, total_samples, completed_samples,
       failed_samples, progress_percent, status, sample_filter, paused_at,
       pause_reason, created_at, updated_at, started_at, completed_at
FROM master_tasks
WHERE ($1::text IS NULL OR analyzer_family = $1)
  AND ($2::text IS NULL OR status = $2)
  AND ($3::timestamptz IS NULL OR created_at >= $3)
  AND ($4::timestamptz IS NULL OR created_at <= $4)
ORDER BY created_at DESC
LIMIT $5 OFFSET $6
`

// ListMasters returns a page of masters matching the given filters.
func (q *Queries) ListMasters(ctx context.Context, p ListMastersParams) ([]*domain.MasterTask, error) {
	rows, err := q.db.Query(ctx, listMastersSQL,
		p.AnalyzerFamily, p.Status, p.CreatedAfter, p.CreatedBefore, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.MasterTask
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const deleteMasterSQL = `DELETE FROM master_tasks WHERE id = $1`

// DeleteMaster deletes a master; sub_tasks and their results cascade via
// foreign-key ON DELETE CASCADE (spec §3 "MasterTask is deleted with
// CASCADE").
func (q *Queries) DeleteMaster(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteMasterSQL, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RecomputeMasterProgressSQL is the single statement that recomputes a
// master's counters and status from its children (spec §4.8). It never
// transitions a master out of Paused — pause is orthogonal and externally
// driven — and never touches Cancelled.
const recomputeMasterProgressSQL = `
UPDATE master_tasks m SET
	completed_samples = c.completed,
	failed_samples    = c.failed,
	progress_percent  = CASE WHEN m.total_samples = 0 THEN 0
	                         ELSE FLOOR((c.completed + c.failed) * 100.0 / m.total_samples) END,
	status = CASE
		WHEN m.status IN ('Paused', 'Cancelled') THEN m.status
		WHEN (c.completed + c.failed) < m.total_samples THEN 'Running'
		WHEN c.failed = m.total_samples THEN 'Failed'
		ELSE 'Completed'
	END,
	completed_at = CASE
		WHEN (c.completed + c.failed) >= m.total_samples AND m.completed_at IS NULL THEN now()
		ELSE m.completed_at
	END,
	updated_at = now()
FROM (
	SELECT
		count(*) FILTER (WHERE status = 'Completed') AS completed,
		count(*) FILTER (WHERE status IN ('Failed', 'Cancelled')) AS failed
	FROM sub_tasks WHERE master_id = $1
) c
WHERE m.id = $1
`

// RecomputeMasterProgress recomputes a master's completed/failed counts,
// progress percent and status from its sub-tasks, entirely inside the
// database so concurrent sub-task completions cannot race (spec §4.8).
func (q *Queries) RecomputeMasterProgress(ctx context.Context, masterID string) error {
	_, err := q.db.Exec(ctx, recomputeMasterProgressSQL, masterID)
	return err
}

const pauseMasterSQL = `
UPDATE master_tasks
SET status = 'Paused', paused_at = now(), pause_reason = $2, updated_at = now()
WHERE id = $1 AND status IN ('Pending', 'Running')
`

// PauseMaster is the guarded master-level pause update (spec §4.9 step 1).
// Zero rows affected means "not pausable".
func (q *Queries) PauseMaster(ctx context.Context, masterID, reason string) (int64, error) {
	tag, err := q.db.Exec(ctx, pauseMasterSQL, masterID, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const resumeMasterSQL = `
UPDATE master_tasks
SET status = 'Running', paused_at = NULL, pause_reason = NULL, updated_at = now()
WHERE id = $1 AND status = 'Paused'
`

// ResumeMaster is the guarded master-level resume update (spec §4.9 Resume
// step 1). Zero rows affected means "not resumable".
func (q *Queries) ResumeMaster(ctx context.Context, masterID string) (int64, error) {
	tag, err := q.db.Exec(ctx, resumeMasterSQL, masterID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const cancelMasterSQL = `
UPDATE master_tasks
SET status = 'Cancelled', updated_at = now()
WHERE id = $1 AND status NOT IN ('Completed', 'Failed', 'Cancelled')
`

// CancelMaster marks a master Cancelled (spec §4.9 "Cancel": pause then mark
// Cancelled). Idempotent at the master-row level; the sub-task cascade is a
// separate store call.
func (q *Queries) CancelMaster(ctx context.Context, masterID string) (int64, error) {
	tag, err := q.db.Exec(ctx, cancelMasterSQL, masterID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
