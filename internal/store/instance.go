package store

import (
	"context"

	"sampleforge.io/orchestrator/internal/domain"
)

// CreateInstanceParams are the fields supplied when registering a new
// BackendInstance (spec §4.2 create).
type CreateInstanceParams struct {
	ID                      string
	Family                  domain.AnalyzerFamily
	Name                    string
	BaseURL                 string
	Enabled                 bool
	MaxConcurrentTasks      int
	HealthCheckIntervalSecs int
}

const insertInstanceSQL = `
INSERT INTO backend_instances
	(id, family, name, base_url, enabled, max_concurrent_tasks,
	 health_check_interval_secs, status, created_at, updated_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, 'Unknown', now(), now())
`

// CreateInstance registers a new BackendInstance in status Unknown.
func (q *Queries) CreateInstance(ctx context.Context, p CreateInstanceParams) error {
	_, err := q.db.Exec(ctx, insertInstanceSQL,
		p.ID, p.Family, p.Name, p.BaseURL, p.Enabled, p.MaxConcurrentTasks, p.HealthCheckIntervalSecs)
	return err
}

// UpdateInstanceParams are the mutable fields of an existing instance (spec
// §4.2 update).
type UpdateInstanceParams struct {
	ID                      string
	Name                    string
	BaseURL                 string
	Enabled                 bool
	MaxConcurrentTasks      int
	HealthCheckIntervalSecs int
}

const updateInstanceSQL = `
UPDATE backend_instances
SET name = $2, base_url = $3, enabled = $4, max_concurrent_tasks = $5,
    health_check_interval_secs = $6, updated_at = now()
WHERE id = $1
`

// UpdateInstance updates the mutable configuration fields of an instance.
func (q *Queries) UpdateInstance(ctx context.Context, p UpdateInstanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateInstanceSQL,
		p.ID, p.Name, p.BaseURL, p.Enabled, p.MaxConcurrentTasks, p.HealthCheckIntervalSecs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteInstanceSQL = `
DELETE FROM backend_instances
WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM sub_tasks WHERE instance_id = $1)
`

// DeleteInstance deletes an instance, refusing (0 rows affected, but the
// instance still exists) if any sub-task references it, active or
// historical — spec §4.2 "delete is refused". Callers should first check
// existence separately to distinguish "not found" from "in use".
func (q *Queries) DeleteInstance(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteInstanceSQL, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getInstanceSQL = `
SELECT id, family, name, base_url, enabled, max_concurrent_tasks,
       health_check_interval_secs, status, last_health_check_at,
       created_at, updated_at
FROM backend_instances WHERE id = $1
`

// GetInstance fetches one backend instance by id.
func (q *Queries) GetInstance(ctx context.Context, id string) (*domain.BackendInstance, error) {
	return scanInstance(q.db.QueryRow(ctx, getInstanceSQL, id))
}

func scanInstance(row interface{ Scan(dest ...interface{}) error }) (*domain.BackendInstance, error) {
	var i domain.BackendInstance
	if err := row.Scan(
		&i.ID, &i.Family, &i.Name, &i.BaseURL, &i.Enabled, &i.MaxConcurrentTasks,
		&i.HealthCheckIntervalSecs, &i.Status, &i.LastHealthCheckAt,
		&i.CreatedAt, &i.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &i, nil
}

const listInstancesSQL = `
SELECT id, family, name, base_url, enabled, max_concurrent_tasks,
       health_check_interval_secs, status, last_health_check_at,
       created_at, updated_at
FROM backend_instances
WHERE family = $1
  AND ($2::bool IS NULL OR enabled = $2)
  AND ($3::text IS NULL OR status = $3)
ORDER BY name ASC
`

// ListInstances lists instances in a family, optionally filtered by enabled
// and/or status (spec §4.2 list).
func (q *Queries) ListInstances(ctx context.Context, family domain.AnalyzerFamily, enabledOnly *bool, status *domain.InstanceStatus) ([]*domain.BackendInstance, error) {
	rows, err := q.db.Query(ctx, listInstancesSQL, family, enabledOnly, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BackendInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

const availableInstancesSQL = `
SELECT id, family, name, base_url, enabled, max_concurrent_tasks,
       health_check_interval_secs, status, last_health_check_at,
       created_at, updated_at
FROM backend_instances
WHERE family = $1 AND enabled AND status IN ('Healthy', 'Unknown')
ORDER BY name ASC
`

// AvailableInstances returns {i | i.enabled and i.status in {Healthy,
// Unknown}} for a family (spec §4.2 get_available).
func (q *Queries) AvailableInstances(ctx context.Context, family domain.AnalyzerFamily) ([]*domain.BackendInstance, error) {
	rows, err := q.db.Query(ctx, availableInstancesSQL, family)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.BackendInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

const updateInstanceHealthSQL = `
UPDATE backend_instances
SET status = $2, last_health_check_at = now(), updated_at = now()
WHERE id = $1
`

// UpdateInstanceHealth persists the outcome of a health probe (spec §4.2
// health_check).
func (q *Queries) UpdateInstanceHealth(ctx context.Context, id string, status domain.InstanceStatus) error {
	_, err := q.db.Exec(ctx, updateInstanceHealthSQL, id, status)
	return err
}
