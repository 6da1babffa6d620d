package infrastructure

// SchemaSQL creates the task-store tables and the indexes the background
// loops' hot queries depend on (spec §4.1):
//   - sub_tasks by (analyzer_family, instance_id, status, updated_at) for
//     the poller/fetcher per-instance selection queries;
//   - sub_tasks by (master_id, status) for the paged sub-task listing and
//     the pause/resume cascades;
//   - sub_tasks by (status, updated_at) for the recovery sweeper;
//   - a unique index on analysis_results.sub_task_id (invariant §3.5).
//
// Exported so package store's tests can stand up an isolated schema without
// a second copy of the DDL.
const SchemaSQL = schemaSQL

const schemaSQL = `
CREATE TABLE IF NOT EXISTS samples (
	id          text PRIMARY KEY,
	sha256      text NOT NULL,
	file_name   text NOT NULL,
	object_key  text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS master_tasks (
	id                text PRIMARY KEY,
	name              text NOT NULL,
	analyzer_family   text NOT NULL,
	task_type         text NOT NULL,
	total_samples     integer NOT NULL DEFAULT 0,
	completed_samples integer NOT NULL DEFAULT 0,
	failed_samples    integer NOT NULL DEFAULT 0,
	progress_percent  integer NOT NULL DEFAULT 0,
	status            text NOT NULL DEFAULT 'Pending',
	sample_filter     jsonb,
	paused_at         timestamptz,
	pause_reason      text,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now(),
	started_at        timestamptz,
	completed_at      timestamptz
);

CREATE TABLE IF NOT EXISTS backend_instances (
	id                          text PRIMARY KEY,
	family                      text NOT NULL,
	name                        text NOT NULL,
	base_url                    text NOT NULL,
	enabled                     boolean NOT NULL DEFAULT true,
	max_concurrent_tasks        integer NOT NULL DEFAULT 1,
	health_check_interval_secs  integer NOT NULL DEFAULT 30,
	status                      text NOT NULL DEFAULT 'Unknown',
	last_health_check_at        timestamptz,
	created_at                  timestamptz NOT NULL DEFAULT now(),
	updated_at                  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sub_tasks (
	id                text PRIMARY KEY,
	master_id         text NOT NULL REFERENCES master_tasks(id) ON DELETE CASCADE,
	sample_id         text NOT NULL,
	analyzer_family   text NOT NULL,
	instance_id       text REFERENCES backend_instances(id),
	external_task_id  text,
	status            text NOT NULL DEFAULT 'Pending',
	priority          integer NOT NULL DEFAULT 0,
	parameters        jsonb,
	retry_count       integer NOT NULL DEFAULT 0,
	error_message     text,
	created_at        timestamptz NOT NULL DEFAULT now(),
	started_at        timestamptz,
	completed_at      timestamptz,
	updated_at        timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sub_tasks_instance_status_updated
	ON sub_tasks (analyzer_family, instance_id, status, updated_at);

CREATE INDEX IF NOT EXISTS idx_sub_tasks_master_status
	ON sub_tasks (master_id, status);

CREATE INDEX IF NOT EXISTS idx_sub_tasks_status_updated
	ON sub_tasks (status, updated_at);

CREATE TABLE IF NOT EXISTS analysis_results (
	id                text PRIMARY KEY,
	sub_task_id       text NOT NULL REFERENCES sub_tasks(id) ON DELETE CASCADE,
	cape_task_id      text,
	score             double precision,
	severity          text,
	verdict           text,
	signatures        jsonb,
	behavior_summary  jsonb,
	report_summary    text,
	message           text,
	result_files      jsonb,
	full_report       jsonb,
	created_at        timestamptz NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_analysis_results_sub_task_id
	ON analysis_results (sub_task_id);
`
