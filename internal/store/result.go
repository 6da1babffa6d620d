package store

import (
	"context"
	"encoding/json"

	"sampleforge.io/orchestrator/internal/domain"
)

// InsertResultParams covers both families; callers populate only the fields
// relevant to the owning sub-task's AnalyzerFamily.
type InsertResultParams struct {
	ID        string
	SubTaskID string

	CapeTaskID      string
	Score           float64
	Severity        domain.Severity
	Verdict         domain.Verdict
	Signatures      json.RawMessage
	BehaviorSummary json.RawMessage
	ReportSummary   string

	Message     string
	ResultFiles json.RawMessage

	FullReport json.RawMessage
}

// InsertResult inserts an AnalysisResult guarded by WHERE NOT EXISTS, so a
// second fetch attempt for the same sub-task is a no-op (spec invariant
// §3.5, P5, and the idempotent-submit scenario P4/scenario 5 where each
// sub-task still gets exactly its own row).
const insertResultSQL = `
INSERT INTO analysis_results
	(id, sub_task_id, cape_task_id, score, severity, verdict, signatures,
	 behavior_summary, report_summary, message, result_files, full_report, created_at)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now()
WHERE NOT EXISTS (SELECT 1 FROM analysis_results WHERE sub_task_id = $2)
`

func (q *Queries) InsertResult(ctx context.Context, p InsertResultParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertResultSQL,
		p.ID, p.SubTaskID, p.CapeTaskID, p.Score, p.Severity, p.Verdict,
		p.Signatures, p.BehaviorSummary, p.ReportSummary, p.Message,
		p.ResultFiles, p.FullReport)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getResultBySubTaskSQL = `
SELECT id, sub_task_id, cape_task_id, score, severity, verdict, signatures,
       behavior_summary, report_summary, message, result_files, full_report
FROM analysis_results WHERE sub_task_id = $1
`

// GetResultBySubTask fetches the (at most one) result row for a sub-task.
func (q *Queries) GetResultBySubTask(ctx context.Context, subTaskID string) (*domain.AnalysisResult, error) {
	return scanResult(q.db.QueryRow(ctx, getResultBySubTaskSQL, subTaskID))
}

const getResultSQL = `
SELECT id, sub_task_id, cape_task_id, score, severity, verdict, signatures,
       behavior_summary, report_summary, message, result_files, full_report
FROM analysis_results WHERE id = $1
`

// GetResult fetches one result by its own id (spec §6 GET
// /api/analysis/<family>/{sub_task_id_or_result_id}).
func (q *Queries) GetResult(ctx context.Context, id string) (*domain.AnalysisResult, error) {
	return scanResult(q.db.QueryRow(ctx, getResultSQL, id))
}

func scanResult(row interface{ Scan(dest ...interface{}) error }) (*domain.AnalysisResult, error) {
	var r domain.AnalysisResult
	var resultFiles json.RawMessage
	if err := row.Scan(
		&r.ID, &r.SubTaskID, &r.CapeTaskID, &r.Score, &r.Severity, &r.Verdict,
		&r.Signatures, &r.BehaviorSummary, &r.ReportSummary, &r.Message,
		&resultFiles, &r.FullReport,
	); err != nil {
		return nil, err
	}
	if len(resultFiles) > 0 {
		if err := json.Unmarshal(resultFiles, &r.ResultFiles); err != nil {
			return nil, err
		}
	}
	return &r, nil
}
