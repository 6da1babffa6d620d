package store

import (
	"context"

	"sampleforge.io/orchestrator/internal/domain"
)

// CreateSampleParams registers the minimal sample metadata the submission
// pipeline needs to materialize a backend payload (spec §1: sample
// CRUD/upload/hashing themselves are out of core scope; this is the
// narrowest table that lets GetSample satisfy domain.SampleLookup).
type CreateSampleParams struct {
	ID        string
	SHA256    string
	FileName  string
	ObjectKey string
}

const insertSampleSQL = `
INSERT INTO samples (id, sha256, file_name, object_key, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO NOTHING
`

// CreateSample registers sample metadata, idempotently.
func (q *Queries) CreateSample(ctx context.Context, p CreateSampleParams) error {
	_, err := q.db.Exec(ctx, insertSampleSQL, p.ID, p.SHA256, p.FileName, p.ObjectKey)
	return err
}

const getSampleSQL = `
SELECT id, sha256, file_name, object_key FROM samples WHERE id = $1
`

// GetSample satisfies domain.SampleLookup, the submission pipeline's
// sample_id -> storage-addressable metadata collaborator (spec §4.4 step 3).
func (q *Queries) GetSample(ctx context.Context, sampleID string) (*domain.Sample, error) {
	var s domain.Sample
	row := q.db.QueryRow(ctx, getSampleSQL, sampleID)
	if err := row.Scan(&s.SampleID, &s.SHA256, &s.FileName, &s.ObjectKey); err != nil {
		return nil, err
	}
	return &s, nil
}
