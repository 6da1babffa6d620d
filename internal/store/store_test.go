package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/infrastructure"
	"sampleforge.io/orchestrator/internal/testutil"
)

func newTestQueries(t *testing.T, prefix string) *Queries {
	t.Helper()
	if strings.TrimSpace(os.Getenv("TEST_DATABASE_URL")) == "" && strings.TrimSpace(os.Getenv("DATABASE_URL")) == "" {
		t.Skip("PostgreSQL test DSN not set: set TEST_DATABASE_URL or DATABASE_URL")
	}
	pool := testutil.OpenPGXPool(t, prefix)
	_, err := pool.Exec(context.Background(), infrastructure.SchemaSQL)
	require.NoError(t, err)
	return New(pool)
}

func seedMaster(t *testing.T, ctx context.Context, q *Queries, id string, total int) {
	t.Helper()
	require.NoError(t, q.CreateMaster(ctx, CreateMasterParams{
		ID:             id,
		Name:           "task-" + id,
		AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType:       domain.TaskTypeBatch,
		TotalSamples:   total,
	}))
}

func seedSubTask(t *testing.T, ctx context.Context, q *Queries, id, masterID, sampleID string) {
	t.Helper()
	require.NoError(t, q.CreateSubTask(ctx, CreateSubTaskParams{
		ID:             id,
		MasterID:       masterID,
		SampleID:       sampleID,
		AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))
}
