package aggregator

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/infrastructure"
	"sampleforge.io/orchestrator/internal/store"
	"sampleforge.io/orchestrator/internal/testutil"
)

// masterDiffOpts ignores the fields that legitimately differ between two
// otherwise-identical masters (identity and timestamps), leaving cmp.Diff
// to flag any unintended divergence in the fields Recompute actually owns.
var masterDiffOpts = cmpopts.IgnoreFields(domain.MasterTask{},
	"ID", "Name", "SampleFilter", "CreatedAt", "UpdatedAt", "StartedAt", "CompletedAt", "PausedAt")

func newTestStore(t *testing.T, prefix string) *store.Queries {
	t.Helper()
	if strings.TrimSpace(os.Getenv("TEST_DATABASE_URL")) == "" && strings.TrimSpace(os.Getenv("DATABASE_URL")) == "" {
		t.Skip("PostgreSQL test DSN not set: set TEST_DATABASE_URL or DATABASE_URL")
	}
	pool := testutil.OpenPGXPool(t, prefix)
	_, err := pool.Exec(context.Background(), infrastructure.SchemaSQL)
	require.NoError(t, err)
	return store.New(pool)
}

func TestAggregator_Recompute_PropagatesCounts(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "aggregator_recompute")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-agg", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 2,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-agg-1", MasterID: "m-agg", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-agg-2", MasterID: "m-agg", SampleID: "sample-2", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))

	_, err := q.ClaimSubTask(ctx, "st-agg-1", -1)
	require.NoError(t, err)
	_, err = q.MarkSubmitted(ctx, "st-agg-1", "ext-1")
	require.NoError(t, err)
	_, err = q.AdvanceAnalyzing(ctx, "st-agg-1")
	require.NoError(t, err)
	_, err = q.AdvanceCompleted(ctx, "st-agg-1")
	require.NoError(t, err)

	a := New(q)
	require.NoError(t, a.Recompute(ctx, "m-agg"))

	m, err := q.GetMaster(ctx, "m-agg")
	require.NoError(t, err)
	require.Equal(t, 1, m.CompletedSamples)
	require.Equal(t, 50, m.ProgressPercent)
	require.Equal(t, domain.MasterRunning, m.Status)
}

func TestAggregator_Recompute_IdenticalLifecyclesConverge(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "aggregator_converge")
	a := New(q)

	drive := func(masterID, subTaskID string) *domain.MasterTask {
		require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
			ID: masterID, Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
			TaskType: domain.TaskTypeBatch, TotalSamples: 1,
		}))
		require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
			ID: subTaskID, MasterID: masterID, SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		}))
		_, err := q.ClaimSubTask(ctx, subTaskID, -1)
		require.NoError(t, err)
		_, err = q.MarkSubmitted(ctx, subTaskID, "ext-1")
		require.NoError(t, err)
		_, err = q.AdvanceAnalyzing(ctx, subTaskID)
		require.NoError(t, err)
		_, err = q.AdvanceCompleted(ctx, subTaskID)
		require.NoError(t, err)

		require.NoError(t, a.Recompute(ctx, masterID))
		m, err := q.GetMaster(ctx, masterID)
		require.NoError(t, err)
		return m
	}

	first := drive("m-agg-conv-1", "st-agg-conv-1")
	second := drive("m-agg-conv-2", "st-agg-conv-2")

	if diff := cmp.Diff(first, second, masterDiffOpts); diff != "" {
		t.Fatalf("progress state diverged between identically-driven masters (-first +second):\n%s", diff)
	}
}

func TestAggregator_Trigger_SwallowsErrorForUnknownMaster(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "aggregator_trigger_unknown")

	a := New(q)
	// Recomputing a non-existent master is a no-op UPDATE (0 rows); Trigger
	// must not panic and must not propagate anything to the caller.
	a.Trigger(ctx, "does-not-exist")
}

func TestAggregator_Recompute_AllSubTasksCompletedMarksMasterCompleted(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "aggregator_full_completion")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-agg-done", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-agg-done", MasterID: "m-agg-done", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))
	_, err := q.ClaimSubTask(ctx, "st-agg-done", -1)
	require.NoError(t, err)
	_, err = q.MarkSubmitted(ctx, "st-agg-done", "ext-1")
	require.NoError(t, err)
	_, err = q.AdvanceAnalyzing(ctx, "st-agg-done")
	require.NoError(t, err)
	_, err = q.AdvanceCompleted(ctx, "st-agg-done")
	require.NoError(t, err)

	a := New(q)
	require.NoError(t, a.Recompute(ctx, "m-agg-done"))

	m, err := q.GetMaster(ctx, "m-agg-done")
	require.NoError(t, err)
	require.Equal(t, domain.MasterCompleted, m.Status)
	require.Equal(t, 100, m.ProgressPercent)
	require.NotNil(t, m.CompletedAt)
}
