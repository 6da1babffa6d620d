package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/infrastructure"
	"sampleforge.io/orchestrator/internal/objectstore"
	"sampleforge.io/orchestrator/internal/pauseresume"
	"sampleforge.io/orchestrator/internal/pipeline"
	"sampleforge.io/orchestrator/internal/pkg/worker"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
	"sampleforge.io/orchestrator/internal/testutil"
)

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

func newTestServer(t *testing.T, q *store.Queries) *Server {
	t.Helper()
	agg := aggregator.New(q)
	pl := pipeline.New(q, registry.Set{}, nil, objectstore.NewFSStore(t.TempDir()), agg, pipeline.DefaultConfig())
	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)
	pr := pauseresume.New(q, pl, pools, agg)
	return NewServer(q, registry.Set{}, pl, pr, agg, objectstore.NewFSStore(t.TempDir()))
}

func newTestRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, s)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask_HappyPath(t *testing.T) {
	q := newTestStore(t, "api_create_task")
	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"name":            "batch-1",
		"analyzer_family": "DynamicSandbox",
		"sample_ids":      []string{"sample-1", "sample-2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "created", resp.Msg)
}

func TestCreateTask_RejectsInvalidFamily(t *testing.T) {
	q := newTestStore(t, "api_create_task_invalid_family")
	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"name":            "batch-1",
		"analyzer_family": "Bogus",
		"sample_ids":      []string{"sample-1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_RejectsEmptySampleSet(t *testing.T) {
	q := newTestStore(t, "api_create_task_empty_samples")
	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"name":            "batch-1",
		"analyzer_family": "DynamicSandbox",
		"sample_ids":      []string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFoundReturns404(t *testing.T) {
	q := newTestStore(t, "api_get_task_not_found")
	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskStatus_ReportsAggregateFields(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_get_task_status")
	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-api-status", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 2,
	}))

	router := newTestRouter(newTestServer(t, q))
	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/m-api-status/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data taskStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Data.TotalSamples)
	require.Equal(t, domain.MasterPending, resp.Data.Status)
}

func TestPauseThenResumeTask(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_pause_resume_task")
	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-api-pr", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-api-pr", MasterID: "m-api-pr", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))

	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tasks/m-api-pr/pause", map[string]string{"reason": "operator"})
	require.Equal(t, http.StatusOK, rec.Code)

	m, err := q.GetMaster(ctx, "m-api-pr")
	require.NoError(t, err)
	require.Equal(t, domain.MasterPaused, m.Status)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tasks/m-api-pr/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	m, err = q.GetMaster(ctx, "m-api-pr")
	require.NoError(t, err)
	require.Equal(t, domain.MasterRunning, m.Status)
}

func TestDeleteTask_CascadesAndReturnsNotFoundOnSecondDelete(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_delete_task")
	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-api-del", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))

	router := newTestRouter(newTestServer(t, q))

	rec := doRequest(t, router, http.MethodDelete, "/api/v1/tasks/m-api-del", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/tasks/m-api-del", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSubTasks_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_list_subtasks")
	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-api-list", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-api-list", MasterID: "m-api-list", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))

	router := newTestRouter(newTestServer(t, q))
	rec := doRequest(t, router, http.MethodGet, "/api/v1/tasks/m-api-list/sub-tasks?status=Pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []*domain.SubTask `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
}
