package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/objectstore"
	"sampleforge.io/orchestrator/internal/pauseresume"
	"sampleforge.io/orchestrator/internal/pipeline"
	"sampleforge.io/orchestrator/internal/pkg/worker"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
)

type executeFakeSamples struct {
	samples map[string]*domain.Sample
}

func (f *executeFakeSamples) GetSample(ctx context.Context, sampleID string) (*domain.Sample, error) {
	s, ok := f.samples[sampleID]
	if !ok {
		return nil, errors.New("sample not found: " + sampleID)
	}
	return s, nil
}

type executeFakeClient struct {
	id string
}

func (c *executeFakeClient) Submit(ctx context.Context, body io.Reader, fileName string, opts backend.SubmitOptions) (string, error) {
	return c.id, nil
}
func (c *executeFakeClient) Status(ctx context.Context, externalID string) (backend.LifecycleStatus, error) {
	return backend.StatusRunning, nil
}
func (c *executeFakeClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	return nil, backend.ErrNotSupported
}
func (c *executeFakeClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	return nil, backend.ErrNotSupported
}
func (c *executeFakeClient) Health(ctx context.Context) error { return nil }

type executeFailingClient struct{}

func (c *executeFailingClient) Submit(ctx context.Context, body io.Reader, fileName string, opts backend.SubmitOptions) (string, error) {
	return "", &backend.PermanentError{Err: errors.New("backend rejected sample")}
}
func (c *executeFailingClient) Status(ctx context.Context, externalID string) (backend.LifecycleStatus, error) {
	return "", backend.ErrNotSupported
}
func (c *executeFailingClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	return nil, backend.ErrNotSupported
}
func (c *executeFailingClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	return nil, backend.ErrNotSupported
}
func (c *executeFailingClient) Health(ctx context.Context) error { return nil }

// newExecuteTestServer wires a pipeline with a real registry and a scripted
// backend.Client instead of the bare registry.Set{} newTestServer uses, so
// the execute routes have somewhere to actually submit to. objs is shared
// with the pipeline so a caller can seed sample bytes the pipeline will
// then materialize during submission.
func newExecuteTestServer(t *testing.T, q *store.Queries, samples *executeFakeSamples, objs objectstore.Store) *Server {
	t.Helper()
	return newExecuteTestServerWithClient(t, q, samples, objs, &executeFakeClient{id: "ext-exec-1"})
}

func newExecuteTestServerWithClient(t *testing.T, q *store.Queries, samples *executeFakeSamples, objs objectstore.Store, client backend.Client) *Server {
	t.Helper()
	reg := registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client {
		return client
	})
	regs := registry.Set{domain.FamilyDynamicSandbox: reg}

	agg := aggregator.New(q)
	cfg := pipeline.DefaultConfig()
	cfg.TempDir = t.TempDir()
	pl := pipeline.New(q, regs, samples, objs, agg, cfg)

	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)
	pr := pauseresume.New(q, pl, pools, agg)
	return NewServer(q, regs, pl, pr, agg, objs)
}

func TestExecuteDynamicSandbox_SubmitsPendingSubTasks(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_execute_dynamic_sandbox")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-exec-1", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateInstance(ctx, store.CreateInstanceParams{
		ID: "inst-exec-1", Family: domain.FamilyDynamicSandbox, Name: "n", BaseURL: "http://x",
		Enabled: true, MaxConcurrentTasks: 1, HealthCheckIntervalSecs: 30,
	}))
	iid := "inst-exec-1"
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-exec-1", MasterID: "m-exec-1", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		InstanceID: &iid,
	}))

	objs := objectstore.NewFSStore(t.TempDir())
	_, err := objs.Put(ctx, "samples/sample-1.bin", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	samples := &executeFakeSamples{samples: map[string]*domain.Sample{
		"sample-1": {SampleID: "sample-1", SHA256: "abc", FileName: "sample-1.bin", ObjectKey: "samples/sample-1.bin"},
	}}

	s := newExecuteTestServer(t, q, samples, objs)
	router := newTestRouter(s)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/dynamicsandbox/execute", map[string]interface{}{
		"master_id": "m-exec-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := q.GetSubTask(ctx, "st-exec-1")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskSubmitted, sub.Status)
}

func TestExecuteDynamicSandbox_PermanentFailureUpdatesMasterProgress(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_execute_permanent_failure")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-exec-4", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateInstance(ctx, store.CreateInstanceParams{
		ID: "inst-exec-4", Family: domain.FamilyDynamicSandbox, Name: "n", BaseURL: "http://x",
		Enabled: true, MaxConcurrentTasks: 1, HealthCheckIntervalSecs: 30,
	}))
	iid := "inst-exec-4"
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-exec-4", MasterID: "m-exec-4", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		InstanceID: &iid,
	}))

	objs := objectstore.NewFSStore(t.TempDir())
	_, err := objs.Put(ctx, "samples/sample-1.bin", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	samples := &executeFakeSamples{samples: map[string]*domain.Sample{
		"sample-1": {SampleID: "sample-1", SHA256: "abc", FileName: "sample-1.bin", ObjectKey: "samples/sample-1.bin"},
	}}

	s := newExecuteTestServerWithClient(t, q, samples, objs, &executeFailingClient{})
	router := newTestRouter(s)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/dynamicsandbox/execute", map[string]interface{}{
		"master_id": "m-exec-4",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := q.GetSubTask(ctx, "st-exec-4")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskFailed, sub.Status)

	m, err := q.GetMaster(ctx, "m-exec-4")
	require.NoError(t, err)
	require.Equal(t, 1, m.FailedSamples, "execute must recompute the master's progress after submission")
	require.Equal(t, domain.MasterFailed, m.Status)
}

func TestExecuteDynamicSandbox_RejectsMismatchedFamily(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_execute_family_mismatch")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-exec-2", Name: "t", AnalyzerFamily: domain.FamilyFeatureExtractor,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))

	s := newExecuteTestServer(t, q, &executeFakeSamples{samples: map[string]*domain.Sample{}}, objectstore.NewFSStore(t.TempDir()))
	router := newTestRouter(s)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/dynamicsandbox/execute", map[string]interface{}{
		"master_id": "m-exec-2",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteDynamicSandbox_UnknownMasterReturns404(t *testing.T) {
	q := newTestStore(t, "api_execute_unknown_master")
	s := newExecuteTestServer(t, q, &executeFakeSamples{samples: map[string]*domain.Sample{}}, objectstore.NewFSStore(t.TempDir()))
	router := newTestRouter(s)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/dynamicsandbox/execute", map[string]interface{}{
		"master_id": "missing",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFamilyStatus_ReportsCounts(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "api_family_status")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-exec-3", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))

	s := newExecuteTestServer(t, q, &executeFakeSamples{samples: map[string]*domain.Sample{}}, objectstore.NewFSStore(t.TempDir()))
	router := newTestRouter(s)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/dynamicsandbox/status/m-exec-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data taskStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Data.TotalSamples)
}
