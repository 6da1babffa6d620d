package pipeline

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/infrastructure"
	"sampleforge.io/orchestrator/internal/objectstore"
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

type fakeSamples struct {
	samples map[string]*domain.Sample
}

func (f *fakeSamples) GetSample(ctx context.Context, sampleID string) (*domain.Sample, error) {
	s, ok := f.samples[sampleID]
	if !ok {
		return nil, os.ErrNotExist
	}
	return s, nil
}

type fakeSubmitClient struct {
	id      string
	err     error
	calls   int
	failN   int
	failErr error
}

func (f *fakeSubmitClient) Submit(ctx context.Context, body io.Reader, fileName string, opts backend.SubmitOptions) (string, error) {
	f.calls++
	if f.calls <= f.failN {
		return "", f.failErr
	}
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeSubmitClient) Status(ctx context.Context, externalID string) (backend.LifecycleStatus, error) {
	return backend.StatusPending, nil
}
func (f *fakeSubmitClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	return nil, backend.ErrNotSupported
}
func (f *fakeSubmitClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	return nil, backend.ErrNotSupported
}
func (f *fakeSubmitClient) Health(ctx context.Context) error { return nil }

type singleRegistries struct {
	reg *registry.Registry
}

func (s singleRegistries) For(family domain.AnalyzerFamily) *registry.Registry { return s.reg }

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func setupSampleAndInstance(t *testing.T, ctx context.Context, q *store.Queries, instID string) (*fakeSamples, objectstore.Store) {
	t.Helper()
	require.NoError(t, q.CreateInstance(ctx, store.CreateInstanceParams{
		ID: instID, Family: domain.FamilyDynamicSandbox, Name: "n", BaseURL: "http://x",
		Enabled: true, MaxConcurrentTasks: 1, HealthCheckIntervalSecs: 30,
	}))

	objects := objectstore.NewFSStore(t.TempDir())
	_, err := objects.Put(ctx, "samples/sample-1.bin", strings.NewReader("malware-bytes"))
	require.NoError(t, err)

	samples := &fakeSamples{samples: map[string]*domain.Sample{
		"sample-1": {SampleID: "sample-1", SHA256: "deadbeef", FileName: "sample-1.bin", ObjectKey: "samples/sample-1.bin"},
	}}
	return samples, objects
}

func TestPipeline_SubmitOne_HappyPath(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_happy_path")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-1", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	iid := "inst-pipe-1"
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-1", MasterID: "m-pipe-1", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		InstanceID: &iid,
	}))

	samples, objects := setupSampleAndInstance(t, ctx, q, iid)
	client := &fakeSubmitClient{id: "123"}
	reg := registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client { return client })

	p := New(q, singleRegistries{reg}, samples, objects, aggregator.New(q), testConfig(t))
	require.NoError(t, p.SubmitOne(ctx, "st-pipe-1"))

	sub, err := q.GetSubTask(ctx, "st-pipe-1")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskSubmitted, sub.Status)
	require.Equal(t, "123", *sub.ExternalTaskID)
}

func TestPipeline_SubmitOne_GatedMasterPausesSubTask(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_gated_master")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-2", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-2", MasterID: "m-pipe-2", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))
	_, err := q.PauseMaster(ctx, "m-pipe-2", "operator request")
	require.NoError(t, err)
	_, err = q.CascadePauseSubTasks(ctx, "m-pipe-2")
	require.NoError(t, err)

	samples := &fakeSamples{samples: map[string]*domain.Sample{}}
	p := New(q, singleRegistries{nil}, samples, objectstore.NewFSStore(t.TempDir()), aggregator.New(q), testConfig(t))

	require.NoError(t, p.SubmitOne(ctx, "st-pipe-2"))

	sub, err := q.GetSubTask(ctx, "st-pipe-2")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskPaused, sub.Status)
}

func TestPipeline_SubmitOne_LostClaimRaceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_lost_claim")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-3", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-3", MasterID: "m-pipe-3", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
	}))
	_, err := q.ClaimSubTask(ctx, "st-pipe-3", -1)
	require.NoError(t, err)

	samples := &fakeSamples{samples: map[string]*domain.Sample{}}
	p := New(q, singleRegistries{nil}, samples, objectstore.NewFSStore(t.TempDir()), aggregator.New(q), testConfig(t))

	require.NoError(t, p.SubmitOne(ctx, "st-pipe-3"))
}

func TestPipeline_SubmitOne_TransientFailureRollsBackToPending(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_transient_rollback")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-4", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	iid := "inst-pipe-4"
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-4", MasterID: "m-pipe-4", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		InstanceID: &iid,
	}))

	samples, objects := setupSampleAndInstance(t, ctx, q, iid)
	client := &fakeSubmitClient{failN: 99, failErr: &backend.TransientError{Err: context.DeadlineExceeded}}
	reg := registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client { return client })

	cfg := testConfig(t)
	cfg.MaxAttempts = 2
	p := New(q, singleRegistries{reg}, samples, objects, aggregator.New(q), cfg)

	require.NoError(t, p.SubmitOne(ctx, "st-pipe-4"))

	sub, err := q.GetSubTask(ctx, "st-pipe-4")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskPending, sub.Status)
	require.Equal(t, 1, sub.RetryCount)
	require.Equal(t, 2, client.calls)
}

func TestPipeline_SubmitOne_PermanentFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_permanent_failed")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-5", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 1,
	}))
	iid := "inst-pipe-5"
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-5", MasterID: "m-pipe-5", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox,
		InstanceID: &iid,
	}))

	samples, objects := setupSampleAndInstance(t, ctx, q, iid)
	client := &fakeSubmitClient{failN: 1, failErr: &backend.PermanentError{Err: context.Canceled}}
	reg := registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client { return client })

	p := New(q, singleRegistries{reg}, samples, objects, aggregator.New(q), testConfig(t))

	require.NoError(t, p.SubmitOne(ctx, "st-pipe-5"))

	sub, err := q.GetSubTask(ctx, "st-pipe-5")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskFailed, sub.Status)
	require.Equal(t, 1, client.calls)

	m, err := q.GetMaster(ctx, "m-pipe-5")
	require.NoError(t, err)
	require.Equal(t, 1, m.FailedSamples, "permanent failure must recompute the owning master")
	require.Equal(t, domain.MasterFailed, m.Status)
}

func TestPipeline_SubmitBatch_ProcessesAllSerially(t *testing.T) {
	ctx := context.Background()
	q := newTestStore(t, "pipeline_submit_batch")

	require.NoError(t, q.CreateMaster(ctx, store.CreateMasterParams{
		ID: "m-pipe-6", Name: "t", AnalyzerFamily: domain.FamilyDynamicSandbox,
		TaskType: domain.TaskTypeBatch, TotalSamples: 2,
	}))
	iid := "inst-pipe-6"
	samples, objects := setupSampleAndInstance(t, ctx, q, iid)
	samples.samples["sample-2"] = &domain.Sample{SampleID: "sample-2", SHA256: "cafebabe", FileName: "s2.bin", ObjectKey: "samples/sample-1.bin"}

	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-6a", MasterID: "m-pipe-6", SampleID: "sample-1", AnalyzerFamily: domain.FamilyDynamicSandbox, InstanceID: &iid,
	}))
	require.NoError(t, q.CreateSubTask(ctx, store.CreateSubTaskParams{
		ID: "st-pipe-6b", MasterID: "m-pipe-6", SampleID: "sample-2", AnalyzerFamily: domain.FamilyDynamicSandbox, InstanceID: &iid,
	}))

	client := &fakeSubmitClient{id: "999"}
	reg := registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client { return client })

	cfg := testConfig(t)
	cfg.SubmitIntervalMs = 1
	p := New(q, singleRegistries{reg}, samples, objects, aggregator.New(q), cfg)

	require.NoError(t, p.SubmitBatch(ctx, []string{"st-pipe-6a", "st-pipe-6b"}))

	a, err := q.GetSubTask(ctx, "st-pipe-6a")
	require.NoError(t, err)
	b, err := q.GetSubTask(ctx, "st-pipe-6b")
	require.NoError(t, err)
	require.Equal(t, domain.SubTaskSubmitted, a.Status)
	require.Equal(t, domain.SubTaskSubmitted, b.Status)
}
