// Package fetcher implements the Report Fetcher (C6): a background loop,
// independent of the status poller, that pulls the backend's report for
// every Completed-but-unreported sub-task, derives family-specific result
// fields, and persists exactly one AnalysisResult per sub-task. Grounded on
// the original SampleFarm's cape_report_fetcher.rs / cfg_report_fetcher.rs,
// restructured around the same guarded-INSERT and ticker-loop idioms the
// rest of this module uses.
package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/metrics"
	"sampleforge.io/orchestrator/internal/objectstore"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
)

// Registries resolves the instance registry for an analyzer family.
type Registries interface {
	For(family domain.AnalyzerFamily) *registry.Registry
}

// Fetcher is the report fetcher for one analyzer family.
type Fetcher struct {
	family     domain.AnalyzerFamily
	store      *store.Queries
	registries Registries
	objects    objectstore.Store
	agg        *aggregator.Aggregator
	cfg        Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Fetcher for one analyzer family.
func New(family domain.AnalyzerFamily, q *store.Queries, registries Registries, objects objectstore.Store, agg *aggregator.Aggregator, cfg Config) *Fetcher {
	return &Fetcher{
		family:     family,
		store:      q,
		registries: registries,
		objects:    objects,
		agg:        agg,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the fetcher's ticker loop in its own goroutine.
func (f *Fetcher) Start(ctx context.Context) {
	// nolint:naked-goroutine // background ticker loop, not request-scoped.
	go func() {
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := f.Tick(ctx); err != nil {
					logger.Warn("Fetch tick failed", zap.String("family", string(f.family)), zap.Error(err))
				}
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the fetcher's ticker loop.
func (f *Fetcher) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})
}

// Tick runs one fetch cycle across every registered instance in the family.
func (f *Fetcher) Tick(ctx context.Context) error {
	reg := f.registries.For(f.family)
	if reg == nil {
		return nil
	}

	enabled := true
	instances, err := reg.List(ctx, &enabled, nil)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		f.fetchInstance(ctx, reg, inst)
	}
	return nil
}

func (f *Fetcher) fetchInstance(ctx context.Context, reg *registry.Registry, inst *domain.BackendInstance) {
	candidates, err := f.store.FetchCandidates(ctx, inst.ID, f.cfg.PerInstanceBatch)
	if err != nil {
		logger.Warn("Fetch candidates query failed", zap.String("instance_id", inst.ID), zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	client, err := reg.GetClient(ctx, inst.ID)
	if err != nil || client == nil {
		logger.Warn("No client for instance", zap.String("instance_id", inst.ID))
		return
	}

	for _, sub := range candidates {
		f.fetchOne(ctx, client, sub)
	}
}

// fetchOne retrieves and persists the report for one Completed sub-task
// (spec §4.6 steps 1-4). Any failure leaves the sub-task Completed without a
// result, for the next tick to retry.
func (f *Fetcher) fetchOne(ctx context.Context, client backend.Client, sub *domain.SubTask) {
	externalID := *sub.ExternalTaskID

	raw, err := f.fetchReportWithRetry(ctx, client, externalID)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues(string(sub.AnalyzerFamily), "failed").Inc()
		logger.Debug("Report fetch failed, will retry next tick",
			zap.String("sub_task_id", sub.ID), zap.Error(err))
		return
	}

	resultID := uuid.NewString()
	var params store.InsertResultParams
	switch sub.AnalyzerFamily {
	case domain.FamilyDynamicSandbox:
		params, err = buildDynamicSandboxResult(resultID, sub.ID, externalID, raw)
	case domain.FamilyFeatureExtractor:
		params, err = f.buildFeatureExtractorResult(ctx, client, resultID, sub.ID, externalID, raw)
	default:
		logger.Warn("Unknown analyzer family in fetch", zap.String("sub_task_id", sub.ID))
		return
	}
	if err != nil {
		metrics.FetchAttempts.WithLabelValues(string(sub.AnalyzerFamily), "parse_failed").Inc()
		logger.Warn("Failed to build analysis result", zap.String("sub_task_id", sub.ID), zap.Error(err))
		return
	}

	rows, err := f.store.InsertResult(ctx, params)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues(string(sub.AnalyzerFamily), "insert_failed").Inc()
		logger.Warn("Failed to insert analysis result", zap.String("sub_task_id", sub.ID), zap.Error(err))
		return
	}
	if rows == 0 {
		// Another fetcher tick already inserted this result (spec invariant
		// §3.5); nothing further to do.
		return
	}
	metrics.FetchAttempts.WithLabelValues(string(sub.AnalyzerFamily), "stored").Inc()
}

// fetchReportWithRetry calls client.Report, backing off while the backend
// signals "still being analyzed" (spec §4.6 step 1).
func (f *Fetcher) fetchReportWithRetry(ctx context.Context, client backend.Client, externalID string) ([]byte, error) {
	for attempt := 1; attempt <= backend.ReportFetchMaxAttempts; attempt++ {
		raw, err := client.Report(ctx, externalID)
		if err == nil {
			return raw, nil
		}
		if err != backend.ErrStillAnalyzing {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backend.ReportFetchBackoff.Delay(attempt - 1)):
		}
	}
	return nil, backend.ErrStillAnalyzing
}
