// Package poller implements the Status Poller (C5): a fixed-period
// background loop that fans out across every registered backend instance in
// parallel, advances each in-flight sub-task's local status from the
// backend's reported lifecycle string, and triggers master progress
// aggregation on every terminal transition. Grounded on the teacher's
// ClusterHealthChecker ticker-loop shape, fanned out with an errgroup
// instead of one goroutine per cluster since per-instance poll work here is
// itself a batch of per-row backend calls.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/metrics"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
)

// Registries resolves the instance registry for an analyzer family.
type Registries interface {
	For(family domain.AnalyzerFamily) *registry.Registry
}

// Poller is the status poller over one analyzer family.
type Poller struct {
	family     domain.AnalyzerFamily
	store      *store.Queries
	registries Registries
	agg        *aggregator.Aggregator
	cfg        Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Poller for one analyzer family.
func New(family domain.AnalyzerFamily, q *store.Queries, registries Registries, agg *aggregator.Aggregator, cfg Config) *Poller {
	return &Poller{
		family:     family,
		store:      q,
		registries: registries,
		agg:        agg,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the poller's ticker loop in its own goroutine.
func (p *Poller) Start(ctx context.Context) {
	// nolint:naked-goroutine // background ticker loop, not request-scoped
	// work; mirrors the teacher's ClusterHealthChecker.Start.
	go func() {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := p.Tick(ctx); err != nil {
					logger.Warn("Poll tick failed", zap.String("family", string(p.family)), zap.Error(err))
				}
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poller's ticker loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Tick runs one poll cycle: every registered instance in the family is
// processed concurrently (spec §4.5 step 1).
func (p *Poller) Tick(ctx context.Context) error {
	reg := p.registries.For(p.family)
	if reg == nil {
		return nil
	}

	enabled := true
	instances, err := reg.List(ctx, &enabled, nil)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			p.pollInstance(gctx, reg, inst)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) pollInstance(ctx context.Context, reg *registry.Registry, inst *domain.BackendInstance) {
	metrics.PollTicks.WithLabelValues(inst.ID).Inc()

	candidates, err := p.store.PollCandidates(ctx, store.PollCandidatesParams{
		InstanceID: inst.ID,
		Limit:      p.cfg.PerInstanceBatch,
	})
	if err != nil {
		logger.Warn("Poll candidates query failed", zap.String("instance_id", inst.ID), zap.Error(err))
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
		if domain.IsSentinel(sub.ExternalTaskID) {
			continue
		}
		p.pollOne(ctx, client, sub)
	}
}

func (p *Poller) pollOne(ctx context.Context, client backend.Client, sub *domain.SubTask) {
	status, err := client.Status(ctx, *sub.ExternalTaskID)
	if err != nil {
		// Status query error (backend down): bump updated_at and persist
		// the error without changing status so the row moves to the tail
		// of the queue (spec §4.5 "anti-head-of-line-blocking").
		if touchErr := p.store.TouchError(ctx, sub.ID, err.Error()); touchErr != nil {
			logger.Warn("Failed to persist poll error", zap.String("sub_task_id", sub.ID), zap.Error(touchErr))
		}
		return
	}

	switch {
	case status.Failed():
		if _, err := p.store.MarkFailed(ctx, sub.ID, string(status)); err != nil {
			logger.Warn("Failed to mark sub-task failed", zap.String("sub_task_id", sub.ID), zap.Error(err))
			return
		}
		metrics.PollTransitions.WithLabelValues(string(domain.SubTaskFailed)).Inc()
		p.agg.Trigger(ctx, sub.MasterID)

	case status == backend.StatusPending, status == backend.StatusRunning, status == backend.StatusAnalyzing:
		if sub.Status != domain.SubTaskSubmitted {
			return
		}
		if rows, err := p.store.AdvanceAnalyzing(ctx, sub.ID); err != nil {
			logger.Warn("Failed to advance sub-task to analyzing", zap.String("sub_task_id", sub.ID), zap.Error(err))
		} else if rows > 0 {
			metrics.PollTransitions.WithLabelValues(string(domain.SubTaskAnalyzing)).Inc()
		}

	case status == backend.StatusCompleted, status == backend.StatusReported:
		if sub.Status != domain.SubTaskAnalyzing {
			return
		}
		rows, err := p.store.AdvanceCompleted(ctx, sub.ID)
		if err != nil {
			logger.Warn("Failed to advance sub-task to completed", zap.String("sub_task_id", sub.ID), zap.Error(err))
			return
		}
		if rows > 0 {
			metrics.PollTransitions.WithLabelValues(string(domain.SubTaskCompleted)).Inc()
			p.agg.Trigger(ctx, sub.MasterID)
		}

	default:
		logger.Debug("Unrecognized backend lifecycle status",
			zap.String("sub_task_id", sub.ID), zap.String("status", string(status)))
	}
}
