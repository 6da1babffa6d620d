// Package sweeper implements the Startup Recovery Sweeper (C7): a
// once-at-boot-then-periodic loop that resubmits pending, unclaimed
// sub-tasks (Job A) and reclaims sub-tasks stuck mid-claim (Job B).
// Grounded on the original SampleFarm's startup_recovery.rs, restructured
// around the submission pipeline's guarded-UPDATE contract instead of an
// in-process retry counter.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/metrics"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/store"
)

// Submitter is the narrow collaborator the sweeper needs from the
// submission pipeline (spec §4.7 Job A "invoke the Submission Pipeline").
type Submitter interface {
	SubmitOne(ctx context.Context, subTaskID string) error
}

// Sweeper is the startup recovery sweeper.
type Sweeper struct {
	store     *store.Queries
	submitter Submitter
	families  []domain.AnalyzerFamily
	cfg       Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Sweeper. families lists every analyzer family with a
// registered submit path (spec §4.7 Job A "for each family with a
// registered submit path").
func New(q *store.Queries, submitter Submitter, families []domain.AnalyzerFamily, cfg Config) *Sweeper {
	return &Sweeper{
		store:     q,
		submitter: submitter,
		families:  families,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the boot-delay-then-periodic sweep loop in its own
// goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	// nolint:naked-goroutine // background ticker loop, not request-scoped.
	go func() {
		select {
		case <-time.After(s.cfg.BootDelay):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}

		s.Sweep(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Sweep runs Job A and Job B once.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.jobAResubmitPending(ctx)
	s.jobBUnstickSubmitting(ctx)
}

// jobAResubmitPending fans the per-family sweeps out across an errgroup, the
// same bounded-fan-out shape the poller uses for its per-instance ticks.
// Each family still serializes its own resubmits through cfg.ResubmitGap;
// the errgroup only parallelizes across families.
func (s *Sweeper) jobAResubmitPending(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, family := range s.families {
		family := family
		g.Go(func() error {
			s.resubmitFamily(gctx, family)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) resubmitFamily(ctx context.Context, family domain.AnalyzerFamily) {
	candidates, err := s.store.PendingResubmitCandidates(ctx, family, s.cfg.BatchSize)
	if err != nil {
		logger.Warn("Job A candidate query failed", zap.String("family", string(family)), zap.Error(err))
		return
	}
	for i, sub := range candidates {
		if err := s.submitter.SubmitOne(ctx, sub.ID); err != nil {
			logger.Warn("Job A resubmit failed", zap.String("sub_task_id", sub.ID), zap.Error(err))
		} else {
			metrics.SweeperRescues.WithLabelValues("resubmit_pending").Inc()
		}
		if i < len(candidates)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ResubmitGap):
			}
		}
	}
}

func (s *Sweeper) jobBUnstickSubmitting(ctx context.Context) {
	threshold := time.Now().Add(-s.cfg.StuckThreshold)
	candidates, err := s.store.StuckSubmittingCandidates(ctx, threshold, s.cfg.BatchSize)
	if err != nil {
		logger.Warn("Job B candidate query failed", zap.Error(err))
		return
	}
	for _, sub := range candidates {
		rows, err := s.store.UnstickSubmitting(ctx, sub.ID)
		if err != nil {
			logger.Warn("Job B unstick failed", zap.String("sub_task_id", sub.ID), zap.Error(err))
			continue
		}
		if rows > 0 {
			metrics.SweeperRescues.WithLabelValues("unstick_submitting").Inc()
		}
	}
}
