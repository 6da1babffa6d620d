// Package pipeline drives a sub-task from Pending to at least Submitted
// (spec §4.4), grounded on the original SampleFarm's cape_processor.rs /
// cfg_processor.rs but restructured around the teacher's guarded-UPDATE
// persistence contract instead of an in-process task-local flag.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

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

// Registries resolves the instance registry for a sub-task's analyzer
// family.
type Registries interface {
	For(family domain.AnalyzerFamily) *registry.Registry
}

// Pipeline is the Submission Pipeline (C4).
type Pipeline struct {
	store      *store.Queries
	registries Registries
	samples    domain.SampleLookup
	objects    objectstore.Store
	agg        *aggregator.Aggregator
	cfg        Config
}

// New builds a Pipeline.
func New(q *store.Queries, registries Registries, samples domain.SampleLookup, objects objectstore.Store, agg *aggregator.Aggregator, cfg Config) *Pipeline {
	return &Pipeline{store: q, registries: registries, samples: samples, objects: objects, agg: agg, cfg: cfg}
}

// gate is the master-runnability check shared by steps 1 and between retry
// attempts (spec §4.4 step 1 and step 4 "re-assert the master gate").
// It returns ok=false if the caller should stop; when the master exists but
// is not runnable it has already paused the sub-task, and when the master is
// missing it leaves the sub-task as it is.
func (p *Pipeline) gate(ctx context.Context, subTaskID, masterID string) (ok bool, err error) {
	master, err := p.store.GetMaster(ctx, masterID)
	if err != nil {
		// Missing master: the sub-task is orphaned and left to cascade
		// delete (spec §4.4 step 1).
		return false, nil
	}
	if master.Status.Runnable() {
		return true, nil
	}
	if _, err := p.store.PauseGatedSubTask(ctx, subTaskID, "master not runnable"); err != nil {
		return false, err
	}
	return false, nil
}

// SubmitOne drives one sub-task from Pending to at least Submitted (spec
// §4.4 steps 1-6). Losing the claim race, or a gated-off master, are not
// errors — SubmitOne returns nil silently in both cases.
func (p *Pipeline) SubmitOne(ctx context.Context, subTaskID string) error {
	start := time.Now()

	sub, err := p.store.GetSubTask(ctx, subTaskID)
	if err != nil {
		return fmt.Errorf("load sub-task %s: %w", subTaskID, err)
	}

	ok, err := p.gate(ctx, subTaskID, sub.MasterID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sentinel := domain.NegativeSentinel(time.Now())
	rows, err := p.store.ClaimSubTask(ctx, subTaskID, sentinel)
	if err != nil {
		return fmt.Errorf("claim sub-task %s: %w", subTaskID, err)
	}
	if rows == 0 {
		// Lost the race; another worker already owns this row.
		return nil
	}

	metrics.Submissions.WithLabelValues(string(sub.AnalyzerFamily), "claimed").Inc()

	externalID, submitErr := p.submitWithRetry(ctx, sub)

	metrics.SubmitDuration.WithLabelValues(string(sub.AnalyzerFamily)).Observe(time.Since(start).Seconds())

	if submitErr != nil {
		return p.handleSubmitFailure(ctx, sub, submitErr)
	}

	if _, err := p.store.MarkSubmitted(ctx, subTaskID, externalID); err != nil {
		return fmt.Errorf("mark sub-task %s submitted: %w", subTaskID, err)
	}
	metrics.Submissions.WithLabelValues(string(sub.AnalyzerFamily), "submitted").Inc()
	return nil
}

func (p *Pipeline) handleSubmitFailure(ctx context.Context, sub *domain.SubTask, submitErr error) error {
	if backend.IsTransient(submitErr) {
		// Retries exhausted on a transient error: roll back to Pending for
		// the recovery sweeper to pick up later (spec §4.4 step 6).
		if _, err := p.store.RollbackToPending(ctx, sub.ID, submitErr.Error()); err != nil {
			return fmt.Errorf("rollback sub-task %s to pending: %w", sub.ID, err)
		}
		metrics.Submissions.WithLabelValues(string(sub.AnalyzerFamily), "rolled_back").Inc()
		return nil
	}

	if _, err := p.store.MarkFailed(ctx, sub.ID, submitErr.Error()); err != nil {
		return fmt.Errorf("mark sub-task %s failed: %w", sub.ID, err)
	}
	metrics.Submissions.WithLabelValues(string(sub.AnalyzerFamily), "failed").Inc()
	p.agg.Trigger(ctx, sub.MasterID)
	return nil
}

// submitWithRetry materializes the payload and calls the backend's submit,
// classifying errors and retrying transient ones with exponential backoff
// (spec §4.4 steps 3-4).
func (p *Pipeline) submitWithRetry(ctx context.Context, sub *domain.SubTask) (externalID string, err error) {
	reg := p.registries.For(sub.AnalyzerFamily)
	if reg == nil {
		return "", &backend.PermanentError{Err: fmt.Errorf("no instance registry configured for family %s", sub.AnalyzerFamily)}
	}

	instanceID, err := p.chooseInstance(ctx, sub, reg)
	if err != nil {
		return "", err
	}

	client, err := reg.GetClient(ctx, instanceID)
	if err != nil || client == nil {
		return "", &backend.PermanentError{Err: fmt.Errorf("no client available for instance %s", instanceID)}
	}

	sample, samplePath, cleanup, err := p.materializePayload(ctx, sub)
	if err != nil {
		return "", err
	}
	defer cleanup()

	backoff := backend.BackoffPolicy{
		Initial:    p.cfg.InitialBackoff,
		Multiplier: p.cfg.Multiplier,
		Max:        p.cfg.MaxBackoff,
		Jitter:     p.cfg.Jitter,
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if ok, gateErr := p.gate(ctx, sub.ID, sub.MasterID); gateErr != nil || !ok {
				if gateErr != nil {
					return "", gateErr
				}
				return "", &backend.TransientError{Err: fmt.Errorf("master paused mid-retry")}
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff.Delay(attempt - 1)):
			}
			metrics.SubmitRetries.WithLabelValues(string(sub.AnalyzerFamily)).Inc()
		}

		f, openErr := os.Open(samplePath)
		if openErr != nil {
			return "", fmt.Errorf("open materialized sample: %w", openErr)
		}
		opts := backend.SubmitOptions{TaskID: sample.SHA256}
		id, submitErr := client.Submit(ctx, f, sample.FileName, opts)
		f.Close()

		if submitErr == nil {
			return id, nil
		}
		lastErr = submitErr
		if !backend.IsTransient(submitErr) {
			return "", submitErr
		}
	}
	return "", lastErr
}

// chooseInstance returns the sub-task's pre-assigned instance, falling back
// to one available instance when none was assigned at creation time.
func (p *Pipeline) chooseInstance(ctx context.Context, sub *domain.SubTask, reg *registry.Registry) (string, error) {
	if sub.InstanceID != nil && *sub.InstanceID != "" {
		return *sub.InstanceID, nil
	}
	available, err := reg.Available(ctx)
	if err != nil {
		return "", err
	}
	if len(available) == 0 {
		return "", &backend.TransientError{Err: fmt.Errorf("no available instances for family %s", sub.AnalyzerFamily)}
	}
	return available[0].ID, nil
}

// materializePayload downloads the sample bytes to a per-sub-task temp
// directory, preserving the original file name, and verifies the byte count
// (spec §4.4 step 3).
func (p *Pipeline) materializePayload(ctx context.Context, sub *domain.SubTask) (sample *domain.Sample, path string, cleanup func(), err error) {
	sample, err = p.samples.GetSample(ctx, sub.SampleID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("look up sample %s: %w", sub.SampleID, err)
	}

	dir := filepath.Join(p.cfg.TempDir, sub.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create temp dir for sub-task %s: %w", sub.ID, err)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to clean up submit temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	src, err := p.objects.Get(ctx, sample.ObjectKey)
	if err != nil {
		cleanup()
		return nil, "", nil, fmt.Errorf("download sample %s: %w", sample.ObjectKey, err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, sample.FileName)
	dst, err := os.Create(dstPath)
	if err != nil {
		cleanup()
		return nil, "", nil, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(dst, src)
	dst.Close()
	if err != nil {
		cleanup()
		return nil, "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if n == 0 {
		cleanup()
		return nil, "", nil, fmt.Errorf("materialized sample %s is 0 bytes", sample.ObjectKey)
	}

	return sample, dstPath, cleanup, nil
}

// SubmitBatch drives a list of sub-tasks through SubmitOne serially, with
// submitIntervalMs between each (spec §4.4 "Determinism & ordering").
// Cancellation via ctx is honored between submissions (spec §4.4
// "Cancellation").
func (p *Pipeline) SubmitBatch(ctx context.Context, subTaskIDs []string) error {
	for i, id := range subTaskIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.SubmitOne(ctx, id); err != nil {
			logger.Error("Submit failed", zap.String("sub_task_id", id), zap.Error(err))
		}
		if i < len(subTaskIDs)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(p.cfg.SubmitIntervalMs) * time.Millisecond):
			}
		}
	}
	return nil
}
