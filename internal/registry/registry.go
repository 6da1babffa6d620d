// Package registry implements the per-analyzer-family instance registry
// (spec §4.2): instance CRUD, a cached client per instance, and an
// independent health-check probe loop. Adapted from the teacher's
// provider.ClusterHealthChecker, generalized from one Kubernetes cluster
// client to N backend-instance clients and extended with a circuit breaker
// per instance so calls to a failing backend fail fast; which instances are
// handed out is still decided by the stored health status.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/pkg/errors"
	"sampleforge.io/orchestrator/internal/pkg/logger"
	"sampleforge.io/orchestrator/internal/store"
)

// ClientFactory builds a backend.Client for a given instance. The
// composition root supplies one per family (DynamicSandboxClient /
// FeatureExtractorClient constructors).
type ClientFactory func(instance *domain.BackendInstance) backend.Client

// Registry holds configuration and cached clients for one analyzer family.
type Registry struct {
	family  domain.AnalyzerFamily
	store   *store.Queries
	factory ClientFactory

	mu      sync.RWMutex
	clients map[string]*cachedClient

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cachedClient struct {
	client  backend.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Registry for one analyzer family.
func New(family domain.AnalyzerFamily, q *store.Queries, factory ClientFactory) *Registry {
	return &Registry{
		family:  family,
		store:   q,
		factory: factory,
		clients: make(map[string]*cachedClient),
		stopCh:  make(chan struct{}),
	}
}

// CreateInstance registers a new backend instance (spec §4.2 create).
func (r *Registry) CreateInstance(ctx context.Context, p store.CreateInstanceParams) error {
	p.Family = r.family
	return r.store.CreateInstance(ctx, p)
}

// UpdateInstance updates an existing instance's mutable fields.
func (r *Registry) UpdateInstance(ctx context.Context, p store.UpdateInstanceParams) error {
	rows, err := r.store.UpdateInstance(ctx, p)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound(errors.CodeInstanceNotFound, "backend instance not found: "+p.ID)
	}
	r.evict(p.ID)
	return nil
}

// DeleteInstance deletes an instance, refusing if it is still referenced by
// any sub-task (spec §4.2 "delete is refused").
func (r *Registry) DeleteInstance(ctx context.Context, id string) error {
	if _, err := r.store.GetInstance(ctx, id); err != nil {
		return errors.NotFound(errors.CodeInstanceNotFound, "backend instance not found: "+id)
	}
	rows, err := r.store.DeleteInstance(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.ErrInstanceInUsef(id)
	}
	r.evict(id)
	return nil
}

// Get fetches one instance by id.
func (r *Registry) Get(ctx context.Context, id string) (*domain.BackendInstance, error) {
	return r.store.GetInstance(ctx, id)
}

// List lists instances in this family.
func (r *Registry) List(ctx context.Context, enabledOnly *bool, status *domain.InstanceStatus) ([]*domain.BackendInstance, error) {
	return r.store.ListInstances(ctx, r.family, enabledOnly, status)
}

// Available returns the instances eligible for new dispatch (spec §4.2
// get_available).
func (r *Registry) Available(ctx context.Context) ([]*domain.BackendInstance, error) {
	return r.store.AvailableInstances(ctx, r.family)
}

// GetClient returns a cached, circuit-breaker-wrapped client for instance
// id, or nil if the instance is unknown (spec §4.2 get_client).
func (r *Registry) GetClient(ctx context.Context, id string) (backend.Client, error) {
	r.mu.RLock()
	cc, ok := r.clients[id]
	r.mu.RUnlock()
	if ok {
		return &breakerClient{inner: cc.client, breaker: cc.breaker}, nil
	}

	inst, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cc, ok := r.clients[id]; ok {
		return &breakerClient{inner: cc.client, breaker: cc.breaker}, nil
	}
	cc = &cachedClient{
		client: r.factory(inst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("%s-%s", r.family, inst.Name),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// "still being analyzed" is an expected, non-failing
				// condition (spec §4.6 step 1) and must not count toward
				// tripping the breaker.
				return err == nil || err == backend.ErrStillAnalyzing
			},
		}),
	}
	r.clients[id] = cc
	return &breakerClient{inner: cc.client, breaker: cc.breaker}, nil
}

// HealthCheck performs a single probe against instance id and persists the
// outcome (spec §4.2 health_check).
func (r *Registry) HealthCheck(ctx context.Context, id string) (*domain.HealthReport, error) {
	inst, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	client, err := r.GetClient(ctx, id)
	if err != nil || client == nil {
		return nil, fmt.Errorf("no client for instance %s", id)
	}

	start := time.Now()
	probeErr := client.Health(ctx)
	elapsed := time.Since(start)

	report := &domain.HealthReport{
		InstanceID:     id,
		ResponseTimeMs: elapsed.Milliseconds(),
		CheckedAt:      time.Now(),
	}
	if probeErr != nil {
		report.Status = domain.InstanceUnhealthy
		report.Error = probeErr.Error()
	} else {
		report.Status = domain.InstanceHealthy
	}

	if err := r.store.UpdateInstanceHealth(ctx, id, report.Status); err != nil {
		logger.Warn("Failed to persist instance health",
			zap.String("instance_id", id), zap.Error(err))
	}

	_ = inst
	return report, nil
}

// Start launches one independent probe loop per enabled instance, each on
// its own health_check_interval_secs period (spec §4.2 "Background").
func (r *Registry) Start(ctx context.Context) error {
	enabled := true
	instances, err := r.List(ctx, &enabled, nil)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		r.startProbeLoop(ctx, inst)
	}
	return nil
}

func (r *Registry) startProbeLoop(ctx context.Context, inst *domain.BackendInstance) {
	interval := time.Duration(inst.HealthCheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	id := inst.ID

	// nolint:naked-goroutine // health probe ticker loop, mirrors the
	// teacher's ClusterHealthChecker.Start; not request-scoped work so it
	// does not fit the worker-pool Submit/SubmitDetached pattern.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if _, err := r.HealthCheck(ctx, id); err != nil {
			logger.Debug("Initial health check failed", zap.String("instance_id", id), zap.Error(err))
		}

		for {
			select {
			case <-ticker.C:
				if _, err := r.HealthCheck(ctx, id); err != nil {
					logger.Debug("Health check failed", zap.String("instance_id", id), zap.Error(err))
				}
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts all probe loops.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Set is the composition root's registry-per-family container, satisfying
// every component's narrow "For(family) *Registry" collaborator interface
// (pipeline.Registries, poller.Registries, fetcher.Registries,
// sweeper.Registries).
type Set map[domain.AnalyzerFamily]*Registry

// For returns the registry for family, or nil if none is configured.
func (s Set) For(family domain.AnalyzerFamily) *Registry {
	return s[family]
}

// All returns every configured registry, used where work fans out across
// every family (starting and stopping the health-check probe loops).
func (s Set) All() []*Registry {
	out := make([]*Registry, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return out
}
