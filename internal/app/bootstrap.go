// Package app is the composition root: it wires config, storage, the
// instance registries, the submission pipeline and its background loops,
// and the HTTP server into one running Application.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"sampleforge.io/orchestrator/internal/aggregator"
	"sampleforge.io/orchestrator/internal/api"
	"sampleforge.io/orchestrator/internal/backend"
	"sampleforge.io/orchestrator/internal/config"
	"sampleforge.io/orchestrator/internal/domain"
	"sampleforge.io/orchestrator/internal/fetcher"
	"sampleforge.io/orchestrator/internal/infrastructure"
	"sampleforge.io/orchestrator/internal/jobs"
	"sampleforge.io/orchestrator/internal/objectstore"
	"sampleforge.io/orchestrator/internal/pauseresume"
	"sampleforge.io/orchestrator/internal/pipeline"
	"sampleforge.io/orchestrator/internal/pkg/worker"
	"sampleforge.io/orchestrator/internal/poller"
	"sampleforge.io/orchestrator/internal/registry"
	"sampleforge.io/orchestrator/internal/store"
	"sampleforge.io/orchestrator/internal/sweeper"
)

// families lists every analyzer family this build registers a backend
// client factory and background loop set for.
var families = []domain.AnalyzerFamily{
	domain.FamilyDynamicSandbox,
	domain.FamilyFeatureExtractor,
}

// Application holds composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools

	Registries registry.Set
	Pollers    []*poller.Poller
	Fetchers   []*fetcher.Fetcher
	Sweeper    *sweeper.Sweeper
}

// Bootstrap initializes all dependencies using explicit manual DI, the way
// the rest of this module's background loops are wired by hand rather than
// through a DI framework.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	q := store.New(db.GetWorkerPool())

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		BackendPoolSize: cfg.Worker.BackendPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	registries := registry.Set{
		domain.FamilyDynamicSandbox: registry.New(domain.FamilyDynamicSandbox, q, func(inst *domain.BackendInstance) backend.Client {
			return backend.NewDynamicSandboxClient(inst.BaseURL)
		}),
		domain.FamilyFeatureExtractor: registry.New(domain.FamilyFeatureExtractor, q, func(inst *domain.BackendInstance) backend.Client {
			return backend.NewFeatureExtractorClient(inst.BaseURL)
		}),
	}

	objects := objectstore.NewFSStore(cfg.ObjectStore.RootDir)

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.SubmitIntervalMs = cfg.Pipeline.SubmitIntervalMs
	pipelineCfg.MaxAttempts = cfg.Pipeline.MaxAttempts
	pipelineCfg.InitialBackoff = cfg.Pipeline.InitialBackoff
	pipelineCfg.Multiplier = cfg.Pipeline.Multiplier
	pipelineCfg.MaxBackoff = cfg.Pipeline.MaxBackoff
	pipelineCfg.Jitter = cfg.Pipeline.Jitter
	pipelineCfg.TempDir = cfg.Pipeline.TempDir

	agg := aggregator.New(q)

	pl := pipeline.New(q, registries, q, objects, agg, pipelineCfg)

	pollerCfg := poller.DefaultConfig()
	pollerCfg.Interval = cfg.Poller.Interval
	pollerCfg.PerInstanceBatch = cfg.Poller.PerInstanceBatch

	fetcherCfg := fetcher.DefaultConfig()
	fetcherCfg.Interval = cfg.Fetcher.Interval
	fetcherCfg.PerInstanceBatch = cfg.Fetcher.PerInstanceBatch

	pollers := make([]*poller.Poller, 0, len(families))
	fetchers := make([]*fetcher.Fetcher, 0, len(families))
	for _, family := range families {
		pollers = append(pollers, poller.New(family, q, registries, agg, pollerCfg))
		fetchers = append(fetchers, fetcher.New(family, q, registries, objects, agg, fetcherCfg))
	}

	sweeperCfg := sweeper.DefaultConfig()
	sweeperCfg.BootDelay = cfg.Sweeper.BootDelay
	sweeperCfg.Interval = cfg.Sweeper.Interval
	sweeperCfg.BatchSize = cfg.Sweeper.BatchSize
	sweeperCfg.StuckThreshold = cfg.Sweeper.StuckThreshold
	sweeperCfg.ResubmitGap = cfg.Sweeper.ResubmitGap
	sw := sweeper.New(q, pl, families, sweeperCfg)

	pr := pauseresume.New(q, pl, pools, agg)

	workers := river.NewWorkers()
	river.AddWorker(workers, &jobs.SweepWorker{Sweeper: sw})
	if err := db.InitRiverClient(workers, cfg.River); err != nil {
		db.Close()
		pools.Shutdown()
		return nil, fmt.Errorf("init river client: %w", err)
	}

	// Durable cross-restart trigger for the recovery sweep, redundant with
	// the sweeper's own in-process ticker (spec §4.7): a scaled-out
	// deployment still gets a sweep pass even if every instance's ticker
	// restarts mid-interval.
	if db.RiverClient != nil {
		db.RiverClient.PeriodicJobs().Add(
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Sweeper.Interval),
				func() (river.JobArgs, *river.InsertOpts) {
					return jobs.SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: false},
			),
		)
	}

	server := api.NewServer(q, registries, pl, pr, agg, objects)

	return &Application{
		Config:     cfg,
		Router:     newRouter(cfg, server),
		DB:         db,
		Pools:      pools,
		Registries: registries,
		Pollers:    pollers,
		Fetchers:   fetchers,
		Sweeper:    sw,
	}, nil
}
