package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sampleforge.io/orchestrator/internal/pkg/logger"
)

// Start starts all background services: the River client, each family's
// instance-registry probe loop, status poller, and report fetcher, and the
// startup recovery sweeper.
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}

	for _, reg := range a.Registries.All() {
		if err := reg.Start(ctx); err != nil {
			return fmt.Errorf("start registry probe loop: %w", err)
		}
	}
	logger.Info("Instance registry probe loops started")

	for _, p := range a.Pollers {
		p.Start(ctx)
	}
	logger.Info("Status pollers started")

	for _, f := range a.Fetchers {
		f.Start(ctx)
	}
	logger.Info("Report fetchers started")

	if a.Sweeper != nil {
		a.Sweeper.Start(ctx)
		logger.Info("Recovery sweeper started")
	}

	return nil
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	for _, f := range a.Fetchers {
		f.Stop()
	}
	for _, p := range a.Pollers {
		p.Stop()
	}
	for _, reg := range a.Registries.All() {
		reg.Stop()
	}

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
