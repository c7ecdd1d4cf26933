package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"brokle/internal/config"
	rankingDomain "brokle/internal/core/domain/ranking"
	"brokle/pkg/logging"
)

// App represents the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	providers     *ProviderContainer
	mode          DeploymentMode
	shutdownOnce  sync.Once
	rankingCancel context.CancelFunc
}

func NewWorker(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	)

	core, err := ProvideCore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	workers, err := ProvideWorkers(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	return &App{
		mode:   ModeWorker,
		config: cfg,
		logger: logger,
		providers: &ProviderContainer{
			Core:    core,
			Workers: workers,
			Mode:    ModeWorker,
		},
	}, nil
}

// Start launches the ranking pipeline's three broker consumers (jd, resume,
// rank). Broker.Consume blocks its caller until ctx is cancelled, so each
// runs in its own goroutine.
func (a *App) Start() error {
	a.logger.Info("Starting Brokle ranking worker...", "mode", a.mode)

	ranking := a.providers.Workers.Ranking
	if ranking == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.rankingCancel = cancel

	cfg := a.config.Ranking
	consumers := []struct {
		queue       rankingDomain.QueueName
		concurrency int
		handler     rankingDomain.Handler
	}{
		{rankingDomain.QueueJD, cfg.JDConcurrency, ranking.Orchestrator.HandleJD},
		{rankingDomain.QueueResume, cfg.ResumeConcurrency, ranking.Orchestrator.HandleResume},
		{rankingDomain.QueueRank, cfg.RankConcurrency, ranking.Orchestrator.HandleRank},
	}
	for _, c := range consumers {
		c := c
		go func() {
			if err := ranking.Broker.Consume(ctx, c.queue, c.concurrency, c.handler); err != nil {
				a.logger.Error("ranking broker consumer stopped", "queue", c.queue, "error", err)
			}
		}()
	}
	a.logger.Info("Ranking pipeline consumers started")

	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})

	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("Shutting down Brokle ranking worker...", "mode", a.mode)

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		if a.rankingCancel != nil {
			a.rankingCancel()
		}
		return nil
	})

	g.Go(func() error {
		if a.providers != nil {
			return a.providers.Shutdown()
		}
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			a.logger.Error("Failed to shutdown providers", "error", err)
		}
		a.logger.Info("Brokle ranking worker shutdown completed")
		return err
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout exceeded, forcing shutdown")
		return ctx.Err()
	}
}

// GetProviders returns the provider container for access to all services and dependencies
func (a *App) GetProviders() *ProviderContainer {
	return a.providers
}

// Health returns the health status of all components using providers
func (a *App) Health() map[string]string {
	if a.providers != nil {
		return a.providers.HealthCheck()
	}

	return map[string]string{
		"status": "providers not initialized",
	}
}

// GetWorkers returns the worker container for background processing
func (a *App) GetWorkers() *WorkerContainer {
	if a.providers == nil {
		return nil
	}
	return a.providers.Workers
}

// GetLogger returns the application logger
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// GetConfig returns the application configuration
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDatabases returns the database connections
func (a *App) GetDatabases() *DatabaseContainer {
	if a.providers == nil || a.providers.Core == nil {
		return nil
	}
	return a.providers.Core.Databases
}
