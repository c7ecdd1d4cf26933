package app

import (
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"brokle/internal/config"
	"brokle/internal/core/domain/ranking"
	rankingService "brokle/internal/core/services/ranking"
	"brokle/internal/infrastructure/broker"
	"brokle/internal/infrastructure/database"
	"brokle/internal/infrastructure/modelclient"
	rankingRepo "brokle/internal/infrastructure/repository/ranking"
)

type DeploymentMode string

const (
	ModeWorker DeploymentMode = "worker"
)

// CoreContainer holds the dependencies shared by every deployment mode:
// configuration, logging, and database connections.
type CoreContainer struct {
	Config    *config.Config
	Logger    *slog.Logger
	Databases *DatabaseContainer
}

type ProviderContainer struct {
	Core    *CoreContainer
	Workers *WorkerContainer
	Mode    DeploymentMode
}

type DatabaseContainer struct {
	Postgres *database.PostgresDB
	Redis    *database.RedisDB
}

type WorkerContainer struct {
	Ranking *RankingContainer
}

// RankingContainer wires the candidate-ranking pipeline (C1-C10): Broker
// consumers are registered against it in App.Start(), and Orchestrator.SubmitJD/SubmitResumes/Cancel are the entry points an
// HTTP handler would call to drive a job.
type RankingContainer struct {
	Broker       ranking.Broker
	Hub          *rankingService.ProgressHub
	ModelClient  ranking.ModelClient
	Orchestrator *rankingService.Orchestrator
}

func ProvideDatabases(cfg *config.Config, logger *slog.Logger) (*DatabaseContainer, error) {
	postgres, err := database.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	redis, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &DatabaseContainer{
		Postgres: postgres,
		Redis:    redis,
	}, nil
}

func ProvideCore(cfg *config.Config, logger *slog.Logger) (*CoreContainer, error) {
	databases, err := ProvideDatabases(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &CoreContainer{
		Config:    cfg,
		Logger:    logger,
		Databases: databases,
	}, nil
}

func ProvideWorkers(core *CoreContainer) (*WorkerContainer, error) {
	rankingContainer, err := ProvideRanking(core)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ranking pipeline: %w", err)
	}

	return &WorkerContainer{
		Ranking: rankingContainer,
	}, nil
}

// ProvideRanking wires the candidate-ranking pipeline's repositories,
// broker, model client, and Orchestrator from config.Ranking. It has no
// concrete PDFTextExtractor wired in (OCR/PDF parsing is an external,
// out-of-scope collaborator per the domain's pdfextractor.go); jobs and
// resumes must supply raw text directly until one is plugged in.
func ProvideRanking(core *CoreContainer) (*RankingContainer, error) {
	cfg := core.Config
	logger := core.Logger
	db := core.Databases.Postgres.DB

	jobRepo := rankingRepo.NewJobRepository(db)
	resumeRepo := rankingRepo.NewResumeRepository(db)
	scoreRepo := rankingRepo.NewScoreResultRepository(db)
	embeddingCacheRepo := rankingRepo.NewEmbeddingCacheRepository(db)

	brokerLogger := logrus.New()
	brokerLogger.SetLevel(logrus.InfoLevel)
	brk := broker.New(core.Databases.Redis, brokerLogger, ranking.DefaultRetryPolicy())

	hub := rankingService.NewProgressHub()

	embeddingCache, err := modelclient.NewEmbeddingCache(cfg.Ranking.EmbeddingBatchSize*4, embeddingCacheRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	var backend modelclient.Backend
	if cfg.Ranking.ProviderAPIKey != "" {
		backend, err = modelclient.NewOpenAIBackend(modelclient.OpenAIBackendConfig{
			APIKey:    cfg.Ranking.ProviderAPIKey,
			ChatModel: openai.GPT4oMini,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize model backend: %w", err)
		}
	} else {
		logger.Warn("ranking.provider_api_key not configured, model client has no backend wired")
	}

	modelClient := modelclient.New(backend, modelclient.DefaultRetryConfig(), modelclient.DefaultCircuitConfig(), embeddingCache, logger)

	jdPipeline := rankingService.NewJDPipeline(jobRepo, modelClient, hub, rankingService.JDPipelineConfig{
		EmbeddingModel:   cfg.Ranking.EmbeddingModel,
		EmbeddingDim:     cfg.Ranking.EmbeddingDim,
		SentenceMinChars: cfg.Ranking.SentenceMinChars,
	}, logger)

	resumePipeline := rankingService.NewResumePipeline(resumeRepo, jobRepo, modelClient, hub, rankingService.JDPipelineConfig{
		EmbeddingModel:   cfg.Ranking.EmbeddingModel,
		EmbeddingDim:     cfg.Ranking.EmbeddingDim,
		SentenceMinChars: cfg.Ranking.SentenceMinChars,
	}, logger)

	complianceFilter := rankingService.NewComplianceFilter()

	scorer := rankingService.NewScorer(rankingService.ScorerConfig{
		TauCoverage:  cfg.Ranking.SimilarityTauCoverage,
		TauAlignment: cfg.Ranking.SimilarityTauAlignment,
	})

	ranker := rankingService.NewRanker(modelClient, rankingService.RankerConfig{
		BatchSize: cfg.Ranking.RerankBatchSize,
		Enabled:   cfg.Ranking.RerankEnabled,
	}, logger)

	orchestrator := rankingService.NewOrchestrator(
		jobRepo, resumeRepo, scoreRepo, brk, hub,
		nil, // PDFTextExtractor: no concrete implementation wired yet
		jdPipeline, resumePipeline, complianceFilter, scorer, ranker,
		rankingService.OrchestratorConfig{ResumeConcurrency: cfg.Ranking.ResumeConcurrency},
		logger,
	)

	return &RankingContainer{
		Broker:       brk,
		Hub:          hub,
		ModelClient:  modelClient,
		Orchestrator: orchestrator,
	}, nil
}

func (pc *ProviderContainer) HealthCheck() map[string]string {
	health := make(map[string]string)

	if pc.Core != nil && pc.Core.Databases != nil {
		if pc.Core.Databases.Postgres != nil {
			if err := pc.Core.Databases.Postgres.Health(); err != nil {
				health["postgres"] = "unhealthy: " + err.Error()
			} else {
				health["postgres"] = "healthy"
			}
		}

		if pc.Core.Databases.Redis != nil {
			if err := pc.Core.Databases.Redis.Health(); err != nil {
				health["redis"] = "unhealthy: " + err.Error()
			} else {
				health["redis"] = "healthy"
			}
		}
	}

	health["mode"] = string(pc.Mode)

	return health
}

func (pc *ProviderContainer) Shutdown() error {
	var lastErr error
	logger := pc.Core.Logger

	if pc.Core != nil && pc.Core.Databases != nil {
		if pc.Core.Databases.Postgres != nil {
			if err := pc.Core.Databases.Postgres.Close(); err != nil {
				logger.Error("Failed to close PostgreSQL connection", "error", err)
				lastErr = err
			}
		}

		if pc.Core.Databases.Redis != nil {
			if err := pc.Core.Databases.Redis.Close(); err != nil {
				logger.Error("Failed to close Redis connection", "error", err)
				lastErr = err
			}
		}
	}

	return lastErr
}
