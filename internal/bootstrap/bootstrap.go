package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/furkanyilmaz/ed-triage/internal/config"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
	"github.com/furkanyilmaz/ed-triage/internal/core/usecase"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/corpus"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/llm/ollama"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/queue/nats"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/repository/postgres"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/resilience"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/sessionstore"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/storage/localfs"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/vector/memindex"
	"github.com/furkanyilmaz/ed-triage/internal/observability/logging"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	InterviewUC *usecase.InterviewUseCase
	Records     ports.RecordReader
	Repo        *postgres.TriageRepository

	// Queue is set only when NATS is configured.
	Queue *nats.Queue

	closeFn func()
}

// NewAPI wires the full api process: card corpus and embeddings, the
// interview orchestrator, and the archive path. With NATS configured the
// api publishes finalized records for the worker; otherwise it archives
// straight to Postgres.
func NewAPI(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewTriageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder := ollama.NewEmbedder(ollamaClient)
	provider := ollama.NewTriageGenerator(ollamaClient)

	cards, err := corpus.Load(cfg.CorpusDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	index, err := memindex.Build(ctx, cards, embedder)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build card index: %w", err)
	}
	logger.Info("card index ready", "cards", index.Size())

	snapshots, err := localfs.New(cfg.OutputDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}

	var archive ports.TriageArchive = repo
	var queue *nats.Queue
	if cfg.NATSURL != "" {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		archive = queue
	}

	interviewUC := usecase.NewInterviewUseCase(
		index,
		provider,
		sessionstore.NewMemory(),
		archive,
		snapshots,
		usecase.InterviewLimits{MaxQA: cfg.MaxQuestions, TopK: cfg.RetrievalTopK},
		logger,
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		InterviewUC: interviewUC,
		Records:     repo,
		Repo:        repo,
		Queue:       queue,
		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			_ = db.Close()
		},
	}, nil
}

// NewWorker wires the archive worker: NATS subscription feeding the
// Postgres repository.
func NewWorker(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("worker requires NATS_URL")
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewTriageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Records: repo,
		Repo:    repo,
		Queue:   queue,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
