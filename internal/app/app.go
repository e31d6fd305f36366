package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"

	"pdfsearch/features/document"
	"pdfsearch/features/job"
	"pdfsearch/features/mcp"
	"pdfsearch/features/stats"
	"pdfsearch/internal/adapter/classifier"
	"pdfsearch/internal/adapter/gemini"
	"pdfsearch/internal/adapter/ratelimit"
	"pdfsearch/internal/config"
	"pdfsearch/internal/ingest"
	"pdfsearch/internal/middleware"
	"pdfsearch/internal/retrieval"
	"pdfsearch/internal/scan"
	"pdfsearch/internal/settings"
	"pdfsearch/internal/text"
	"pdfsearch/internal/vector"
	"pdfsearch/internal/watcher"
	"pdfsearch/internal/worker"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options overrides external clients, mostly for tests. A nil TaskPublisher
// passed to New disables async uploads and job retry.
type Options struct {
	Embedder      Embedder
	Generator     Generator
	Classifier    scan.Classifier
	Scanner       ingest.Scanner
	TextExtractor func([]byte) (text.Document, error)
}

type App struct {
	Handler        http.Handler
	Documents      *document.Service
	Ingester       *ingest.Orchestrator
	Retriever      *retrieval.Engine
	IngestConsumer *worker.IngestConsumer

	cfg     *config.Config
	closers []func() error
}

func New(
	cfg *config.Config,
	db *sql.DB,
	docRepo document.Repository,
	vecStore vector.Index,
	taskPub TaskPublisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	if docRepo == nil {
		docRepo = document.NewPostgresRepo(db)
	}
	a := &App{cfg: cfg}

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(db)).WithDefaultTopK(cfg.SearchTopK)
	seedGeminiKey(settingsService, cfg.GeminiAPIKey)
	settingsHandler := settings.NewHandler(settingsService)

	// Adapters
	var embedder Embedder = opts.Embedder
	if embedder == nil {
		e := gemini.NewDynamicEmbedder(settingsService, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		a.closers = append(a.closers, e.Close)
		embedder = e
	}
	embedder = ratelimit.NewEmbedder(embedder, cfg.EmbedRPS, cfg.EmbedBurst)

	var generator Generator = opts.Generator
	if generator == nil {
		g := gemini.NewDynamicGenerator(settingsService, cfg.GeminiAPIKey, cfg.GenerationModel)
		a.closers = append(a.closers, g.Close)
		generator = g
	}

	var scanner ingest.Scanner = opts.Scanner
	if scanner == nil {
		var cls scan.Classifier = opts.Classifier
		if cls == nil {
			cls = classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierTimeout)
		}
		scanner = scan.NewScanner(cls, cfg.ScanTimeout)
	}

	// Pipeline
	a.Ingester = ingest.New(scanner, embedder, vecStore, document.NewStateWriter(docRepo), ingest.Config{
		UploadDir:        cfg.UploadDir,
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		EmbedConcurrency: cfg.EmbedConcurrency,
		EmbedTimeout:     cfg.EmbedTimeout,
		IndexTimeout:     cfg.IndexTimeout,
		Concurrency:      cfg.IngestionConcurrency,
	})
	if opts.TextExtractor != nil {
		a.Ingester.WithTextExtractor(opts.TextExtractor)
	}

	queryLogger, err := retrieval.OpenQueryLog(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to open query log, falling back to stdout", "path", cfg.QueryLogPath, "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	a.closers = append(a.closers, queryLogger.Close)
	a.Retriever = retrieval.NewEngine(embedder, vecStore, generator, settingsService, queryLogger).
		WithTokenBudget(retrieval.NewTokenBudget(cfg.MaxContextTokens))

	// Feature: Document
	a.Documents = document.NewService(docRepo, a.Ingester, a.Retriever, vecStore, taskPub, document.Config{
		TempDir: cfg.TempDir,
		Async:   cfg.AsyncIngestion,
	})
	documentHandler := document.NewHandler(a.Documents, cfg.MaxUploadBytes())

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobHandler := job.NewHandler(job.NewService(jobRepo, taskPub, logger))

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, jobRepo, vecStore)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(a.Documents)

	// Worker
	a.IngestConsumer = worker.NewIngestConsumer(a.Ingester, jobRepo)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents/upload", middleware.Route(documentHandler.Upload))
	mux.Handle("POST /documents/chat", middleware.Route(documentHandler.Chat))
	mux.Handle("POST /documents/search", middleware.Route(documentHandler.Search))
	mux.Handle("GET /documents", middleware.Route(documentHandler.List))
	mux.Handle("GET /documents/{name}", middleware.Route(documentHandler.Get))
	mux.Handle("DELETE /documents/{name}", middleware.Route(documentHandler.Delete))
	mux.Handle("POST /documents/{name}/reindex", middleware.Route(documentHandler.Reindex))

	mux.Handle("GET /settings", middleware.Route(settingsHandler.GetSettings))
	mux.Handle("PUT /settings", middleware.Route(settingsHandler.UpdateSettings))

	mux.Handle("GET /jobs/failed", middleware.Route(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", middleware.Route(jobHandler.Retry))

	mux.Handle("GET /stats", middleware.Route(statsHandler.GetStats))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.Route(mcpHandler.HandleSSE))
	mux.Handle("POST /mcp/messages", middleware.Route(mcpHandler.HandleMessage))

	// Method patterns would answer browser preflights with 405.
	mux.Handle("OPTIONS /", middleware.Route(func(http.ResponseWriter, *http.Request) {}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

func seedGeminiKey(svc *settings.Service, key string) {
	seeded, err := svc.SeedAPIKey(context.Background(), key)
	if err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
		return
	}
	if seeded {
		slog.Info("seeded gemini api key from environment")
	}
}

// Run serves the HTTP API, the ingestion consumer and the inbox watcher as
// enabled by the configuration, until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.EnableAPI {
		g.Go(func() error { return a.serve(ctx) })
	}
	if a.cfg.EnableWorker {
		g.Go(func() error { return a.consume(ctx) })
	}
	if a.cfg.WatchDir != "" {
		w := watcher.New(a.cfg.WatchDir, a.Ingester, watcher.DefaultSettle)
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) consume(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = max(a.cfg.IngestionConcurrency, 1)

	consumer, err := nsq.NewConsumer(config.TopicIngestFile, config.ChannelIngest, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.IngestConsumer, nsqCfg.MaxInFlight)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return fmt.Errorf("nsq lookupd error: %w", err)
	}
	slog.Info("ingest consumer connected", "topic", config.TopicIngestFile, "channel", config.ChannelIngest)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}

// Close releases the clients created by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
