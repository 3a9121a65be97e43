package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealerfeed/ingest-pipeline/internal/benchmark"
	"github.com/dealerfeed/ingest-pipeline/internal/config"
	"github.com/dealerfeed/ingest-pipeline/internal/connector"
	"github.com/dealerfeed/ingest-pipeline/internal/domain"
	"github.com/dealerfeed/ingest-pipeline/internal/fetch"
	"github.com/dealerfeed/ingest-pipeline/internal/handler"
	"github.com/dealerfeed/ingest-pipeline/internal/ingest"
	"github.com/dealerfeed/ingest-pipeline/internal/insight"
	"github.com/dealerfeed/ingest-pipeline/internal/match"
	"github.com/dealerfeed/ingest-pipeline/internal/middleware"
	"github.com/dealerfeed/ingest-pipeline/internal/notify"
	"github.com/dealerfeed/ingest-pipeline/internal/queue"
	"github.com/dealerfeed/ingest-pipeline/internal/realtime"
	"github.com/dealerfeed/ingest-pipeline/internal/scheduler"
	"github.com/dealerfeed/ingest-pipeline/internal/store"
	"github.com/dealerfeed/ingest-pipeline/internal/tracing"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: 0.1,
		}); err != nil {
			logger.Error("failed to init sentry", slog.String("error", err.Error()))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingShutdown, err := tracing.Init(ctx, "dealer-ingest-pipeline", cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logger.Warn("failed to init tracing", slog.String("error", err.Error()))
	} else {
		defer tracingShutdown(context.Background())
	}

	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to parse database config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	dbConfig.MaxConns = int32(cfg.DBMaxConns)
	dbConfig.MinConns = int32(cfg.DBMinConns)
	dbConfig.MaxConnLifetime = cfg.DBMaxConnLife

	db, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		logger.Error("failed to ping database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("database_connected")

	// Core collaborators shared by every worker pool.
	st := store.New(db)
	q := queue.NewPool(db, logger,
		queue.WithRetryPolicy(cfg.IngestMaxRetries, cfg.IngestRetryBackoff, cfg.StageMaxRetries, cfg.StageRetryBackoff))
	broker := realtime.NewBroker(logger)
	broker.Start()
	defer broker.Stop()

	fetchers := fetch.NewRegistry(
		fetch.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxRedirects),
		fetch.NewFTPFetcher(cfg.FetchTimeout),
		fetch.NewSFTPFetcher(cfg.FetchTimeout),
	)
	connectors := connector.NewRegistry()
	notifier := notify.NewLogNotifier(st, logger)

	ingestWorker := ingest.NewWorker(st, fetchers, connectors, q, notifier, logger,
		ingest.WithMatchBatchSize(cfg.MatchBatchSize))
	matchWorker := match.NewWorker(st)
	benchmarkWorker := benchmark.NewWorker(st, logger)
	insightWorker := insight.NewWorker(st, logger)

	sched, err := scheduler.New(st, q, logger,
		scheduler.WithFeedTick(cfg.FeedTickInterval),
		scheduler.WithBenchmarkTick(cfg.BenchmarkTickInterval),
		scheduler.WithSubscriptionTick(cfg.SubscriptionNotifyInterval),
		scheduler.WithJitterMax(cfg.SchedulerJitterMax),
	)
	if err != nil {
		logger.Error("failed to build scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Queue workers: one per job type, each running its configured number
	// of parallel pollers wired to the stage's handler.
	queueWorkers := []*queue.Worker{
		queue.NewWorker(q, domain.JobFeedIngest, ingestJobHandler(ingestWorker, broker), cfg.IngestWorkers, 2*time.Second),
		queue.NewWorker(q, domain.JobSkuMatch, matchJobHandler(matchWorker, q), cfg.MatchWorkers, time.Second),
		queue.NewWorker(q, domain.JobBenchmarkFull, benchmarkJobHandler(benchmarkWorker, q), cfg.BenchmarkWorkers, 5*time.Second),
		queue.NewWorker(q, domain.JobBenchmarkDelta, benchmarkJobHandler(benchmarkWorker, q), cfg.BenchmarkWorkers, 5*time.Second),
		queue.NewWorker(q, domain.JobInsightDerive, insightJobHandler(insightWorker), cfg.InsightWorkers, time.Second),
		queue.NewWorker(q, domain.JobNotifyDealer, notifyJobHandler(st, notifier, logger), 1, 5*time.Minute),
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	for _, w := range queueWorkers {
		go w.Run(workerCtx)
	}

	if cfg.SchedulerEnabled {
		if err := sched.Start(workerCtx); err != nil {
			logger.Error("failed to start scheduler", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sched.Stop()
	}

	// HTTP admin surface.
	healthHandler := handler.NewHealthHandler(db)
	pipelineHandler := handler.NewPipelineHandler(st, sched, logger)
	sseHandler := handler.NewSSEHandler(broker, logger, cfg)
	debugHandler := handler.NewDebugHandler(broker, db, logger)
	notificationHandler := handler.NewNotificationHandler(db, logger)
	adminAuth := middleware.NewAdminAuth(logger, cfg.AdminSecretKey)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle(cfg.MetricsPath, promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(adminAuth.Middleware)

		r.Get("/dealers/{id}/feeds", pipelineHandler.ListFeedsForDealer)
		r.Get("/dealers/{id}/insights", pipelineHandler.ListInsightsForDealer)

		r.Get("/feeds/{id}", pipelineHandler.GetFeed)
		if cfg.AdminOverrideEnabled {
			r.Post("/feeds/{id}/ingest", pipelineHandler.TriggerIngest)
		}
		r.Get("/feeds/{id}/stream", sseHandler.StreamFeedRun)
		r.Get("/feeds/{id}/runs", pipelineHandler.ListFeedRuns)
		r.Get("/feeds/{id}/runs/{runId}", pipelineHandler.GetFeedRun)

		r.Get("/canonical-skus/{id}/benchmark", pipelineHandler.GetBenchmark)

		r.Get("/notifications", notificationHandler.ListNotifications)
	})

	if cfg.DebugEndpointsEnabled {
		r.Route("/debug", func(r chi.Router) {
			r.Get("/pipeline", debugHandler.PipelineStats)
			r.Post("/seed", debugHandler.Seed)
			r.Delete("/seed", debugHandler.ClearSeed)
		})
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server_starting",
			slog.Int("port", cfg.Port),
			slog.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server_error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("server_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_error", slog.String("error", err.Error()))
	}
	cancelWorkers()

	logger.Info("server_stopped")
}
