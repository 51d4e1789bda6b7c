package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/api/handler"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/events"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/session"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/internal/store"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bootstrap-annotator/pkg/tracing"
)

type repository interface {
	session.Repository
	Import(ctx context.Context, dataset string, docs []corpus.Document) error
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	importPath := flag.String("import", "", "plain-text corpus to import before serving")
	importDataset := flag.String("dataset", "", "dataset the imported corpus belongs to")
	importOnly := flag.Bool("import-only", false, "exit after importing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.SetEnabled(cfg.Tracing.Enabled)
	slog.Info("starting annotator", "port", cfg.Server.Port, "datasets", len(cfg.Datasets))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	checker := health.NewChecker(5 * time.Second)

	var repo repository = corpus.NewMemoryRepository()
	if cfg.Postgres.Host == "" {
		slog.Warn("postgres not configured, annotations are kept in memory")
	} else if db, err := postgres.New(cfg.Postgres); err != nil {
		slog.Warn("postgres unavailable, annotations are kept in memory", "error", err)
	} else {
		defer db.Close()
		pgRepo := corpus.NewPostgresRepository(db)
		if err := pgRepo.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		repo = pgRepo
		checker.Register("postgres", db.HealthCheck())
		slog.Info("postgres repository ready", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	opts := []session.Option{session.WithMetrics(m)}

	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis, "annotator")
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			ttl := cfg.Redis.CacheTTL
			opts = append(opts, session.WithResultCache(func(dataset string) store.ResultCache {
				return store.NewRedisResultCache(redisClient, dataset, ttl)
			}))
			checker.Register("redis", redisClient.HealthCheck())
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", ttl)
		}
	}

	if *importPath != "" {
		if err := importCorpus(ctx, repo, *importPath, *importDataset); err != nil {
			slog.Error("corpus import failed", "path", *importPath, "error", err)
			os.Exit(1)
		}
		if redisClient != nil {
			cache := store.NewRedisResultCache(redisClient, *importDataset, cfg.Redis.CacheTTL)
			if err := cache.Invalidate(ctx); err != nil {
				slog.Warn("stale cached results may remain", "dataset", *importDataset, "error", err)
			}
		}
		if *importOnly {
			return
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnnotationEvents)
		defer producer.Close()
		collector := events.NewCollector(producer, events.Config{}, m)
		collector.Start(ctx)
		defer collector.Close()
		opts = append(opts, session.WithEventSink(collector))
		checker.Register("kafka", collector.HealthCheck())
		slog.Info("annotation events enabled", "topic", cfg.Kafka.Topics.AnnotationEvents)
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	manager := session.NewManager(cfg, repo, opts...)

	var limiter *ratelimit.Limiter
	var handlerOpts []handler.Option
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.RateLimit, time.Minute)
		limiter.StartCleanup(ctx, 5*time.Minute)
		handlerOpts = append(handlerOpts, handler.WithLogoutHook(limiter.Reset))
	}
	h := handler.New(manager, handlerOpts...)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if limiter != nil {
		chain = middleware.RateLimit(limiter, handler.SessionHeader)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...))(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("annotator listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	// In-flight requests may still save and track events until Shutdown
	// returns, so the collector and stores must outlive it.
	<-drained

	slog.Info("annotator stopped", "sessions_open", manager.ActiveSessions())
}

// importCorpus loads a one-sentence-per-line file. Document ids are
// prefixed with the file name so several files can share a dataset.
func importCorpus(ctx context.Context, repo repository, path, dataset string) error {
	if dataset == "" {
		return fmt.Errorf("-dataset is required with -import")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	prefix := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	docs, err := corpus.ReadPlainText(f, prefix)
	if err != nil {
		return err
	}
	if err := repo.Import(ctx, dataset, docs); err != nil {
		return err
	}
	sentences := 0
	for _, d := range docs {
		sentences += len(d.Sentences)
	}
	slog.Info("corpus imported", "dataset", dataset, "documents", len(docs), "sentences", sentences)
	return nil
}
