package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/alvesdmateus/stack-orchestrator/internal/credentials"
	"github.com/alvesdmateus/stack-orchestrator/internal/iac"
	"github.com/alvesdmateus/stack-orchestrator/internal/notify"
	"github.com/alvesdmateus/stack-orchestrator/internal/orchestrator"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/scm"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/internal/template"
	"github.com/alvesdmateus/stack-orchestrator/internal/vcs"
	"github.com/alvesdmateus/stack-orchestrator/pkg/config"
	"github.com/alvesdmateus/stack-orchestrator/pkg/database"
)

func main() {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	zlog.Info().Msg("Starting stack-orchestrator worker")

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Ops.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	zlog.Info().
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Str("plugins_root", cfg.Plugins.Root).
		Msg("Configuration loaded")

	// Connect to database
	zlog.Info().Msg("Connecting to database...")
	db, err := database.New(database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(db)

	if err := database.Migrate(db, &state.Deployment{}, &state.DeploymentHistory{}, &state.Job{}); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	repo := state.NewRepository(db)

	// Connect to Redis queue
	zlog.Info().
		Str("redis_url", cfg.Redis.URL).
		Int("redis_db", cfg.Redis.DB).
		Msg("Connecting to Redis...")

	redisQueue, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisQueue.Close()

	// IaC engine
	if cfg.IaC.BackendURL == "" {
		zlog.Fatal().Msg("iac.backend_url must be configured (e.g., gs://bucket/path)")
	}
	engine, err := iac.NewPulumiEngine(iac.Config{
		ProjectName:      cfg.IaC.ProjectName,
		BackendURL:       cfg.IaC.BackendURL,
		OperationTimeout: cfg.IaC.OperationTimeout,
	}, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create IaC engine")
	}

	// Template materialization
	catalog := template.NewFSCatalog(cfg.Plugins.Root)
	branches := vcs.NewGitManager(vcs.Config{
		Username:    cfg.Git.Username,
		Token:       cfg.Git.Token,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
	}, zlog)
	materializer := template.NewMaterializer(branches, template.NewZipExtractor(catalog), zlog)

	// Credential broker
	if cfg.Broker.URL == "" {
		zlog.Fatal().Msg("broker.url must be configured")
	}
	broker := credentials.NewHTTPBroker(cfg.Broker.URL, cfg.Broker.Token, zlog)

	// Git hosting API
	host := scm.NewClient(scm.Config{
		BaseURL: cfg.SCM.URL,
		Token:   cfg.SCM.Token,
	}, zlog)

	// Notifications are optional; fall back to the log
	var notifier notify.Notifier = notify.NewLogNotifier(zlog)
	if cfg.Notifications.URL != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notifications.URL, cfg.Notifications.Token, zlog)
	}

	orchEngine := orchestrator.NewEngine(
		redisQueue,
		repo,
		catalog,
		materializer,
		engine,
		broker,
		host,
		branches,
		notifier,
		cfg.SCM.RepoOwner,
		zlog,
	)

	worker := orchestrator.NewWorker(orchEngine, cfg.Worker.Concurrency, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reconciler.Enabled {
		reconciler := orchestrator.NewReconciler(repo, cfg.Reconciler.Interval, cfg.Reconciler.StuckTimeout, zlog)
		go reconciler.Run(ctx)
	}

	opsServer := startOpsServer(db, cfg.Ops.Port, redisQueue, zlog)

	zlog.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting task worker...")

	worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("Ops server shutdown failed")
	}

	zlog.Info().Msg("Worker shutdown complete")
}

// startOpsServer exposes liveness, readiness and queue depths for operators.
func startOpsServer(db *gorm.DB, port string, redisQueue *queue.RedisQueue, zlog zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := database.HealthCheck(db); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisQueue.Ping(req.Context()); err != nil {
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/queues", func(w http.ResponseWriter, req *http.Request) {
		depths := make(map[string]int64)
		for _, kind := range queue.Kinds() {
			length, err := redisQueue.QueueLength(req.Context(), kind)
			if err != nil {
				http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
				return
			}
			depths[string(kind)] = length
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(depths)
	})

	server := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		zlog.Info().Str("port", port).Msg("Ops endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("Ops server failed")
		}
	}()

	return server
}
