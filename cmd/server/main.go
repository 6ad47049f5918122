package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/fleet-import/internal/api"
	"github.com/ignite/fleet-import/internal/config"
	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/pkg/logger"
	"github.com/ignite/fleet-import/internal/progress"
	"github.com/ignite/fleet-import/internal/queue"
	"github.com/ignite/fleet-import/internal/repository/postgres"
	"github.com/ignite/fleet-import/internal/service/importjob"
	"github.com/ignite/fleet-import/internal/service/template"
	"github.com/ignite/fleet-import/internal/staging"
	"github.com/ignite/fleet-import/internal/worker"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			path = "config/config.yaml"
		}
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	logger.Info("database connected")

	store, err := staging.NewStore(cfg.Upload.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize upload staging dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Queue.URL == "" {
		log.Fatal("QUEUE_URL is required")
	}
	queueClient, err := queue.NewClient(ctx, cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to initialize queue client: %v", err)
	}

	// Redis mirror is optional: without it progress polls fall back to
	// the job row in Postgres.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis connection failed, progress mirror disabled", "addr", cfg.Redis.Addr, "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			logger.Info("redis connected, progress mirror enabled", "addr", cfg.Redis.Addr)
		}
		pingCancel()
	}
	mirror := progress.NewMirror(redisClient)

	jobRepo := postgres.NewImportJobRepo(db)
	templateRepo := postgres.NewTemplateRepo(db)
	targetRepo := postgres.NewTargetRepo(db)

	bus := events.NewBus(256)
	jobs := importjob.NewService(jobRepo, store, queueClient, mirror, cfg.Upload.MaxBytes)
	templates := template.NewService(templateRepo)

	handlers := api.NewHandlers(jobs, templates, bus, cfg.SSE.Heartbeat(), cfg.Upload.MaxBytes)
	server := api.NewServer(cfg.Server, handlers)

	// The queue consumer runs inside the API process by default so SSE
	// subscribers see worker events from the in-process bus. Set
	// EMBEDDED_WORKER=false to deploy the consumer separately
	// (cmd/worker); SSE clients then resync via polling and the mirror.
	var importWorker *worker.ImportWorker
	if os.Getenv("EMBEDDED_WORKER") != "false" {
		processor := worker.NewProcessor(jobRepo, targetRepo, store, bus, mirror,
			cfg.Worker.BatchSize, cfg.Worker.ProgressThrottle())
		importWorker = worker.NewImportWorker(queueClient, processor)
		importWorker.Start(ctx)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	cancel()
	if importWorker != nil {
		importWorker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	bus.Close()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server stopped")
}
