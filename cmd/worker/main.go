package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/fleet-import/internal/config"
	"github.com/ignite/fleet-import/internal/events"
	"github.com/ignite/fleet-import/internal/pkg/logger"
	"github.com/ignite/fleet-import/internal/progress"
	"github.com/ignite/fleet-import/internal/queue"
	"github.com/ignite/fleet-import/internal/repository/postgres"
	"github.com/ignite/fleet-import/internal/staging"
	"github.com/ignite/fleet-import/internal/worker"
)

// Standalone queue consumer for split deployments. The API process runs
// its own embedded consumer by default; this binary exists for scaling
// row processing independently of HTTP traffic. SSE clients of the API
// process will not see this worker's bus events, so pair it with the
// Redis mirror for progress visibility.
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
	if cfg.Queue.URL == "" {
		log.Fatal("QUEUE_URL is required")
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

	queueClient, err := queue.NewClient(ctx, cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to initialize queue client: %v", err)
	}

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
		}
		pingCancel()
	}
	mirror := progress.NewMirror(redisClient)

	jobRepo := postgres.NewImportJobRepo(db)
	targetRepo := postgres.NewTargetRepo(db)

	// Local bus: nothing subscribes in this process, events just feed
	// the mirror snapshots and the job row.
	bus := events.NewBus(64)
	processor := worker.NewProcessor(jobRepo, targetRepo, store, bus, mirror,
		cfg.Worker.BatchSize, cfg.Worker.ProgressThrottle())
	importWorker := worker.NewImportWorker(queueClient, processor)
	importWorker.Start(ctx)
	logger.Info("worker running", "queue", cfg.Queue.URL, "batch_size", cfg.Worker.BatchSize)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	importWorker.Stop()
	bus.Close()
	if redisClient != nil {
		redisClient.Close()
	}

	// let an in-flight batch finish its database writes
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}
