package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"docconvert/config"
	"docconvert/services"
	"docconvert/worker"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the queued conversion worker pool",
		Long: `Worker pops conversions from the Redis pending queue, downloads each input
from S3, converts it and uploads the results back to S3. Progress is recorded
in Postgres and in a Redis status hash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), a)
		},
	}
}

func runWorker(parent context.Context, a *app) error {
	cfg := a.cfg
	log := a.logger
	log.Info("Starting conversion worker", slog.String("version", version))

	convSvc, err := services.NewConversionService(cfg, log)
	if err != nil {
		return err
	}

	redisClient, err := connectRedis(parent, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("Connected to Redis", slog.String("addr", cfg.RedisAddr))

	dbSvc, err := connectDatabase(parent, cfg)
	if err != nil {
		return err
	}
	defer dbSvc.Close()
	log.Info("Connected to database")

	s3Svc := services.NewS3Service(cfg)
	pool := worker.NewPool(cfg, redisClient, dbSvc, convSvc, s3Svc, log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			pool.StartWorker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.RecoveryLoop(ctx)
	}()

	log.Info("Service is ready to process conversions",
		slog.Int("workers", cfg.WorkerCount),
		slog.String("queue", cfg.PendingQueue),
		slog.String("api", cfg.APIBaseURL),
	)

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All workers stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn("Shutdown timeout, forcing exit")
	}
	return nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return redisClient, nil
}

func connectDatabase(ctx context.Context, cfg *config.Config) (*services.DatabaseService, error) {
	dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := dbSvc.EnsureSchema(ctx); err != nil {
		dbSvc.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	return dbSvc, nil
}
