package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"time"

	"docconvert/config"
	"docconvert/models"

	"github.com/redis/go-redis/v9"
)

type Converter interface {
	Convert(ctx context.Context, inputPath string, outputFormat string) (*models.ConversionOutput, error)
}

type ObjectStore interface {
	Download(ctx context.Context, s3Path string, localPath string) error
	Upload(ctx context.Context, localPath string, s3Path string) error
	Cleanup(path string) error
}

type StatusStore interface {
	UpdateConversionStatus(ctx context.Context, conversionID string, status string, outputPaths []string, metadata map[string]interface{}) error
	UpdateConversionError(ctx context.Context, conversionID string, errorMsg string) error
	IncrementRetryCount(ctx context.Context, conversionID string) error
}

// popTimeout bounds each blocking pop so shutdown is noticed.
var popTimeout = 30 * time.Second

// retryBaseDelay is the unit of the exponential retry backoff.
var retryBaseDelay = time.Second

const maxRetryDelay = 30 * time.Second

type Pool struct {
	config      *config.Config
	redisClient *redis.Client
	converter   Converter
	storage     ObjectStore
	dbSvc       StatusStore
	logger      *slog.Logger
}

func NewPool(cfg *config.Config, redisClient *redis.Client, dbSvc StatusStore, converter Converter, storage ObjectStore, logger *slog.Logger) *Pool {
	return &Pool{
		config:      cfg,
		redisClient: redisClient,
		converter:   converter,
		storage:     storage,
		dbSvc:       dbSvc,
		logger:      logger,
	}
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	log := p.logger.With(slog.Int("worker_id", workerID))
	log.Info("Worker starting")

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker shutting down")
			return
		default:
			// Atomic pop from pending and push to processing
			result, err := p.redisClient.BRPopLPush(
				ctx,
				p.config.PendingQueue,
				p.config.ProcessingQueue,
				popTimeout,
			).Result()

			if errors.Is(err, redis.Nil) {
				continue
			}

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Error("Redis error", slog.String("error", err.Error()))
				sleep(ctx, 5*time.Second)
				continue
			}

			var job models.QueuedConversion
			if err := json.Unmarshal([]byte(result), &job); err != nil {
				log.Error("Failed to parse job", slog.String("error", err.Error()))
				p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, result)
				continue
			}

			p.processJob(ctx, workerID, &job, result)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.QueuedConversion, jobJSON string) {
	log := p.logger.With(slog.Int("worker_id", workerID), slog.String("conversion_id", job.ConversionID))
	log.Info("Processing conversion",
		slog.String("input", job.InputS3Path),
		slog.String("format", job.OutputFormat),
	)

	if err := p.dbSvc.UpdateConversionStatus(ctx, job.ConversionID, models.StatusProcessing, nil, nil); err != nil {
		log.Warn("Failed to update DB status", slog.String("error", err.Error()))
	}
	p.setStatus(ctx, job.ConversionID, map[string]interface{}{
		"status":      models.StatusProcessing,
		"retry_count": job.RetryCount,
		"started_at":  time.Now().Format(time.RFC3339Nano),
	})

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(p.config.ConversionTimeout) * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	output, outputKeys, err := p.runConversion(timeoutCtx, job)
	if err != nil {
		p.handleJobFailure(ctx, workerID, job, jobJSON, err.Error())
		return
	}

	duration := time.Since(startTime)
	metadata := map[string]interface{}{
		"worker_id":   workerID,
		"duration_ms": duration.Milliseconds(),
		"process_id":  output.ProcessID,
		"files":       len(outputKeys),
	}

	if err := p.dbSvc.UpdateConversionStatus(ctx, job.ConversionID, models.StatusCompleted, outputKeys, metadata); err != nil {
		log.Warn("Failed to update DB to completed", slog.String("error", err.Error()))
	}

	outputsJSON, _ := json.Marshal(outputKeys)
	p.setStatus(ctx, job.ConversionID, map[string]interface{}{
		"status":  models.StatusCompleted,
		"outputs": string(outputsJSON),
	})

	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	log.Info("Conversion completed",
		slog.Int("files", len(outputKeys)),
		slog.Duration("duration", duration),
	)
}

// runConversion downloads the input into a per-job directory, converts it
// and uploads every result. The directory is removed afterwards.
func (p *Pool) runConversion(ctx context.Context, job *models.QueuedConversion) (*models.ConversionOutput, []string, error) {
	jobDir := filepath.Join(p.config.WorkDir, job.ConversionID)
	defer p.storage.Cleanup(jobDir)

	localInputPath := filepath.Join(jobDir, inputFileName(job))
	if err := p.storage.Download(ctx, job.InputS3Path, localInputPath); err != nil {
		return nil, nil, fmt.Errorf("S3 download failed: %w", err)
	}

	output, err := p.converter.Convert(ctx, localInputPath, job.OutputFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("document conversion failed: %w", err)
	}

	outputKeys := make([]string, 0, len(output.Files))
	for _, file := range output.Files {
		key := outputKey(job.OutputS3Prefix, file)
		if err := p.storage.Upload(ctx, file, key); err != nil {
			return nil, nil, fmt.Errorf("S3 upload failed: %w", err)
		}
		outputKeys = append(outputKeys, key)
	}

	return output, outputKeys, nil
}

func (p *Pool) handleJobFailure(ctx context.Context, workerID int, job *models.QueuedConversion, jobJSON string, errorMsg string) {
	log := p.logger.With(slog.Int("worker_id", workerID), slog.String("conversion_id", job.ConversionID))
	log.Error("Conversion failed", slog.String("error", errorMsg))

	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	if err := p.dbSvc.IncrementRetryCount(ctx, job.ConversionID); err != nil {
		log.Warn("Failed to increment retry count", slog.String("error", err.Error()))
	}

	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		newJobJSON, _ := json.Marshal(job)
		delay := retryDelay(job.RetryCount)

		if err := p.dbSvc.UpdateConversionStatus(ctx, job.ConversionID, models.StatusPending, nil, nil); err != nil {
			log.Warn("Failed to update DB to pending", slog.String("error", err.Error()))
		}
		p.setStatus(ctx, job.ConversionID, map[string]interface{}{
			"status":      models.StatusPending,
			"error":       errorMsg,
			"retry_count": job.RetryCount,
		})

		time.AfterFunc(delay, func() {
			p.redisClient.LPush(context.Background(), p.config.PendingQueue, newJobJSON)
		})
		log.Info("Scheduled retry",
			slog.Int("retry", job.RetryCount),
			slog.Int("max_retries", job.MaxRetries),
			slog.Duration("delay", delay),
		)
		return
	}

	p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)

	p.markFailed(ctx, job.ConversionID, errorMsg)
	p.setStatus(ctx, job.ConversionID, map[string]interface{}{
		"status": models.StatusFailed,
		"error":  errorMsg,
	})

	log.Warn("Conversion moved to failed queue", slog.Int("retries", job.MaxRetries))
}

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	p.logger.Info("Starting stale job recovery loop")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Recovery loop shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
		}
	}
}

func (p *Pool) recoverStaleJobs(ctx context.Context) {
	jobs, err := p.redisClient.LRange(ctx, p.config.ProcessingQueue, 0, -1).Result()
	if err != nil {
		p.logger.Error("Failed to get processing queue", slog.String("error", err.Error()))
		return
	}

	recovered := 0
	for _, jobJSON := range jobs {
		var job models.QueuedConversion
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}

		if time.Since(p.claimedAt(ctx, &job)) <= p.config.StaleAfter {
			continue
		}

		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			newJobJSON, _ := json.Marshal(job)
			p.redisClient.LPush(ctx, p.config.PendingQueue, newJobJSON)
			p.dbSvc.IncrementRetryCount(ctx, job.ConversionID)
			recovered++
		} else {
			p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)
			p.markFailed(ctx, job.ConversionID, fmt.Sprintf("Job timeout - exceeded %v", p.config.StaleAfter))
		}
	}

	if recovered > 0 {
		p.logger.Info("Recovered stale jobs", slog.Int("count", recovered))
	}
}

// claimedAt is when a worker last picked the job up. Jobs claimed before a
// worker could record it fall back to their queue time.
func (p *Pool) claimedAt(ctx context.Context, job *models.QueuedConversion) time.Time {
	startedAt, err := p.redisClient.HGet(ctx, p.config.StatusKey(job.ConversionID), "started_at").Result()
	if err == nil {
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			return t
		}
	}
	return job.CreatedAt
}

func (p *Pool) markFailed(ctx context.Context, conversionID string, errorMsg string) {
	if err := p.dbSvc.UpdateConversionStatus(ctx, conversionID, models.StatusFailed, nil, nil); err != nil {
		p.logger.Warn("Failed to update DB to failed", slog.String("conversion_id", conversionID), slog.String("error", err.Error()))
	}
	p.dbSvc.UpdateConversionError(ctx, conversionID, errorMsg)
}

func (p *Pool) setStatus(ctx context.Context, conversionID string, fields map[string]interface{}) {
	fields["updated_at"] = time.Now().Format(time.RFC3339)
	p.redisClient.HSet(ctx, p.config.StatusKey(conversionID), fields)
}

// retryDelay doubles per attempt and is capped at maxRetryDelay.
func retryDelay(retryCount int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(retryCount))) * retryBaseDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func inputFileName(job *models.QueuedConversion) string {
	if job.InputFileName != "" {
		return filepath.Base(job.InputFileName)
	}
	return path.Base(job.InputS3Path)
}

func outputKey(prefix string, localPath string) string {
	if prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(prefix, filepath.Base(localPath))
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
