package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"docconvert/config"
	"docconvert/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type conversionStore interface {
	CreateConversion(ctx context.Context, job *models.QueuedConversion) error
	GetConversion(ctx context.Context, conversionID string) (*models.ConversionStatus, error)
	UpdateConversionStatus(ctx context.Context, conversionID string, status string, outputPaths []string, metadata map[string]interface{}) error
	UpdateConversionError(ctx context.Context, conversionID string, errorMsg string) error
}

// QueueService submits conversions to the Redis pending queue and reports
// their status.
type QueueService struct {
	config      *config.Config
	redisClient *redis.Client
	store       conversionStore
}

// NewQueueService builds a queue service. store may be nil when no database
// is configured; status then comes from Redis alone.
func NewQueueService(cfg *config.Config, redisClient *redis.Client, store conversionStore) *QueueService {
	return &QueueService{
		config:      cfg,
		redisClient: redisClient,
		store:       store,
	}
}

// NewQueuedConversion prepares a job with a fresh ID and the configured
// retry and timeout limits.
func (q *QueueService) NewQueuedConversion(inputS3Path string, inputFileName string, outputFormat string) *models.QueuedConversion {
	id := uuid.NewString()
	return &models.QueuedConversion{
		ConversionID:   id,
		InputS3Path:    inputS3Path,
		InputFileName:  inputFileName,
		OutputFormat:   outputFormat,
		OutputS3Prefix: "conversions/" + id + "/output",
		MaxRetries:     q.config.MaxRetries,
		CreatedAt:      time.Now().UTC(),
		Timeout:        q.config.ConversionTimeout,
	}
}

// InputKey returns the object key an uploaded source document is stored under.
func InputKey(conversionID string, fileName string) string {
	return "conversions/" + conversionID + "/input/" + fileName
}

func (q *QueueService) Submit(ctx context.Context, job *models.QueuedConversion) error {
	if job.ConversionID == "" {
		return missingParameter("conversionId")
	}
	if job.InputS3Path == "" {
		return missingParameter("inputS3Path")
	}
	if job.OutputFormat == "" {
		return missingParameter("outputFormat")
	}

	if q.store != nil {
		if err := q.store.CreateConversion(ctx, job); err != nil {
			return fmt.Errorf("failed to record conversion: %w", err)
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode conversion: %w", err)
	}

	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.config.StatusKey(job.ConversionID), map[string]interface{}{
			"status":        models.StatusPending,
			"output_format": job.OutputFormat,
			"updated_at":    time.Now().Format(time.RFC3339),
		})
		pipe.LPush(ctx, q.config.PendingQueue, payload)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to enqueue conversion: %w", err)
		q.abandon(ctx, job.ConversionID, err)
		return err
	}
	return nil
}

// abandon marks a recorded conversion failed when it never reached the queue.
func (q *QueueService) abandon(ctx context.Context, conversionID string, cause error) {
	if q.store == nil {
		return
	}
	_ = q.store.UpdateConversionStatus(ctx, conversionID, models.StatusFailed, nil, nil)
	_ = q.store.UpdateConversionError(ctx, conversionID, cause.Error())
}

// Status reads the Redis status hash and falls back to the database.
func (q *QueueService) Status(ctx context.Context, conversionID string) (*models.ConversionStatus, error) {
	fields, err := q.redisClient.HGetAll(ctx, q.config.StatusKey(conversionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversion status: %w", err)
	}
	if len(fields) > 0 {
		return statusFromHash(conversionID, fields), nil
	}

	if q.store == nil {
		return nil, ErrConversionNotFound
	}
	return q.store.GetConversion(ctx, conversionID)
}

func statusFromHash(conversionID string, fields map[string]string) *models.ConversionStatus {
	status := &models.ConversionStatus{
		ConversionID: conversionID,
		Status:       fields["status"],
		OutputFormat: fields["output_format"],
		Error:        fields["error"],
	}
	if outputs := fields["outputs"]; outputs != "" {
		_ = json.Unmarshal([]byte(outputs), &status.Outputs)
	}
	if retries, err := strconv.Atoi(fields["retry_count"]); err == nil {
		status.RetryCount = retries
	}
	if updatedAt, err := time.Parse(time.RFC3339, fields["updated_at"]); err == nil {
		status.UpdatedAt = updatedAt
	}
	return status
}
