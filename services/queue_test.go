package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"docconvert/config"
	"docconvert/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversionStore struct {
	created  []*models.QueuedConversion
	stored   map[string]*models.ConversionStatus
	statuses map[string]string
	errors   map[string]string
	failWith error
}

func (f *fakeConversionStore) UpdateConversionStatus(_ context.Context, id string, status string, _ []string, _ map[string]interface{}) error {
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeConversionStore) UpdateConversionError(_ context.Context, id string, msg string) error {
	if f.errors == nil {
		f.errors = map[string]string{}
	}
	f.errors[id] = msg
	return nil
}

func (f *fakeConversionStore) CreateConversion(_ context.Context, job *models.QueuedConversion) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.created = append(f.created, job)
	return nil
}

func (f *fakeConversionStore) GetConversion(_ context.Context, id string) (*models.ConversionStatus, error) {
	if s, ok := f.stored[id]; ok {
		return s, nil
	}
	return nil, ErrConversionNotFound
}

func newTestQueue(t *testing.T, store conversionStore) (*QueueService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		RedisPrefix:       "test_",
		PendingQueue:      "test_conversion:pending",
		MaxRetries:        3,
		ConversionTimeout: 120,
	}
	return NewQueueService(cfg, client, store), mr
}

func TestQueueService_Submit(t *testing.T) {
	store := &fakeConversionStore{}
	q, mr := newTestQueue(t, store)

	job := q.NewQueuedConversion(InputKey("abc", "doc.docx"), "doc.docx", "pdf")
	job.ConversionID = "abc"
	require.NoError(t, q.Submit(context.Background(), job))

	require.Len(t, store.created, 1)
	assert.Equal(t, "abc", store.created[0].ConversionID)

	items, err := mr.List("test_conversion:pending")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var queued models.QueuedConversion
	require.NoError(t, json.Unmarshal([]byte(items[0]), &queued))
	assert.Equal(t, "conversions/abc/input/doc.docx", queued.InputS3Path)
	assert.Equal(t, "pdf", queued.OutputFormat)
	assert.Equal(t, 3, queued.MaxRetries)
	assert.Equal(t, 120, queued.Timeout)

	assert.Equal(t, models.StatusPending, mr.HGet("test_conversion:status:abc", "status"))
}

func TestQueueService_SubmitValidatesAndStopsOnStoreError(t *testing.T) {
	store := &fakeConversionStore{failWith: errors.New("db down")}
	q, mr := newTestQueue(t, store)

	err := q.Submit(context.Background(), &models.QueuedConversion{ConversionID: "x"})
	assert.ErrorIs(t, err, ErrMissingParameter)

	err = q.Submit(context.Background(), q.NewQueuedConversion("in/doc.docx", "doc.docx", "pdf"))
	assert.ErrorContains(t, err, "db down")
	assert.False(t, mr.Exists("test_conversion:pending"))
}

func TestQueueService_SubmitMarksRowFailedWhenRedisFails(t *testing.T) {
	store := &fakeConversionStore{}
	q, mr := newTestQueue(t, store)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	job := q.NewQueuedConversion("in/doc.docx", "doc.docx", "pdf")
	err := q.Submit(context.Background(), job)
	require.Error(t, err)

	require.Len(t, store.created, 1)
	assert.Equal(t, models.StatusFailed, store.statuses[job.ConversionID])
	assert.Contains(t, store.errors[job.ConversionID], "failed to enqueue conversion")
}

func TestQueueService_Status(t *testing.T) {
	store := &fakeConversionStore{stored: map[string]*models.ConversionStatus{
		"from-db": {ConversionID: "from-db", Status: models.StatusCompleted},
	}}
	q, mr := newTestQueue(t, store)

	updated := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	mr.HSet("test_conversion:status:from-redis",
		"status", models.StatusCompleted,
		"outputs", `["a/doc_1.png","a/doc_2.png"]`,
		"retry_count", "1",
		"updated_at", updated.Format(time.RFC3339),
	)

	status, err := q.Status(context.Background(), "from-redis")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, []string{"a/doc_1.png", "a/doc_2.png"}, status.Outputs)
	assert.Equal(t, 1, status.RetryCount)
	assert.True(t, updated.Equal(status.UpdatedAt))

	status, err = q.Status(context.Background(), "from-db")
	require.NoError(t, err)
	assert.Equal(t, "from-db", status.ConversionID)

	_, err = q.Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrConversionNotFound)
}

func TestQueueService_StatusWithoutStore(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	_, err := q.Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrConversionNotFound)
}
