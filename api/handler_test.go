package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"docconvert/config"
	"docconvert/logger"
	"docconvert/models"
	"docconvert/services"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
	err     error
}

func (f *fakeUploader) Delete(_ context.Context, s3Path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, s3Path)
	f.deleted = append(f.deleted, s3Path)
	return nil
}

func (f *fakeUploader) UploadReader(_ context.Context, body io.Reader, s3Path string, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.objects[s3Path] = data
	f.types[s3Path] = contentType
	return nil
}

func setupRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis, *fakeUploader) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		PendingQueue:      "conversion:pending",
		MaxRetries:        3,
		ConversionTimeout: 120,
	}
	uploader := &fakeUploader{}
	r := SetupRouter(&Dependencies{
		Logger:   logger.Discard(),
		Queue:    services.NewQueueService(cfg, client, nil),
		Uploader: uploader,
	})
	return r, mr, uploader
}

func uploadRequest(t *testing.T, fileName string, content string, format string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("output_format", format))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversions", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"docconvert"}`, rec.Body.String())
}

func TestCreateConversion_QueuesUpload(t *testing.T) {
	r, mr, uploader := setupRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "report.docx", "document bytes", "PNG"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp models.ConversionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversionID)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, "png", resp.OutputFormat)

	key := "conversions/" + resp.ConversionID + "/input/report.docx"
	assert.Equal(t, "document bytes", string(uploader.objects[key]))
	assert.Equal(t, "application/octet-stream", uploader.types[key])

	items, err := mr.List("conversion:pending")
	require.NoError(t, err)
	require.Len(t, items, 1)
	var job models.QueuedConversion
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, resp.ConversionID, job.ConversionID)
	assert.Equal(t, key, job.InputS3Path)
	assert.Equal(t, "report.docx", job.InputFileName)
	assert.Equal(t, "png", job.OutputFormat)
}

func TestCreateConversion_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		format   string
		want     string
	}{
		{name: "unsupported format", fileName: "report.docx", format: "docx", want: "invalid output file type"},
		{name: "missing format", fileName: "report.docx", format: "", want: "invalid output file type"},
		{name: "missing file", fileName: "", format: "pdf", want: "file is required"},
		{name: "no extension", fileName: "report", format: "pdf", want: "invalid input file path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mr, uploader := setupRouter(t)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, uploadRequest(t, tt.fileName, "x", tt.format))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, uploader.objects)
			assert.False(t, mr.Exists("conversion:pending"))
		})
	}
}

func TestCreateConversion_UploadFailure(t *testing.T) {
	r, mr, uploader := setupRouter(t)
	uploader.err = errors.New("bucket unavailable")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "report.docx", "x", "pdf"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, mr.Exists("conversion:pending"))
}

func TestCreateConversion_QueueFailureRemovesUpload(t *testing.T) {
	r, mr, uploader := setupRouter(t)
	mr.SetError("READONLY replica")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "report.docx", "x", "pdf"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, uploader.deleted, 1)
	assert.Contains(t, uploader.deleted[0], "/input/report.docx")
	assert.Empty(t, uploader.objects)
}

func TestGetConversion(t *testing.T) {
	r, mr, _ := setupRouter(t)
	mr.HSet("conversion:status:abc",
		"status", models.StatusCompleted,
		"output_format", "pdf",
		"outputs", `["conversions/abc/output/report.pdf"]`,
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ConversionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.ConversionID)
	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, []string{"conversions/abc/output/report.pdf"}, resp.Outputs)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
