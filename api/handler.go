package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"docconvert/models"
	"docconvert/services"

	"github.com/gin-gonic/gin"
)

type Queue interface {
	NewQueuedConversion(inputS3Path string, inputFileName string, outputFormat string) *models.QueuedConversion
	Submit(ctx context.Context, job *models.QueuedConversion) error
	Status(ctx context.Context, conversionID string) (*models.ConversionStatus, error)
}

type Uploader interface {
	UploadReader(ctx context.Context, body io.Reader, s3Path string, contentType string) error
	Delete(ctx context.Context, s3Path string) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger   *slog.Logger
	Queue    Queue
	Uploader Uploader
}

type ConversionHandler struct {
	logger   *slog.Logger
	queue    Queue
	uploader Uploader
}

func NewConversionHandler(deps *Dependencies) *ConversionHandler {
	return &ConversionHandler{
		logger:   deps.Logger,
		queue:    deps.Queue,
		uploader: deps.Uploader,
	}
}

// CreateConversion handles POST /api/v1/conversions
// Stores the uploaded document and queues it for conversion.
func (h *ConversionHandler) CreateConversion(c *gin.Context) {
	outputFormat := strings.ToLower(c.PostForm("output_format"))
	if !models.IsOutputFormat(outputFormat) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   services.ErrInvalidOutputType.Error(),
			"formats": models.OutputFormats,
		})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}

	fileName := filepath.Base(header.Filename)
	if filepath.Ext(fileName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": services.ErrInvalidInputPath.Error(),
		})
		return
	}

	file, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unable to read file",
		})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	job := h.queue.NewQueuedConversion("", fileName, outputFormat)
	job.InputS3Path = services.InputKey(job.ConversionID, fileName)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.uploader.UploadReader(ctx, file, job.InputS3Path, contentType); err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("conversion_id", job.ConversionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store document",
		})
		return
	}

	if err := h.queue.Submit(ctx, job); err != nil {
		h.logger.Error("Failed to queue conversion",
			slog.String("conversion_id", job.ConversionID),
			slog.String("error", err.Error()),
		)
		if err := h.uploader.Delete(ctx, job.InputS3Path); err != nil {
			h.logger.Warn("Failed to remove orphaned upload",
				slog.String("key", job.InputS3Path),
				slog.String("error", err.Error()),
			)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue conversion",
		})
		return
	}

	h.logger.Info("Conversion queued",
		slog.String("conversion_id", job.ConversionID),
		slog.String("file", fileName),
		slog.String("format", outputFormat),
	)

	c.JSON(http.StatusAccepted, models.ConversionStatus{
		ConversionID: job.ConversionID,
		Status:       models.StatusPending,
		OutputFormat: outputFormat,
		UpdatedAt:    job.CreatedAt,
	})
}

// GetConversion handles GET /api/v1/conversions/:conversion_id
func (h *ConversionHandler) GetConversion(c *gin.Context) {
	conversionID := c.Param("conversion_id")

	status, err := h.queue.Status(c.Request.Context(), conversionID)
	if errors.Is(err, services.ErrConversionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "conversion not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get conversion",
			slog.String("conversion_id", conversionID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get conversion",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}
