package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docconvert/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_conversions (
	id              TEXT PRIMARY KEY,
	input_s3_path   TEXT NOT NULL,
	output_format   TEXT NOT NULL,
	status          TEXT NOT NULL,
	output_s3_paths TEXT[] NOT NULL DEFAULT '{}',
	metadata        JSONB,
	error_message   TEXT NOT NULL DEFAULT '',
	retry_count     INTEGER NOT NULL DEFAULT 0,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
)`

type DatabaseService struct {
	db *sqlx.DB
}

type conversionRow struct {
	ID            string         `db:"id"`
	OutputFormat  string         `db:"output_format"`
	Status        string         `db:"status"`
	OutputS3Paths pq.StringArray `db:"output_s3_paths"`
	ErrorMessage  string         `db:"error_message"`
	RetryCount    int            `db:"retry_count"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

// EnsureSchema creates the document_conversions table when missing.
func (d *DatabaseService) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schema)
	return err
}

func (d *DatabaseService) CreateConversion(ctx context.Context, job *models.QueuedConversion) error {
	query := `INSERT INTO document_conversions (id, input_s3_path, output_format, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`
	_, err := d.db.ExecContext(ctx, query, job.ConversionID, job.InputS3Path, job.OutputFormat, models.StatusPending, job.CreatedAt)
	return err
}

func (d *DatabaseService) UpdateConversionStatus(ctx context.Context, conversionID string, status string, outputPaths []string, metadata map[string]interface{}) error {
	query, args := buildStatusUpdate(conversionID, status, outputPaths, metadata, time.Now())
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

func (d *DatabaseService) UpdateConversionError(ctx context.Context, conversionID string, errorMsg string) error {
	query := `UPDATE document_conversions SET error_message = $1, updated_at = $2 WHERE id = $3`
	_, err := d.db.ExecContext(ctx, query, errorMsg, time.Now(), conversionID)
	return err
}

func (d *DatabaseService) IncrementRetryCount(ctx context.Context, conversionID string) error {
	query := `UPDATE document_conversions SET retry_count = retry_count + 1, updated_at = $1 WHERE id = $2`
	_, err := d.db.ExecContext(ctx, query, time.Now(), conversionID)
	return err
}

// GetConversion returns the stored status of a conversion, or
// ErrConversionNotFound.
func (d *DatabaseService) GetConversion(ctx context.Context, conversionID string) (*models.ConversionStatus, error) {
	var row conversionRow
	query := `SELECT id, output_format, status, output_s3_paths, error_message, retry_count, updated_at
		FROM document_conversions WHERE id = $1`
	if err := d.db.GetContext(ctx, &row, query, conversionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversionNotFound
		}
		return nil, err
	}

	return &models.ConversionStatus{
		ConversionID: row.ID,
		Status:       row.Status,
		OutputFormat: row.OutputFormat,
		Outputs:      row.OutputS3Paths,
		Error:        row.ErrorMessage,
		RetryCount:   row.RetryCount,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}

// buildStatusUpdate assembles the UPDATE for a status transition. Processing
// stamps started_at; completed stamps completed_at and stores the outputs.
func buildStatusUpdate(conversionID string, status string, outputPaths []string, metadata map[string]interface{}, now time.Time) (string, []interface{}) {
	query := `UPDATE document_conversions SET status = $1, updated_at = $2`
	args := []interface{}{status, now}
	argIndex := 3

	if status == models.StatusProcessing {
		query += fmt.Sprintf(`, started_at = $%d`, argIndex)
		args = append(args, now)
		argIndex++
	}

	if status == models.StatusCompleted {
		query += fmt.Sprintf(`, completed_at = $%d, output_s3_paths = $%d`, argIndex, argIndex+1)
		args = append(args, now, pq.Array(outputPaths))
		argIndex += 2

		if metadata != nil {
			metadataJSON, _ := json.Marshal(metadata)
			query += fmt.Sprintf(`, metadata = $%d`, argIndex)
			args = append(args, metadataJSON)
			argIndex++
		}
	}

	query += fmt.Sprintf(` WHERE id = $%d`, argIndex)
	args = append(args, conversionID)

	return query, args
}
