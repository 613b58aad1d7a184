package models

import "time"

// ConversionStatus values stored in Postgres and the Redis status hash.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type ConversionStatus struct {
	ConversionID string    `json:"conversionId"`
	Status       string    `json:"status"`
	OutputFormat string    `json:"outputFormat,omitempty"`
	Outputs      []string  `json:"outputs,omitempty"`
	Error        string    `json:"error,omitempty"`
	RetryCount   int       `json:"retryCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
