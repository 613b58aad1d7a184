package models

import "time"

// JobState is the state reported by the remote content converter.
type JobState string

const (
	JobStateProcessing JobState = "processing"
	JobStateComplete   JobState = "complete"
	JobStateError      JobState = "error"
)

// WorkFile identifies uploaded bytes on the conversion service. The affinity
// token must accompany every later call so it lands on the same node.
type WorkFile struct {
	FileID        string `json:"fileId"`
	AffinityToken string `json:"affinityToken"`
}

type JobSource struct {
	FileID string `json:"fileId"`
	Pages  string `json:"pages,omitempty"`
}

type JobDestination struct {
	Format string `json:"format"`
}

type JobInput struct {
	Src  JobSource      `json:"src"`
	Dest JobDestination `json:"dest"`
}

// ConversionResult is one downloadable artifact of a completed job, usually
// one page or page range.
type ConversionResult struct {
	FileID string    `json:"fileId"`
	Src    JobSource `json:"src"`
}

type JobOutput struct {
	Results []ConversionResult `json:"results"`
}

// ConversionJob is the remote job descriptor returned on submit and on
// every status poll.
type ConversionJob struct {
	ProcessID       string    `json:"processId"`
	State           JobState  `json:"state"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	PercentComplete int       `json:"percentComplete,omitempty"`
	Input           JobInput  `json:"input"`
	Output          JobOutput `json:"output"`
}

// ConversionOutput describes the files written by a finished conversion.
type ConversionOutput struct {
	ProcessID string   `json:"processId"`
	Format    string   `json:"format"`
	Files     []string `json:"files"`
}

// QueuedConversion is the payload carried on the Redis conversion queues.
type QueuedConversion struct {
	ConversionID   string    `json:"conversionId"`
	InputS3Path    string    `json:"inputS3Path"`
	InputFileName  string    `json:"inputFileName"`
	OutputFormat   string    `json:"outputFormat"`
	OutputS3Prefix string    `json:"outputS3Prefix"`
	RetryCount     int       `json:"retryCount"`
	MaxRetries     int       `json:"maxRetries"`
	CreatedAt      time.Time `json:"createdAt"`
	Timeout        int       `json:"timeout"`
}
