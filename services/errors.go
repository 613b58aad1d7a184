package services

import (
	"errors"
	"fmt"
)

var (
	ErrMissingParameter  = errors.New("missing parameter")
	ErrMissingAPIKey     = errors.New("config.apiKey must be set")
	ErrCreateWorkFile    = errors.New("unable to create workfile")
	ErrConvertDocument   = errors.New("unable to process document conversion")
	ErrConversionState   = errors.New("unable to get conversion state")
	ErrSaveOutput        = errors.New("unable to process conversion")
	ErrUnknownState      = errors.New("unable to determine conversion status")
	ErrPollLimitExceeded = errors.New("conversion still processing after poll limit")

	ErrInvalidInputPath  = errors.New("invalid input file path")
	ErrInvalidOutputType = errors.New("invalid output file type")

	ErrConversionNotFound = errors.New("conversion not found")
)

// StatusError is returned when the conversion API answers a stage with a
// non-success status. It unwraps to the stage sentinel.
type StatusError struct {
	Stage      error
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: status %d", e.Stage, e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Stage, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Stage
}

// RemoteJobError reports a conversion job that ended in the error state.
type RemoteJobError struct {
	ProcessID string
	Code      string
}

func (e *RemoteJobError) Error() string {
	return fmt.Sprintf("unable to convert file. Code (%s)", e.Code)
}

func missingParameter(name string) error {
	return fmt.Errorf("%w %s", ErrMissingParameter, name)
}
