package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docconvert/config"
	"docconvert/logger"
	"docconvert/models"

	"golang.org/x/sync/errgroup"
)

// ConversionService runs the upload, submit, poll and download sequence
// against the conversion API.
type ConversionService struct {
	api             *AccusoftClient
	pollInterval    time.Duration
	maxPollAttempts int
	concurrency     int
	logger          *slog.Logger
}

func NewConversionService(cfg *config.Config, log *slog.Logger) (*ConversionService, error) {
	if cfg == nil {
		return nil, missingParameter("config")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if log == nil {
		log = logger.Discard()
	}

	concurrency := cfg.DownloadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &ConversionService{
		api:             NewAccusoftClient(cfg.APIBaseURL, cfg.APIKey, cfg.RequestTimeout),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		concurrency:     concurrency,
		logger:          log,
	}, nil
}

// Convert converts the file at inputPath to outputFormat and writes the
// results beside it. The first failing step aborts the rest.
func (s *ConversionService) Convert(ctx context.Context, inputPath string, outputFormat string) (*models.ConversionOutput, error) {
	if inputPath == "" {
		return nil, missingParameter("inputFilePath")
	}
	if outputFormat == "" {
		return nil, missingParameter("outputFileType")
	}

	log := s.logger.With(slog.String("input", inputPath), slog.String("format", outputFormat))
	startTime := time.Now()

	workFile, err := s.api.CreateWorkFile(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	log.Debug("Work file created", slog.String("file_id", workFile.FileID))

	job, err := s.api.ConvertDocument(ctx, workFile, outputFormat)
	if err != nil {
		return nil, err
	}
	log.Debug("Conversion submitted", slog.String("process_id", job.ProcessID), slog.String("state", string(job.State)))

	job, err = s.CheckConversionState(ctx, job, workFile)
	if err != nil {
		return nil, err
	}
	if job.Input.Dest.Format == "" {
		job.Input.Dest.Format = outputFormat
	}

	files, err := s.SaveOutput(ctx, job, workFile, inputPath)
	if err != nil {
		return nil, err
	}

	log.Info("Conversion completed",
		slog.String("process_id", job.ProcessID),
		slog.Int("files", len(files)),
		slog.Duration("duration", time.Since(startTime)),
	)

	return &models.ConversionOutput{
		ProcessID: job.ProcessID,
		Format:    job.Input.Dest.Format,
		Files:     files,
	}, nil
}

// ConvertAsync runs Convert in its own goroutine and reports through done.
// A nil done is a programming error and panics.
func (s *ConversionService) ConvertAsync(inputPath string, outputFormat string, done func(*models.ConversionOutput, error)) {
	if done == nil {
		panic("services: ConvertAsync requires a completion callback")
	}
	go func() {
		done(s.Convert(context.Background(), inputPath, outputFormat))
	}()
}

// CheckConversionState polls the job every pollInterval while it is
// processing and returns the completed descriptor.
func (s *ConversionService) CheckConversionState(ctx context.Context, job *models.ConversionJob, workFile *models.WorkFile) (*models.ConversionJob, error) {
	if job == nil {
		return nil, missingParameter("conversionState")
	}
	if workFile == nil {
		return nil, missingParameter("workFile")
	}

	processID := job.ProcessID
	polls := 0
	for {
		switch job.State {
		case models.JobStateError:
			return nil, &RemoteJobError{ProcessID: processID, Code: job.ErrorCode}

		case models.JobStateComplete:
			return job, nil

		case models.JobStateProcessing:
			if s.maxPollAttempts > 0 && polls >= s.maxPollAttempts {
				return nil, fmt.Errorf("%w (%d polls)", ErrPollLimitExceeded, polls)
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pollInterval):
			}

			next, err := s.api.GetConversionState(ctx, &models.ConversionJob{ProcessID: processID}, workFile)
			if err != nil {
				return nil, err
			}
			polls++

			// Status responses do not always echo the process id.
			if next.ProcessID == "" {
				next.ProcessID = processID
			}
			job = next
			s.logger.Debug("Conversion state",
				slog.String("process_id", processID),
				slog.String("state", string(job.State)),
				slog.Int("percent_complete", job.PercentComplete),
			)

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownState, job.State)
		}
	}
}

// SaveOutput downloads every result of a completed job into the directory
// of inputPath and returns the written paths in result order. Files written
// before a failure are left in place.
func (s *ConversionService) SaveOutput(ctx context.Context, job *models.ConversionJob, workFile *models.WorkFile, inputPath string) ([]string, error) {
	if job == nil {
		return nil, missingParameter("conversionState")
	}
	if workFile == nil {
		return nil, missingParameter("workFile")
	}
	if inputPath == "" {
		return nil, missingParameter("inputFilePath")
	}
	format := job.Input.Dest.Format
	if format == "" {
		return nil, missingParameter("conversionState.input.dest.format")
	}

	results := job.Output.Results
	if len(results) == 0 {
		s.logger.Warn("Conversion completed without results", slog.String("process_id", job.ProcessID))
		return []string{}, nil
	}

	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))

	names, err := uniqueOutputNames(base, results, format)
	if err != nil {
		return nil, err
	}

	files := make([]string, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, result := range results {
		outputPath := filepath.Join(dir, names[i])
		files[i] = outputPath

		g.Go(func() error {
			return s.saveResult(gctx, result, workFile, outputPath)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *ConversionService) saveResult(ctx context.Context, result models.ConversionResult, workFile *models.WorkFile, outputPath string) error {
	body, err := s.api.OpenResult(ctx, result, workFile)
	if err != nil {
		return err
	}
	defer body.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(outFile, body); err != nil {
		outFile.Close()
		return fmt.Errorf("failed to save converted file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("failed to save converted file: %w", err)
	}

	s.logger.Debug("Result saved", slog.String("file_id", result.FileID), slog.String("path", outputPath))
	return nil
}

// OutputFileName names the local file for one result: base.format for a
// single result, base_<pages>.format otherwise. Results without a page
// range fall back to their 1-based position.
func OutputFileName(base string, result models.ConversionResult, index int, total int, format string) string {
	if total == 1 {
		return base + "." + format
	}
	pages := result.Src.Pages
	if pages == "" {
		pages = strconv.Itoa(index + 1)
	}
	return base + "_" + pages + "." + format
}

// uniqueOutputNames names every result. A page range seen twice gets the
// result position appended so no two downloads share a file.
func uniqueOutputNames(base string, results []models.ConversionResult, format string) ([]string, error) {
	names := make([]string, len(results))
	seen := make(map[string]struct{}, len(results))
	for i, result := range results {
		name := OutputFileName(base, result, i, len(results), format)
		if _, taken := seen[name]; taken {
			name = strings.TrimSuffix(name, "."+format) + "_" + strconv.Itoa(i+1) + "." + format
		}
		if _, taken := seen[name]; taken {
			return nil, fmt.Errorf("%w: duplicate output file %s", ErrSaveOutput, name)
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return names, nil
}
