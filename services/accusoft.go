package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"docconvert/models"
)

const (
	headerAPIKey        = "acs-api-key"
	headerAffinityToken = "Accusoft-Affinity-Token"

	workFilePath          = "/PCCIS/V1/WorkFile"
	contentConvertersPath = "/v2/contentConverters"
)

// AccusoftClient talks to the work file and content converter endpoints of
// the Accusoft cloud API.
type AccusoftClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAccusoftClient(baseURL, apiKey string, timeout time.Duration) *AccusoftClient {
	return &AccusoftClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout, // 0 leaves cancellation to the context
		},
	}
}

// CreateWorkFile uploads the whole input file and returns the work file handle.
func (a *AccusoftClient) CreateWorkFile(ctx context.Context, inputPath string) (*models.WorkFile, error) {
	if inputPath == "" {
		return nil, missingParameter("inputPath")
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+workFilePath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerAPIKey, a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workfile request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrCreateWorkFile); err != nil {
		return nil, err
	}

	var workFile models.WorkFile
	if err := json.NewDecoder(resp.Body).Decode(&workFile); err != nil {
		return nil, fmt.Errorf("failed to decode workfile: %w", err)
	}
	return &workFile, nil
}

// ConvertDocument submits a conversion of workFile to outputFormat.
func (a *AccusoftClient) ConvertDocument(ctx context.Context, workFile *models.WorkFile, outputFormat string) (*models.ConversionJob, error) {
	if workFile == nil {
		return nil, missingParameter("workFile")
	}
	if outputFormat == "" {
		return nil, missingParameter("outputFormat")
	}

	payload := struct {
		Input models.JobInput `json:"input"`
	}{
		Input: models.JobInput{
			Src:  models.JobSource{FileID: workFile.FileID},
			Dest: models.JobDestination{Format: outputFormat},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+contentConvertersPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setSessionHeaders(req, workFile)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrConvertDocument); err != nil {
		return nil, err
	}
	return decodeJob(resp.Body)
}

// GetConversionState fetches the current descriptor of job.
func (a *AccusoftClient) GetConversionState(ctx context.Context, job *models.ConversionJob, workFile *models.WorkFile) (*models.ConversionJob, error) {
	if job == nil || job.ProcessID == "" {
		return nil, missingParameter("conversionState")
	}
	if workFile == nil {
		return nil, missingParameter("workFile")
	}

	endpoint := a.baseURL + contentConvertersPath + "/" + url.PathEscape(job.ProcessID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setSessionHeaders(req, workFile)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion state request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, ErrConversionState); err != nil {
		return nil, err
	}
	return decodeJob(resp.Body)
}

// OpenResult starts the download of one result. The caller must close the
// returned body.
func (a *AccusoftClient) OpenResult(ctx context.Context, result models.ConversionResult, workFile *models.WorkFile) (io.ReadCloser, error) {
	if result.FileID == "" {
		return nil, missingParameter("result.fileId")
	}
	if workFile == nil {
		return nil, missingParameter("workFile")
	}

	endpoint := a.baseURL + workFilePath + "/" + url.PathEscape(result.FileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setSessionHeaders(req, workFile)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("result download failed: %w", err)
	}

	if err := checkStatus(resp, ErrSaveOutput); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (a *AccusoftClient) setSessionHeaders(req *http.Request, workFile *models.WorkFile) {
	req.Header.Set(headerAPIKey, a.apiKey)
	req.Header.Set(headerAffinityToken, workFile.AffinityToken)
}

// checkStatus treats anything above 300 as a failure of stage.
func checkStatus(resp *http.Response, stage error) error {
	if resp.StatusCode <= http.StatusMultipleChoices {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Stage:      stage,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(bodyBytes)),
	}
}

func decodeJob(r io.Reader) (*models.ConversionJob, error) {
	var job models.ConversionJob
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to decode conversion state: %w", err)
	}
	return &job, nil
}
