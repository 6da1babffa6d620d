package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"sampleforge.io/orchestrator/internal/domain"
)

// FeatureExtractorClient talks to a static/graph extractor analyzer
// instance (grounded on SampleFarm's CfgClient): submit is keyed by the
// sample's sha256 and is idempotent — a backend "already exists" response
// is treated as success (spec §4.3 table, P4).
type FeatureExtractorClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewFeatureExtractorClient builds a client with no implicit timeout.
func NewFeatureExtractorClient(baseURL string) *FeatureExtractorClient {
	return &FeatureExtractorClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
}

type extractorSubmitResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (c *FeatureExtractorClient) Submit(ctx context.Context, body io.Reader, fileName string, opts SubmitOptions) (string, error) {
	if opts.TaskID == "" {
		return "", &PermanentError{Err: fmt.Errorf("feature extractor submit requires a task id (sha256)")}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("task_id", opts.TaskID); err != nil {
		return "", fmt.Errorf("write task_id field: %w", err)
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("copy file into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	// Idempotent re-submission: the backend's "already exists" case is a 4xx
	// but must be treated as success (spec §4.3, P4).
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(raw)), "already exists") {
		return opts.TaskID, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}

	var parsed extractorSubmitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TransientError{Err: fmt.Errorf("parse submit response: %w", err)}
	}
	if parsed.Error != "" {
		return "", &PermanentError{Err: fmt.Errorf("extractor rejected submission: %s", parsed.Error)}
	}
	return opts.TaskID, nil
}

type extractorStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *FeatureExtractorClient) Status(ctx context.Context, externalID string) (LifecycleStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+externalID+"/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}

	var parsed extractorStatusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TransientError{Err: fmt.Errorf("parse status response: %w", err)}
	}
	if parsed.Error != "" {
		return "", &TransientError{Err: fmt.Errorf("extractor status error: %s", parsed.Error)}
	}
	return LifecycleStatus(parsed.Status), nil
}

func (c *FeatureExtractorClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+externalID+"/result", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return domain.SanitizeJSONNuls(raw), nil
	case http.StatusAccepted:
		return nil, ErrStillAnalyzing
	default:
		return nil, ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}
}

func (c *FeatureExtractorClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+externalID+"/artifacts/"+name, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (c *FeatureExtractorClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("health probe returned status %d", resp.StatusCode)
}

var _ Client = (*FeatureExtractorClient)(nil)
