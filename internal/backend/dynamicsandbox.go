package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"sampleforge.io/orchestrator/internal/domain"
)

// DynamicSandboxClient talks to a behavioral-sandbox analyzer instance
// (grounded on SampleFarm's CapeClient): multipart submit, polling status,
// and a JSON report retrieved once the backend reaches "reported".
type DynamicSandboxClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewDynamicSandboxClient builds a client with no implicit timeout; callers
// drive deadlines via context (spec §4.3 "No implicit timeouts").
func NewDynamicSandboxClient(baseURL string) *DynamicSandboxClient {
	return &DynamicSandboxClient{
		httpClient: &http.Client{},
		baseURL:    baseURL,
	}
}

type sandboxSubmitResponse struct {
	Error bool `json:"error"`
	Data  *struct {
		TaskID int64 `json:"task_id"`
	} `json:"data"`
	ErrorValue string `json:"error_value"`
}

func (c *DynamicSandboxClient) Submit(ctx context.Context, body io.Reader, fileName string, opts SubmitOptions) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("copy file into form: %w", err)
	}
	for k, v := range opts.Extra {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks/create/file", &buf)
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
	if resp.StatusCode != http.StatusOK {
		return "", ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}

	var parsed sandboxSubmitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TransientError{Err: fmt.Errorf("parse submit response: %w", err)}
	}
	if parsed.Error || parsed.Data == nil || parsed.Data.TaskID <= 0 {
		return "", &PermanentError{Err: fmt.Errorf("sandbox rejected submission: %s", parsed.ErrorValue)}
	}
	return strconv.FormatInt(parsed.Data.TaskID, 10), nil
}

type sandboxStatusResponse struct {
	Error      bool   `json:"error"`
	Data       string `json:"data"`
	ErrorValue string `json:"error_value"`
}

func (c *DynamicSandboxClient) Status(ctx context.Context, externalID string) (LifecycleStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/status/"+externalID, nil)
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

	var parsed sandboxStatusResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TransientError{Err: fmt.Errorf("parse status response: %w", err)}
	}
	if parsed.Error {
		return "", &TransientError{Err: fmt.Errorf("sandbox status error: %s", parsed.ErrorValue)}
	}
	return LifecycleStatus(parsed.Data), nil
}

func (c *DynamicSandboxClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/report/"+externalID, nil)
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
	case http.StatusPreconditionFailed, http.StatusAccepted:
		return nil, ErrStillAnalyzing
	default:
		return nil, ClassifyHTTPStatus(resp.StatusCode, string(raw))
	}
}

func (c *DynamicSandboxClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	return nil, ErrNotSupported
}

func (c *DynamicSandboxClient) Health(ctx context.Context) error {
	// Spec §4.2: for DynamicSandbox, a status query for a known-absent task
	// id is an acceptable probe; both 2xx and 404 denote liveness.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/status/0", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("health probe returned status %d", resp.StatusCode)
}

var _ Client = (*DynamicSandboxClient)(nil)
