package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrNotSupported is returned by operations a family's client does not
// implement (e.g. DownloadArtifact on DynamicSandbox).
var ErrNotSupported = errors.New("operation not supported by this backend family")

// ErrStillAnalyzing signals the backend's "report not ready yet" condition
// (spec §4.3 Report, §4.6 step 1's retry target).
var ErrStillAnalyzing = errors.New("backend report still being analyzed")

// TransientError wraps a retryable failure: network error, 5xx, a JSON
// parse failure against an HTML error page, or a connection reset (spec
// §4.3, §9 "Retry classifier").
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a non-retryable failure: an explicit backend error
// envelope, or a 4xx other than the idempotent "already exists" case.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff (spec
// §4.4 step 4, §9 "Retry classifier is the policy surface").
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, ErrStillAnalyzing) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var jsonErr *json.SyntaxError
	if errors.As(err, &jsonErr) {
		return true
	}

	return false
}

// ClassifyHTTPStatus maps an HTTP status code from a backend response to a
// transient or permanent error, per the classifier rules in spec §4.3/§9:
// 5xx and 429 are transient; other 4xx are permanent.
func ClassifyHTTPStatus(status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	base := errors.New(strings.TrimSpace(truncatePreview(body, 300)))
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return &TransientError{Err: base}
	default:
		return &PermanentError{Err: base}
	}
}

// truncatePreview bounds a backend response preview to ~300 chars for
// operator diagnosis (spec §7 "Propagation").
func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
