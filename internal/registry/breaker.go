package registry

import (
	"context"
	"io"

	"github.com/sony/gobreaker"

	"sampleforge.io/orchestrator/internal/backend"
)

// breakerClient wraps a backend.Client so repeated failures trip a
// per-instance circuit breaker: while it is open, calls to that instance
// fail immediately without reaching the backend. get_available reads only
// the stored health status, so the instance stays selectable until the
// next scheduled probe records it Unhealthy.
type breakerClient struct {
	inner   backend.Client
	breaker *gobreaker.CircuitBreaker
}

func (b *breakerClient) Submit(ctx context.Context, body io.Reader, fileName string, opts backend.SubmitOptions) (string, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Submit(ctx, body, fileName, opts)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *breakerClient) Status(ctx context.Context, externalID string) (backend.LifecycleStatus, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Status(ctx, externalID)
	})
	if err != nil {
		return "", err
	}
	return out.(backend.LifecycleStatus), nil
}

func (b *breakerClient) Report(ctx context.Context, externalID string) ([]byte, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Report(ctx, externalID)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]byte), nil
}

func (b *breakerClient) DownloadArtifact(ctx context.Context, externalID, name string) (io.ReadCloser, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.DownloadArtifact(ctx, externalID, name)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(io.ReadCloser), nil
}

func (b *breakerClient) Health(ctx context.Context) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Health(ctx)
	})
	return err
}

var _ backend.Client = (*breakerClient)(nil)
