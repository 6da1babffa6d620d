package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore is a filesystem-backed Store, useful for local development and
// tests. It is not the production object-store client (spec §1 places that
// out of core scope); it exists so internal/pipeline and internal/fetcher
// can be exercised without a running MinIO/S3 endpoint.
type FSStore struct {
	root string
}

// NewFSStore creates an FSStore rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

func (s *FSStore) path(key string) string {
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	return filepath.Join(s.root, clean)
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("open object %q: %w", key, err)
	}
	return f, nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create object dir for %q: %w", key, err)
	}
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("create object %q: %w", key, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return "", fmt.Errorf("write object %q: %w", key, err)
	}
	if n == 0 {
		return "", fmt.Errorf("write object %q: zero bytes written", key)
	}
	return key, nil
}

var _ Store = (*FSStore)(nil)
