// Package objectstore defines the narrow interface the core orchestration
// engine needs against blob storage. The concrete object-store client
// (bucket provisioning, credentials, multipart upload) is explicitly out of
// core scope (spec §1 "Deliberately OUT of scope" — object-storage client);
// only this interface and a filesystem-backed test double live here.
package objectstore

import (
	"context"
	"io"
)

// Store is the subset of object-storage operations the submission pipeline
// (payload download) and report fetcher (artifact upload) need.
type Store interface {
	// Get streams the object at key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put uploads r under key and returns the stored key (spec §4.6 step 2:
	// "cfg/<external_id>/<name>").
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}
