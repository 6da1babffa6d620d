package domain

import "context"

// Sample is opaque to the core orchestration engine; sample CRUD/search,
// upload and hashing live outside core scope (spec §1). The core only needs
// these four fields to materialize a submission payload.
type Sample struct {
	SampleID  string
	SHA256    string
	FileName  string
	ObjectKey string
}

// SampleLookup is the external collaborator the submission pipeline uses to
// resolve a sample_id to its storage-addressable metadata (spec §4.4
// step 3).
type SampleLookup interface {
	GetSample(ctx context.Context, sampleID string) (*Sample, error)
}
