package pipeline

import "time"

// Config is the caller-tunable behavior of the submission pipeline (spec
// §4.4 step 4, "Determinism & ordering").
type Config struct {
	// SubmitIntervalMs is the gap between serial submissions within one
	// batch-execute invocation. Default 1000ms (spec §4.4).
	SubmitIntervalMs int

	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	Jitter         bool

	// TempDir is the parent of the per-sub-task scratch directories used to
	// materialize sample bytes before submission (spec §4.4 step 3).
	TempDir string
}

// DefaultConfig returns the spec's named defaults.
func DefaultConfig() Config {
	return Config{
		SubmitIntervalMs: 1000,
		MaxAttempts:      5,
		InitialBackoff:   1 * time.Second,
		Multiplier:       2,
		MaxBackoff:       30 * time.Second,
		Jitter:           true,
		TempDir:          "/tmp/sampleforge-submit",
	}
}
