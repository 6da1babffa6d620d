package poller

import "time"

// Config is the caller-tunable behavior of the status poller (spec §4.5).
type Config struct {
	// Interval is the fixed tick period. Default 30s.
	Interval time.Duration

	// PerInstanceBatch bounds how many sub-tasks are polled per instance per
	// tick. Default 1000.
	PerInstanceBatch int
}

// DefaultConfig returns the spec's named defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		PerInstanceBatch: 1000,
	}
}
