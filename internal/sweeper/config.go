package sweeper

import "time"

// Config is the caller-tunable behavior of the startup recovery sweeper
// (spec §4.7).
type Config struct {
	// BootDelay is the wait before the first sweep. Default 10s.
	BootDelay time.Duration

	// Interval is the periodic sweep period. Default 300s, minimum 60s.
	Interval time.Duration

	// BatchSize bounds each job's per-tick selection. Default 20.
	BatchSize int

	// StuckThreshold is how long a row may sit in Submitting with no
	// external id before Job B reclaims it. Default 300s, minimum 120s.
	StuckThreshold time.Duration

	// ResubmitGap is the pause between serial Job A resubmissions.
	ResubmitGap time.Duration
}

// DefaultConfig returns the spec's named defaults.
func DefaultConfig() Config {
	return Config{
		BootDelay:      10 * time.Second,
		Interval:       300 * time.Second,
		BatchSize:      20,
		StuckThreshold: 300 * time.Second,
		ResubmitGap:    100 * time.Millisecond,
	}
}
