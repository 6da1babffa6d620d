package backend

import (
	"math/rand"
	"time"
)

// BackoffPolicy implements the exponential-backoff-with-jitter schedule
// used both by the submission pipeline's submit retries (spec §4.4 step 4)
// and the report fetcher's "still being analyzed" retries (spec §4.6
// step 1).
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// Delay returns the backoff delay before attempt (1-indexed): initial *
// multiplier^(attempt-1), capped at Max, with optional +/-10% jitter (spec
// §4.4 step 4).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.Max); p.Max > 0 && d > max {
		d = max
	}
	if p.Jitter {
		jitter := d * 0.10
		d += (rand.Float64()*2 - 1) * jitter
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// ReportFetchBackoff is the fixed schedule spec §4.6 step 1 names: start
// ~1.5s, grow 1.3x, cap ~6s, up to ~20 attempts.
var ReportFetchBackoff = BackoffPolicy{
	Initial:    1500 * time.Millisecond,
	Multiplier: 1.3,
	Max:        6 * time.Second,
}

// ReportFetchMaxAttempts bounds the report-fetch retry loop (spec §4.6
// step 1).
const ReportFetchMaxAttempts = 20
