package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffPolicy_Delay_ExponentialGrowth(t *testing.T) {
	p := BackoffPolicy{Initial: 1 * time.Second, Multiplier: 2, Max: 100 * time.Second}

	require.Equal(t, 1*time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 8*time.Second, p.Delay(4))
}

func TestBackoffPolicy_Delay_CapsAtMax(t *testing.T) {
	p := BackoffPolicy{Initial: 1 * time.Second, Multiplier: 10, Max: 5 * time.Second}

	require.Equal(t, 5*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(10))
}

func TestBackoffPolicy_Delay_ClampsSubOneAttempt(t *testing.T) {
	p := BackoffPolicy{Initial: 2 * time.Second, Multiplier: 2, Max: 100 * time.Second}

	require.Equal(t, p.Delay(1), p.Delay(0))
	require.Equal(t, p.Delay(1), p.Delay(-5))
}

func TestBackoffPolicy_Delay_JitterStaysWithinTenPercent(t *testing.T) {
	p := BackoffPolicy{Initial: 10 * time.Second, Multiplier: 1, Max: 100 * time.Second, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		require.GreaterOrEqual(t, d, 9*time.Second)
		require.LessOrEqual(t, d, 11*time.Second)
	}
}

func TestReportFetchBackoff_MatchesSpecSchedule(t *testing.T) {
	require.Equal(t, 1500*time.Millisecond, ReportFetchBackoff.Initial)
	require.InDelta(t, 1.3, ReportFetchBackoff.Multiplier, 0.001)
	require.Equal(t, 6*time.Second, ReportFetchBackoff.Max)
	require.Equal(t, 20, ReportFetchMaxAttempts)
}
