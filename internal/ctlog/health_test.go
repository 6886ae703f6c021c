package ctlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

func TestBreakerStartsHealthy(t *testing.T) {
	b := NewBreaker(3, 2, time.Minute)
	require.Equal(t, certmodel.Healthy, b.State())
	require.True(t, b.ShouldPoll())
}

func TestBreakerHealthyToOpenRequiresUnhealthyThresholdFailures(t *testing.T) {
	b := NewBreaker(3, 2, time.Minute)

	b.RecordFailure()
	require.Equal(t, certmodel.Degraded, b.State(), "a single failure degrades, it doesn't open")

	b.RecordFailure()
	require.Equal(t, certmodel.Degraded, b.State())

	b.RecordFailure()
	require.Equal(t, certmodel.Open, b.State(), "threshold consecutive failures should open the breaker")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker(3, 2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	require.Equal(t, certmodel.Degraded, b.State())

	// Another failure from here shouldn't open it, since the streak reset.
	b.RecordFailure()
	require.Equal(t, certmodel.Degraded, b.State())
}

func TestBreakerOpenProbeSuccessMovesToDegradedNotHealthy(t *testing.T) {
	b := NewBreaker(1, 2, time.Minute)

	b.RecordFailure() // Healthy -> Degraded
	b.RecordFailure() // Degraded -> Open (unhealthyThreshold=1 needs only 1 in Degraded)
	require.Equal(t, certmodel.Open, b.State())

	b.RecordSuccess() // single successful probe while Open
	require.Equal(t, certmodel.Degraded, b.State(), "one success from Open should land on Degraded, not Healthy")
}

func TestBreakerDegradedToHealthyRequiresHealthyThresholdSuccesses(t *testing.T) {
	b := NewBreaker(1, 3, time.Minute)

	b.RecordFailure() // Healthy -> Degraded
	require.Equal(t, certmodel.Degraded, b.State())

	b.RecordSuccess()
	b.RecordSuccess()
	require.Equal(t, certmodel.Degraded, b.State(), "not enough consecutive successes yet")

	b.RecordSuccess()
	require.Equal(t, certmodel.Healthy, b.State())
}

func TestBreakerOpenBlocksPollingUntilHealthCheckInterval(t *testing.T) {
	b := NewBreaker(1, 1, 50*time.Millisecond)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, certmodel.Open, b.State())
	require.False(t, b.ShouldPoll(), "should not poll immediately after opening")

	time.Sleep(60 * time.Millisecond)
	require.True(t, b.ShouldPoll(), "should allow a probe once the suspend window elapses")
}

func TestBreakerFailedProbeWhileOpenRestartsSuspendWindow(t *testing.T) {
	b := NewBreaker(1, 1, 50*time.Millisecond)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, certmodel.Open, b.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, b.ShouldPoll())

	b.RecordFailure() // failed probe
	require.Equal(t, certmodel.Open, b.State())
	require.False(t, b.ShouldPoll(), "a failed probe should restart the suspend window")
}

func TestBreakerSnapshotReflectsCounters(t *testing.T) {
	b := NewBreaker(5, 2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	snap := b.Snapshot()
	require.Equal(t, certmodel.Degraded, snap.State)
	require.Equal(t, 2, snap.ConsecutiveFailures)
	require.Equal(t, 0, snap.ConsecutiveSuccesses)
}
