package ctlog

import (
	"sync"
	"time"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// Breaker implements the per-log circuit breaker state machine from
// spec.md §4.3: Healthy -> Degraded -> Open -> Degraded -> Healthy,
// with counters reset on every transition.
type Breaker struct {
	mu sync.Mutex

	state                certmodel.HealthState
	consecutiveSuccesses int
	consecutiveFailures  int
	openedAt             time.Time

	unhealthyThreshold      int
	healthyThreshold        int
	healthCheckInterval     time.Duration
}

func NewBreaker(unhealthyThreshold, healthyThreshold int, healthCheckInterval time.Duration) *Breaker {
	return &Breaker{
		state:                   certmodel.Healthy,
		unhealthyThreshold:      unhealthyThreshold,
		healthyThreshold:        healthyThreshold,
		healthCheckInterval:     healthCheckInterval,
	}
}

// RecordSuccess advances the breaker on a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	switch b.state {
	case certmodel.Open:
		// A successful probe while Open moves to Degraded, not straight
		// to Healthy — it still needs healthyThreshold consecutive
		// successes.
		b.state = certmodel.Degraded
		b.consecutiveSuccesses = 1
	case certmodel.Degraded:
		if b.consecutiveSuccesses >= b.healthyThreshold {
			b.state = certmodel.Healthy
			b.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure advances the breaker on a failed request.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	switch b.state {
	case certmodel.Healthy:
		b.state = certmodel.Degraded
		b.consecutiveFailures = 1
	case certmodel.Degraded:
		if b.consecutiveFailures >= b.unhealthyThreshold {
			b.state = certmodel.Open
			b.openedAt = time.Now()
			b.consecutiveFailures = 0
		}
	case certmodel.Open:
		// Failed probe: stay Open, restart the suspend window.
		b.openedAt = time.Now()
	}
}

// State returns the current state.
func (b *Breaker) State() certmodel.HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ShouldPoll reports whether the worker should issue a request this
// tick: always when not Open, or when Open and the suspend window has
// elapsed (time for a single probe).
func (b *Breaker) ShouldPoll() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != certmodel.Open {
		return true
	}
	return time.Since(b.openedAt) >= b.healthCheckInterval
}

// Snapshot returns a copy of the breaker's health for metrics/status
// reporting.
func (b *Breaker) Snapshot() certmodel.LogHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	return certmodel.LogHealth{
		State:                b.state,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		ConsecutiveFailures:  b.consecutiveFailures,
		OpenedAt:             b.openedAt,
	}
}
