package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, time.March, 12, 6, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	boom := errors.New("boom")

	for range 2 {
		require.NoError(t, cb.Allow())
		cb.Record(boom)
	}
	assert.Equal(t, CircuitClosed, cb.State(), "below threshold stays closed")

	require.NoError(t, cb.Allow())
	cb.Record(boom)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	boom := errors.New("boom")

	cb.Record(boom)
	cb.Record(boom)
	cb.Record(nil)
	cb.Record(boom)
	cb.Record(boom)
	assert.Equal(t, CircuitClosed, cb.State(), "intervening success resets the streak")
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)
	boom := errors.New("boom")

	cb.Record(boom)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Allow(), "reset timeout elapsed, probe allowed")

	// A successful probe closes the circuit.
	cb.Record(nil)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, 30*time.Second)
	boom := errors.New("boom")

	cb.Record(boom)
	*now = now.Add(31 * time.Second)
	require.NoError(t, cb.Allow())

	cb.Record(boom)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "failed probe reopens immediately")
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})

	cb.Record(errors.New("mapserver error 400: Invalid query"))
	assert.NoError(t, cb.Allow(), "non-transient errors do not trip the breaker")

	cb.Record(NewTransientError(errors.New("503"), 503))
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestBreakerSet_PerKey(t *testing.T) {
	set := NewBreakerSet(CircuitBreakerConfig{FailureThreshold: 1})

	set.For("maps2.dcgis.dc.gov").Record(errors.New("boom"))

	assert.ErrorIs(t, set.For("maps2.dcgis.dc.gov").Allow(), ErrCircuitOpen)
	assert.NoError(t, set.For("weather.visualcrossing.com").Allow(),
		"one host's outage does not block the other")
	assert.Same(t, set.For("maps2.dcgis.dc.gov"), set.For("maps2.dcgis.dc.gov"))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
