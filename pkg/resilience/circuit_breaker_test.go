package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	. "sjscal/pkg/resilience"
)

var errBackend = errors.New("backend down")

func fail() error { return errBackend }
func ok() error { return nil }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Second})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), ok)
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), fail)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), fail)
	time.Sleep(60 * time.Millisecond)
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_CancelledContextIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	var seen []string
	cb := NewCircuitBreaker("hooked", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name string, from, to CircuitState) {
			seen = append(seen, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), fail)
	cb.Reset()

	assert.Equal(t, []string{"hooked:closed->open", "hooked:open->closed"}, seen)
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := NewCircuitBreaker("s3:bucket", DefaultCircuitBreakerConfig())
	_ = cb.Execute(context.Background(), fail)

	snap := cb.Snapshot()
	assert.Equal(t, "s3:bucket", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 1, snap.Failures)
	assert.False(t, snap.LastFailure.IsZero())
}
