package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             10 * time.Second,
		MaxHalfOpenRequests: 2,
	}, zap.NewNop())
	cb.now = func() time.Time { return now }

	assert.True(t, cb.AllowRequest())
	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerOpen, cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(10 * time.Second)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, CircuitBreakerHalfOpen, cb.State())
	assert.True(t, cb.AllowRequest())
	assert.False(t, cb.AllowRequest(), "half-open admits a bounded number of probes")

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxHalfOpenRequests: 1}, zap.NewNop())
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(time.Second)
	assert.True(t, cb.AllowRequest())
	cb.RecordFailure()
	assert.Equal(t, CircuitBreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitBreakerClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{}, zap.NewNop())
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, CircuitBreakerClosed, cb.State())
}
