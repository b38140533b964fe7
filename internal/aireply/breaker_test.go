package aireply

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker() (*Breaker, *time.Time) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 2,
	})
	b.now = func() time.Time { return now }
	b.changedAt = now
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker()

	fail := func() error { return errBoom }
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker()

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	*now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
}
