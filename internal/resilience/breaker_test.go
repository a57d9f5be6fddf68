package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(_ context.Context) (int, error) { return 0, errors.New("boom") }
func succeeding(_ context.Context) (int, error) { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "explain", FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateClosed, b.State())
	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateOpen, b.State())

	called := false
	_, err := Call(ctx, b, func(_ context.Context) (int, error) {
		called = true
		return 0, nil
	})
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	v, err := Call(ctx, b, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = Call(ctx, b, failing)
	}
	now = now.Add(2 * time.Second)
	_, _ = Call(ctx, b, failing)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1})
	_, _ = Call(context.Background(), b, func(_ context.Context) (int, error) {
		return 0, context.Canceled
	})
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
