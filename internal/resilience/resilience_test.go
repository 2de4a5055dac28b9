package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("service unavailable")

// =============================================================================
// RETRY POLICY
// =============================================================================

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	p := Policy{Attempts: 3, Base: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTest
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ExhaustedReturnsLastError(t *testing.T) {
	p := Policy{Attempts: 3, Base: time.Millisecond, Exponential: true, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTest
	})

	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, 3, calls)
}

func TestPolicy_PermanentStopsImmediately(t *testing.T) {
	p := Policy{Attempts: 5, Base: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errTest)
	})

	assert.ErrorIs(t, err, errTest)
	assert.False(t, IsPermanent(err), "Do unwraps the permanent marker")
	assert.Equal(t, 1, calls)
}

func TestPolicy_AttemptTimeoutIsRetryable(t *testing.T) {
	p := Policy{Attempts: 2, Base: time.Millisecond, AttemptTimeout: 5 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestPolicy_StopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 10, Base: 50 * time.Millisecond}

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTest
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(1, time.Second)

	err := b.Execute(func() error { return Permanent(errTest) })
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return errTest })
	}
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Second)

	// The probe fails and the breaker re-opens
	assert.ErrorIs(t, b.Execute(func() error { return errTest }), errTest)
	assert.Equal(t, "open", b.State())

	now = now.Add(time.Second)

	// The probe succeeds and the breaker closes
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}
