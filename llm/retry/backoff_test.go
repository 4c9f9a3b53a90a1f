package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func retryable(msg string) error {
	return types.NewError(types.ErrGeneration, msg).WithRetryable(true)
}

func TestRetryer_Success(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_RetryAndSuccess(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	got, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", retryable("temporary")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetryer_ExhaustedReturnsLastError(t *testing.T) {
	r := NewRetryer(fastPolicy(2), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return retryable("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, types.IsErrorCode(err, types.ErrGeneration))
	assert.Equal(t, "[GENERATION_ERROR] still down", err.Error())
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := NewRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return types.NewInputError("bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("plain error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "untyped errors are not retried by default")
}

func TestRetryer_CustomShouldRetry(t *testing.T) {
	sentinel := errors.New("flaky")
	p := fastPolicy(2)
	p.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	var attempts []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}
	r := NewRetryer(p, nil)

	err := r.Do(context.Background(), func(ctx context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryer_ContextCancelledDuringBackoff(t *testing.T) {
	p := fastPolicy(5)
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	r := NewRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(ctx context.Context) error {
			calls++
			return retryable("down")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryer_CalculateDelay(t *testing.T) {
	r := NewRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, zap.NewNop())

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(3))
	assert.Equal(t, time.Second, r.calculateDelay(5))
}

func TestNewRetryer_Normalizes(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxRetries: -1, Multiplier: 0.5}, nil)
	p := r.Policy()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.NotNil(t, p.ShouldRetry)
}
