package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New(cfg, zap.NewNop())
	b.now = clock.Now
	return b, clock
}

var errEngine = errors.New("engine crashed")

func fail(context.Context) (int, error) { return 0, errEngine }
func ok(context.Context) (int, error) { return 7, nil }

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil config uses defaults", cfg: nil},
		{name: "zero values corrected", cfg: &Config{Threshold: 0, ResetTimeout: 0, HalfOpenMaxCalls: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg, nil)
			assert.Equal(t, 3, b.config.Threshold)
			assert.Equal(t, 30*time.Second, b.config.ResetTimeout)
			assert.Equal(t, 1, b.config.HalfOpenMaxCalls)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

// ---------------------------------------------------------------------------
// 状态机
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_, err := Call(ctx, b, fail)
	require.ErrorIs(t, err, errEngine)
	assert.Equal(t, StateClosed, b.State())

	_, err = Call(ctx, b, fail)
	require.ErrorIs(t, err, errEngine)
	assert.Equal(t, StateOpen, b.State())

	called := false
	_, err = Call(ctx, b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the engine")
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(2 * time.Minute)
	v, err := Call(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	clock.Advance(2 * time.Minute)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrTooManyCallsInHalfOpen)

	b.Record(errEngine)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_NeutralErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	_, err := Call(ctx, b, func(context.Context) (int, error) {
		return 0, fmt.Errorf("session gone: %w", context.Canceled)
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, b.State())

	_, err = Call(ctx, b, func(context.Context) (int, error) {
		return 0, types.NewInputError("audio path is required")
	})
	require.Error(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 1})
	_, _ = Call(context.Background(), b, fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_OnStateChange(t *testing.T) {
	changes := make(chan [2]State, 4)
	b, _ := newTestBreaker(&Config{
		Threshold: 1,
		OnStateChange: func(from, to State) {
			changes <- [2]State{from, to}
		},
	})

	_, _ = Call(context.Background(), b, fail)

	select {
	case c := <-changes:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, c)
	case <-time.After(time.Second):
		t.Fatal("expected state change callback")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}
