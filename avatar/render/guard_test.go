package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/avatarflow/llm/video"
	"github.com/BaSui01/avatarflow/types"
)

// fakeEngine 记录渲染顺序与最大并发度
type fakeEngine struct {
	delay time.Duration
	err   error

	mu        sync.Mutex
	order     []string
	active    atomic.Int32
	maxActive atomic.Int32
}

func (e *fakeEngine) Name() string { return "fake" }
func (e *fakeEngine) Init(context.Context) error { return nil }
func (e *fakeEngine) Ready() bool { return true }

func (e *fakeEngine) Render(ctx context.Context, req *video.RenderRequest) (*video.RenderResult, error) {
	n := e.active.Add(1)
	for {
		cur := e.maxActive.Load()
		if n <= cur || e.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	defer e.active.Add(-1)

	e.mu.Lock()
	e.order = append(e.order, req.SessionID)
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return &video.RenderResult{VideoPath: "out/" + req.SessionID + ".mp4"}, nil
}

func (e *fakeEngine) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

type acquireResult struct {
	ticket *Ticket
	err    error
}

func acquireAsync(g *Guard, ctx context.Context, sessionID string) <-chan acquireResult {
	ch := make(chan acquireResult, 1)
	go func() {
		t, err := g.Acquire(ctx, sessionID)
		ch <- acquireResult{ticket: t, err: err}
	}()
	return ch
}

type fataler interface {
	Fatalf(format string, args ...any)
}

// waitQueue 等待排队长度达到 n，保证到达顺序确定
func waitQueue(t fataler, g *Guard, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for g.QueueLen() != n {
		if time.Now().After(deadline) {
			t.Fatalf("queue length %d, want %d", g.QueueLen(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func recv(t fataler, ch <-chan acquireResult) acquireResult {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("acquire did not return")
		return acquireResult{}
	}
}

func newTestGuard(engine video.Renderer, opts Options) *Guard {
	return NewGuard(engine, opts, zap.NewNop())
}

// ---------------------------------------------------------------------------
// 基本流程
// ---------------------------------------------------------------------------

func TestGuard_AcquireRenderRelease(t *testing.T) {
	engine := &fakeEngine{}
	g := newTestGuard(engine, Options{})

	ticket, err := g.Acquire(context.Background(), "session_a")
	require.NoError(t, err)
	assert.Equal(t, "session_a", ticket.SessionID())
	assert.True(t, g.Snapshot().Busy)

	res, err := g.Render(context.Background(), ticket, &video.RenderRequest{SessionID: "session_a"})
	require.NoError(t, err)
	assert.Equal(t, "out/session_a.mp4", res.VideoPath)

	require.NoError(t, g.Release(ticket))
	snap := g.Snapshot()
	assert.False(t, snap.Busy)
	assert.Empty(t, snap.Queue)
	assert.Equal(t, "fake", snap.EngineName)
}

func TestGuard_FIFOOrder(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	ctx := context.Background()

	first, err := g.Acquire(ctx, "A")
	require.NoError(t, err)

	var chans []<-chan acquireResult
	for i, sid := range []string{"B", "C", "D"} {
		chans = append(chans, acquireAsync(g, ctx, sid))
		waitQueue(t, g, i+1)
	}
	assert.Equal(t, []string{"B", "C", "D"}, g.Snapshot().Queue)

	require.NoError(t, g.Release(first))
	for i, want := range []string{"B", "C", "D"} {
		r := recv(t, chans[i])
		require.NoError(t, r.err)
		assert.Equal(t, want, r.ticket.SessionID())
		assert.Equal(t, want, g.Snapshot().Holder)
		require.NoError(t, g.Release(r.ticket))
	}
	assert.False(t, g.Snapshot().Busy)
}

func TestGuard_WithdrawKeepsRemainingOrder(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	ctx := context.Background()

	holder, err := g.Acquire(ctx, "A")
	require.NoError(t, err)

	chB := acquireAsync(g, ctx, "B")
	waitQueue(t, g, 1)
	chC := acquireAsync(g, ctx, "C")
	waitQueue(t, g, 2)
	chD := acquireAsync(g, ctx, "D")
	waitQueue(t, g, 3)

	assert.Equal(t, 1, g.WithdrawSession("C"))
	assert.Equal(t, []string{"B", "D"}, g.Snapshot().Queue)

	rc := recv(t, chC)
	require.Error(t, rc.err)
	assert.True(t, types.IsErrorCode(rc.err, types.ErrSessionClosed))

	require.NoError(t, g.Release(holder))
	rb := recv(t, chB)
	require.NoError(t, rb.err)
	assert.Equal(t, "B", rb.ticket.SessionID())

	require.NoError(t, g.Release(rb.ticket))
	rd := recv(t, chD)
	require.NoError(t, rd.err)
	assert.Equal(t, "D", rd.ticket.SessionID())
	require.NoError(t, g.Release(rd.ticket))
}

func TestGuard_WithdrawSessionLeavesHolder(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	holder, err := g.Acquire(context.Background(), "A")
	require.NoError(t, err)

	assert.Equal(t, 0, g.WithdrawSession("A"))
	assert.Equal(t, "A", g.Snapshot().Holder)
	require.NoError(t, g.Release(holder))
}

func TestGuard_MutualExclusionUnderLoad(t *testing.T) {
	engine := &fakeEngine{delay: 2 * time.Millisecond}
	g := newTestGuard(engine, Options{})

	const sessions = 16
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("session_%d", i)
			ticket, err := g.Acquire(context.Background(), sid)
			if !assert.NoError(t, err) {
				return
			}
			_, err = g.Render(context.Background(), ticket, &video.RenderRequest{SessionID: sid})
			assert.NoError(t, err)
			assert.NoError(t, g.Release(ticket))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.maxActive.Load())
	assert.Len(t, engine.Order(), sessions)
	assert.False(t, g.Snapshot().Busy)
}

// ---------------------------------------------------------------------------
// 释放语义
// ---------------------------------------------------------------------------

func TestGuard_DoubleReleaseIsNoop(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	ctx := context.Background()

	a, err := g.Acquire(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, g.Release(a))

	b, err := g.Acquire(ctx, "B")
	require.NoError(t, err)

	// A 的重复释放不能把 B 的占用权放掉
	require.NoError(t, g.Release(a))
	assert.Equal(t, "B", g.Snapshot().Holder)

	_, err = g.Render(ctx, a, &video.RenderRequest{SessionID: "A"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))

	require.NoError(t, g.Release(b))
}

func TestGuard_ForeignTicketFailsLoudly(t *testing.T) {
	g1 := newTestGuard(&fakeEngine{}, Options{})
	g2 := newTestGuard(&fakeEngine{}, Options{})

	foreign, err := g2.Acquire(context.Background(), "A")
	require.NoError(t, err)

	err = g1.Release(foreign)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
	err = g1.Release(nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))

	_, err = g1.Render(context.Background(), foreign, &video.RenderRequest{})
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
}

func TestGuard_CorruptedHolderFailsLoudly(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	a, err := g.Acquire(context.Background(), "A")
	require.NoError(t, err)

	// 人为制造不一致：票据仍标记为 held 但 holder 已被替换
	g.mu.Lock()
	impostor := &Ticket{id: 99, sessionID: "X", guard: g, state: ticketHeld, signal: make(chan struct{})}
	g.holder = impostor
	g.mu.Unlock()

	err = g.Release(a)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
	assert.Equal(t, "X", g.Snapshot().Holder)
}

func TestGuard_RenderErrorMapsToRenderCode(t *testing.T) {
	g := newTestGuard(&fakeEngine{err: errors.New("cuda oom")}, Options{})
	ticket, err := g.Acquire(context.Background(), "A")
	require.NoError(t, err)

	_, err = g.Render(context.Background(), ticket, &video.RenderRequest{SessionID: "A"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRender))
	require.NoError(t, g.Release(ticket))
}

// ---------------------------------------------------------------------------
// 限流、超时与取消
// ---------------------------------------------------------------------------

func TestGuard_MaxQueue(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{MaxQueue: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder, err := g.Acquire(ctx, "A")
	require.NoError(t, err)
	chB := acquireAsync(g, ctx, "B")
	waitQueue(t, g, 1)

	_, err = g.Acquire(ctx, "C")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrResourceBusy))

	require.NoError(t, g.Release(holder))
	rb := recv(t, chB)
	require.NoError(t, rb.err)
	require.NoError(t, g.Release(rb.ticket))
}

func TestGuard_AcquireTimeout(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{AcquireTimeout: 20 * time.Millisecond})
	holder, err := g.Acquire(context.Background(), "A")
	require.NoError(t, err)

	_, err = g.Acquire(context.Background(), "B")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrResourceBusy))
	assert.Equal(t, 0, g.QueueLen())

	require.NoError(t, g.Release(holder))
}

func TestGuard_ContextCancelWithdraws(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	bg := context.Background()

	holder, err := g.Acquire(bg, "A")
	require.NoError(t, err)

	ctxB, cancelB := context.WithCancel(bg)
	chB := acquireAsync(g, ctxB, "B")
	waitQueue(t, g, 1)
	chC := acquireAsync(g, bg, "C")
	waitQueue(t, g, 2)

	cancelB()
	rb := recv(t, chB)
	require.Error(t, rb.err)
	assert.ErrorIs(t, rb.err, context.Canceled)
	assert.Equal(t, []string{"C"}, g.Snapshot().Queue)

	require.NoError(t, g.Release(holder))
	rc := recv(t, chC)
	require.NoError(t, rc.err)
	assert.Equal(t, "C", rc.ticket.SessionID())
	require.NoError(t, g.Release(rc.ticket))
}

func TestGuard_Close(t *testing.T) {
	g := newTestGuard(&fakeEngine{}, Options{})
	holder, err := g.Acquire(context.Background(), "A")
	require.NoError(t, err)
	chB := acquireAsync(g, context.Background(), "B")
	waitQueue(t, g, 1)

	g.Close()
	rb := recv(t, chB)
	require.Error(t, rb.err)

	_, err = g.Acquire(context.Background(), "C")
	assert.True(t, types.IsErrorCode(err, types.ErrResourceBusy))
	require.NoError(t, g.Release(holder))
}

// ---------------------------------------------------------------------------
// 属性测试：任意到达/撤回/释放序列下，授予顺序等于剩余队列的到达顺序
// ---------------------------------------------------------------------------

func TestGuard_FIFOProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := newTestGuard(&fakeEngine{}, Options{})
		ctx := context.Background()

		holder, err := g.Acquire(ctx, "s0")
		if err != nil {
			rt.Fatalf("initial acquire: %v", err)
		}

		var model []string // 期望的排队顺序
		pending := map[string]<-chan acquireResult{}
		next := 1

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"arrive", "arrive", "withdraw", "release"}).Draw(rt, "op")
			switch op {
			case "arrive":
				sid := fmt.Sprintf("s%d", next)
				next++
				pending[sid] = acquireAsync(g, ctx, sid)
				model = append(model, sid)
				waitQueue(rt, g, len(model))

			case "withdraw":
				if len(model) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(model)-1).Draw(rt, "idx")
				sid := model[idx]
				if n := g.WithdrawSession(sid); n != 1 {
					rt.Fatalf("withdraw %s removed %d tickets", sid, n)
				}
				model = append(model[:idx], model[idx+1:]...)
				if r := recv(rt, pending[sid]); r.err == nil {
					rt.Fatalf("withdrawn ticket %s was granted", sid)
				}
				delete(pending, sid)

			case "release":
				if len(model) == 0 {
					continue
				}
				if err := g.Release(holder); err != nil {
					rt.Fatalf("release: %v", err)
				}
				want := model[0]
				model = model[1:]
				r := recv(rt, pending[want])
				if r.err != nil {
					rt.Fatalf("expected %s granted, got %v", want, r.err)
				}
				delete(pending, want)
				holder = r.ticket
			}

			snap := g.Snapshot()
			if len(snap.Queue) != len(model) {
				rt.Fatalf("queue %v, model %v", snap.Queue, model)
			}
			for j := range model {
				if snap.Queue[j] != model[j] {
					rt.Fatalf("queue %v, model %v", snap.Queue, model)
				}
			}
		}

		// 收尾：依次释放，确认剩余队列按顺序授予
		for len(model) > 0 {
			_ = g.Release(holder)
			r := recv(rt, pending[model[0]])
			if r.err != nil || r.ticket.SessionID() != model[0] {
				rt.Fatalf("drain: expected %s, got %+v", model[0], r)
			}
			holder = r.ticket
			model = model[1:]
		}
		_ = g.Release(holder)
	})
}
