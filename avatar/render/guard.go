// Package render 串行化对单例渲染引擎的访问。
package render

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/llm/video"
	"github.com/BaSui01/avatarflow/types"
)

// ticketState 票据生命周期：queued -> held -> released，或 queued -> withdrawn
type ticketState int

const (
	ticketQueued ticketState = iota
	ticketHeld
	ticketReleased
	ticketWithdrawn
)

func (s ticketState) String() string {
	switch s {
	case ticketQueued:
		return "queued"
	case ticketHeld:
		return "held"
	case ticketReleased:
		return "released"
	case ticketWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Ticket is one turn's claim on the render engine.
type Ticket struct {
	id        uint64
	sessionID string
	guard     *Guard

	// 以下字段由 guard.mu 保护
	state      ticketState
	elem       *list.Element
	enqueuedAt time.Time
	grantedAt  time.Time

	// signal 在授予或撤回时关闭，之后读取 state 判断结果
	signal chan struct{}
}

// ID returns the ticket's arrival number.
func (t *Ticket) ID() uint64 { return t.id }

// SessionID returns the owning session.
func (t *Ticket) SessionID() string { return t.sessionID }

// Observer receives guard metrics. internal/metrics.Collector implements it.
type Observer interface {
	RecordRenderQueueDepth(depth int)
	RecordRenderWait(wait time.Duration, granted bool)
	RecordRender(elapsed time.Duration, success bool)
}

type noopObserver struct{}

func (noopObserver) RecordRenderQueueDepth(int) {}
func (noopObserver) RecordRenderWait(time.Duration, bool) {}
func (noopObserver) RecordRender(time.Duration, bool) {}

// Options 渲染守卫配置
type Options struct {
	// MaxQueue 最大排队数，0 表示不限制；超出返回 RESOURCE_BUSY
	MaxQueue int
	// AcquireTimeout 最长排队时间，0 表示只受 ctx 约束
	AcquireTimeout time.Duration
	Observer       Observer
}

// Guard grants exclusive, FIFO-ordered access to one video.Renderer.
//
// At most one ticket is held at any instant. Tickets are granted in the
// order Acquire was called. A queued ticket can be withdrawn without
// disturbing the order of the remaining queue.
type Guard struct {
	engine   video.Renderer
	opts     Options
	observer Observer
	logger   *zap.Logger

	mu      sync.Mutex
	holder  *Ticket
	waiters *list.List // of *Ticket
	nextID  uint64
	closed  bool
}

// NewGuard wraps engine. The guard must be the only caller of engine.Render.
func NewGuard(engine video.Renderer, opts Options, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Guard{
		engine:   engine,
		opts:     opts,
		observer: obs,
		logger:   logger.With(zap.String("component", "render_guard")),
		waiters:  list.New(),
	}
}

// ============================================================
// 🎯 核心方法
// ============================================================

// Acquire blocks until the calling turn holds the engine, ctx is done, the
// acquire timeout elapses, or the session's tickets are withdrawn.
func (g *Guard) Acquire(ctx context.Context, sessionID string) (*Ticket, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, types.NewResourceBusyError("Avatar renderer is shutting down")
	}

	g.nextID++
	t := &Ticket{
		id:         g.nextID,
		sessionID:  sessionID,
		guard:      g,
		enqueuedAt: time.Now(),
		signal:     make(chan struct{}),
	}

	// 空闲且无人排队时直接授予
	if g.holder == nil && g.waiters.Len() == 0 {
		g.grantLocked(t)
		g.mu.Unlock()
		g.observer.RecordRenderWait(0, true)
		return t, nil
	}

	if g.opts.MaxQueue > 0 && g.waiters.Len() >= g.opts.MaxQueue {
		depth := g.waiters.Len()
		g.mu.Unlock()
		g.logger.Warn("render queue full",
			zap.String("session_id", sessionID),
			zap.Int("queue_depth", depth),
		)
		return nil, types.NewResourceBusyError("Avatar renderer is busy, please try again shortly")
	}

	t.state = ticketQueued
	t.elem = g.waiters.PushBack(t)
	depth := g.waiters.Len()
	g.mu.Unlock()

	g.observer.RecordRenderQueueDepth(depth)
	g.logger.Debug("render ticket queued",
		zap.String("session_id", sessionID),
		zap.Uint64("ticket", t.id),
		zap.Int("queue_depth", depth),
	)

	var timeout <-chan time.Time
	if g.opts.AcquireTimeout > 0 {
		timer := time.NewTimer(g.opts.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-t.signal:
		g.mu.Lock()
		state := t.state
		g.mu.Unlock()
		if state == ticketHeld {
			g.observer.RecordRenderWait(time.Since(t.enqueuedAt), true)
			return t, nil
		}
		g.observer.RecordRenderWait(time.Since(t.enqueuedAt), false)
		return nil, types.NewError(types.ErrSessionClosed, "render request withdrawn")

	case <-ctx.Done():
		g.abandon(t)
		g.observer.RecordRenderWait(time.Since(t.enqueuedAt), false)
		return nil, types.NewError(types.ErrSessionClosed, "render request cancelled").WithCause(ctx.Err())

	case <-timeout:
		g.abandon(t)
		g.observer.RecordRenderWait(time.Since(t.enqueuedAt), false)
		return nil, types.NewResourceBusyError("Timed out waiting for the avatar renderer")
	}
}

// Render runs the engine on behalf of the ticket holder.
func (g *Guard) Render(ctx context.Context, t *Ticket, req *video.RenderRequest) (*video.RenderResult, error) {
	g.mu.Lock()
	held := t != nil && t.guard == g && t.state == ticketHeld && g.holder == t
	g.mu.Unlock()
	if !held {
		g.logger.Error("render called without holding the engine",
			zap.Stack("stack"),
		)
		return nil, types.NewInternalError("render ticket does not hold the engine")
	}

	start := time.Now()
	res, err := g.engine.Render(ctx, req)
	g.observer.RecordRender(time.Since(start), err == nil)
	if err != nil {
		return nil, types.WrapError(err, types.ErrRender, "Avatar generation failed")
	}
	return res, nil
}

// Release gives up the engine and hands it to the next queued ticket.
//
// Releasing an already released or withdrawn ticket is a no-op. Releasing a
// queued ticket withdraws it. A held ticket that is not the current holder
// indicates a bookkeeping bug and returns INTERNAL_ERROR without touching
// the current holder.
func (g *Guard) Release(t *Ticket) error {
	if t == nil || t.guard != g {
		g.logger.Error("release of foreign or nil render ticket", zap.Stack("stack"))
		return types.NewInternalError("release of unknown render ticket")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch t.state {
	case ticketReleased, ticketWithdrawn:
		return nil
	case ticketQueued:
		g.withdrawLocked(t)
		return nil
	}

	if g.holder != t {
		g.logger.Error("render ticket marked held but is not the holder",
			zap.Uint64("ticket", t.id),
			zap.String("session_id", t.sessionID),
			zap.Stack("stack"),
		)
		return types.NewInternalError("render ticket is not the current holder")
	}

	g.releaseLocked(t)
	return nil
}

// WithdrawSession removes every queued ticket of the session and returns
// how many were removed. A ticket already holding the engine is left to the
// turn, which releases it once the render call returns.
func (g *Guard) WithdrawSession(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for e := g.waiters.Front(); e != nil; {
		next := e.Next()
		if t := e.Value.(*Ticket); t.sessionID == sessionID {
			g.withdrawLocked(t)
			n++
		}
		e = next
	}
	if n > 0 {
		g.logger.Debug("withdrew queued render tickets",
			zap.String("session_id", sessionID),
			zap.Int("count", n),
		)
	}
	return n
}

// Close rejects new acquisitions and withdraws every queued ticket.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for e := g.waiters.Front(); e != nil; {
		next := e.Next()
		g.withdrawLocked(e.Value.(*Ticket))
		e = next
	}
}

// ============================================================
// 内部状态迁移（调用方持有 g.mu）
// ============================================================

func (g *Guard) grantLocked(t *Ticket) {
	t.state = ticketHeld
	t.elem = nil
	t.grantedAt = time.Now()
	g.holder = t
	close(t.signal)
}

func (g *Guard) withdrawLocked(t *Ticket) {
	if t.elem != nil {
		g.waiters.Remove(t.elem)
		t.elem = nil
	}
	t.state = ticketWithdrawn
	close(t.signal)
	g.observer.RecordRenderQueueDepth(g.waiters.Len())
}

func (g *Guard) releaseLocked(t *Ticket) {
	t.state = ticketReleased
	g.holder = nil

	front := g.waiters.Front()
	if front == nil {
		return
	}
	next := g.waiters.Remove(front).(*Ticket)
	g.grantLocked(next)
	g.observer.RecordRenderQueueDepth(g.waiters.Len())
}

// abandon 等待方放弃：仍在排队则撤回；若恰好已被授予则立即释放交给下一位
func (g *Guard) abandon(t *Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch t.state {
	case ticketQueued:
		g.withdrawLocked(t)
	case ticketHeld:
		if g.holder == t {
			g.releaseLocked(t)
		}
	}
}

// ============================================================
// 观测
// ============================================================

// Snapshot 守卫当前状态
type Snapshot struct {
	Busy        bool      `json:"busy"`
	Holder      string    `json:"holder,omitempty"`
	HeldSince   time.Time `json:"held_since,omitempty"`
	Queue       []string  `json:"queue"`
	EngineName  string    `json:"engine"`
	EngineReady bool      `json:"engine_ready"`
}

// Snapshot reports the holder and queued sessions in grant order.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Snapshot{
		Queue:       make([]string, 0, g.waiters.Len()),
		EngineName:  g.engine.Name(),
		EngineReady: g.engine.Ready(),
	}
	if g.holder != nil {
		s.Busy = true
		s.Holder = g.holder.sessionID
		s.HeldSince = g.holder.grantedAt
	}
	for e := g.waiters.Front(); e != nil; e = e.Next() {
		s.Queue = append(s.Queue, e.Value.(*Ticket).sessionID)
	}
	return s
}

// QueueLen returns the number of queued tickets.
func (g *Guard) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

// Engine returns the wrapped renderer for readiness probing only.
func (g *Guard) Engine() video.Renderer {
	return g.engine
}
