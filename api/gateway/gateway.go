package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/avatarflow/api/handlers"
	"github.com/BaSui01/avatarflow/avatar/pipeline"
	"github.com/BaSui01/avatarflow/avatar/session"
	"github.com/BaSui01/avatarflow/internal/ctxkeys"
	"github.com/BaSui01/avatarflow/types"
)

// Submitter hands an admitted input to the pipeline. Rejections are reported
// to the session by the Submitter itself.
type Submitter interface {
	Submit(s *session.Session, in pipeline.Input) error
}

// Withdrawer cancels queued render requests of a session.
type Withdrawer interface {
	WithdrawSession(sessionID string) int
}

// FrameObserver receives per-frame metrics. internal/metrics.Collector implements it.
type FrameObserver interface {
	RecordFrame(direction, kind string)
}

type noopObserver struct{}

func (noopObserver) RecordFrame(string, string) {}

// Options 网关配置
type Options struct {
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OutboundQueue  int
	InboundRate    float64 // 每秒入站帧数，<=0 不限流
	InboundBurst   int
	OriginPatterns []string
	MaxSessions    int // <=0 不限制
	Observer       FrameObserver
}

// DefaultOptions 返回默认网关配置
func DefaultOptions() Options {
	return Options{
		ReadLimit:     16 << 20,
		WriteTimeout:  10 * time.Second,
		PingInterval:  30 * time.Second,
		OutboundQueue: 64,
		InboundRate:   5,
		InboundBurst:  10,
	}
}

var (
	errClientGone   = errors.New("client disconnected")
	errServerClosed = errors.New("session closed by server")
	errSlowConsumer = errors.New("outbound queue overflow")
)

// shutdownFlushTimeout bounds the flush of queued frames on server-side close.
const shutdownFlushTimeout = 500 * time.Millisecond

// Handler serves the avatar websocket endpoint.
type Handler struct {
	registry *session.Registry
	pipeline Submitter
	renders  Withdrawer
	opts     Options
	observer FrameObserver
	logger   *zap.Logger
}

// NewHandler creates a websocket handler. renders may be nil.
func NewHandler(registry *session.Registry, submitter Submitter, renders Withdrawer, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaults.OutboundQueue
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = defaults.InboundBurst
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Handler{
		registry: registry,
		pipeline: submitter,
		renders:  renders,
		opts:     opts,
		observer: obs,
		logger:   logger.With(zap.String("component", "gateway")),
	}
}

// =============================================================================
// 🔌 连接建立
// =============================================================================

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxSessions > 0 && h.registry.Count() >= h.opts.MaxSessions {
		handlers.WriteError(w, types.NewError(types.ErrServiceUnavailable, "Too many active sessions").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket accept failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	if h.opts.ReadLimit > 0 {
		conn.SetReadLimit(h.opts.ReadLimit)
	}

	queue := newOutboundQueue(h.opts.OutboundQueue)
	s := h.registry.Create(r.Context(), queue)

	fields := []zap.Field{zap.String("remote_addr", r.RemoteAddr)}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if principal, ok := ctxkeys.Principal(r.Context()); ok {
		fields = append(fields, zap.String("principal", principal))
	}

	c := &connection{
		handler: h,
		conn:    conn,
		session: s,
		queue:   queue,
		logger:  s.Logger().With(fields...),
	}
	if h.opts.InboundRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	}

	c.logger.Info("websocket connected")
	c.serve(r.Context())
}

// =============================================================================
// 🔁 单连接生命周期
// =============================================================================

type connection struct {
	handler *Handler
	conn    *websocket.Conn
	session *session.Session
	queue   *outboundQueue
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (c *connection) serve(parent context.Context) {
	start := time.Now()
	defer c.teardown(start)

	if err := c.session.Emit(types.ConnectionEvent(c.session.ID())); err != nil {
		c.logger.Warn("failed to queue connection frame", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	if c.handler.opts.PingInterval > 0 {
		g.Go(func() error { return c.pingLoop(gctx) })
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errClientGone):
		c.logger.Info("websocket disconnected")
	case errors.Is(err, errServerClosed):
		c.logger.Info("websocket closed by server")
	default:
		c.logger.Warn("websocket terminated", zap.Error(err))
	}
}

// teardown 必须在任何退出路径上执行：移除会话、撤回渲染排队
func (c *connection) teardown(start time.Time) {
	id := c.session.ID()
	c.queue.close()
	c.handler.registry.Remove(id)

	withdrawn := 0
	if c.handler.renders != nil {
		withdrawn = c.handler.renders.WithdrawSession(id)
	}
	_ = c.conn.CloseNow()

	c.logger.Info("session torn down",
		zap.Duration("lifetime", time.Since(start)),
		zap.Int("withdrawn_renders", withdrawn),
	)
}

// =============================================================================
// 📥 入站
// =============================================================================

func (c *connection) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return c.classifyReadError(err)
		}

		switch typ {
		case websocket.MessageBinary:
			c.handler.observer.RecordFrame("inbound", kindAudio)
			if !c.allow() {
				continue
			}
			c.submit(pipeline.AudioInput(data))

		case websocket.MessageText:
			frame, perr := parseControlFrame(data)
			if perr != nil {
				c.handler.observer.RecordFrame("inbound", kindInvalid)
				c.reply(types.ErrorEvent(perr))
				continue
			}
			c.handler.observer.RecordFrame("inbound", frame.Type)
			if !c.allow() {
				continue
			}
			c.handleControl(frame)
		}
	}
}

func (c *connection) classifyReadError(err error) error {
	if c.session.Closed() {
		return errServerClosed
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return errClientGone
	}
	if errors.Is(err, context.Canceled) {
		return errClientGone
	}
	return err
}

// allow applies the inbound rate limit. Dropped frames get one error frame.
func (c *connection) allow() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	c.reply(types.ErrorEvent(types.NewError(types.ErrRateLimited, "Too many messages, please slow down")))
	return false
}

func (c *connection) handleControl(f controlFrame) {
	switch f.Type {
	case FrameTextInput:
		c.submit(f.input())
	case FrameConfig:
		settings := c.session.ApplySettings(f.settings())
		c.logger.Info("session settings updated",
			zap.String("prompt", settings.Prompt),
			zap.String("reference_image", settings.ReferenceImage),
			zap.String("language", settings.Language),
		)
		c.reply(types.ConfigUpdatedEvent())
	}
}

func (c *connection) submit(in pipeline.Input) {
	if err := c.handler.pipeline.Submit(c.session, in); err != nil {
		c.logger.Debug("input rejected",
			zap.String("source", string(in.Kind)),
			zap.String("code", string(types.GetErrorCode(err))),
		)
	}
}

func (c *connection) reply(ev types.Event) {
	if err := c.session.Emit(ev); err != nil {
		c.logger.Debug("dropping frame", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// =============================================================================
// 📤 出站
// =============================================================================

// writeLoop is the only goroutine that writes data frames to the connection.
func (c *connection) writeLoop(ctx context.Context) error {
	done := c.session.Context().Done()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			c.flush()
			_ = c.conn.Close(websocket.StatusGoingAway, "session closed")
			return errServerClosed

		case <-c.queue.Overflowed():
			c.logger.Warn("closing slow connection", zap.Int("queue_size", cap(c.queue.frames)))
			_ = c.conn.Close(websocket.StatusPolicyViolation, "outbound queue overflow")
			return errSlowConsumer

		case ev := <-c.queue.frames:
			if err := c.write(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// flush writes frames queued before the session was closed, bounded in time.
func (c *connection) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-c.queue.frames:
			if err := c.write(ctx, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(ctx context.Context, ev types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.String("type", string(ev.Type)), zap.Error(err))
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.handler.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return err
	}
	c.handler.observer.RecordFrame("outbound", string(ev.Type))
	return nil
}

// pingLoop 心跳；Ping 依赖并发的 readLoop 接收 pong
func (c *connection) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.handler.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.handler.opts.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
