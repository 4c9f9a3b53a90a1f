// Package session 管理单个连接的会话状态与进程级会话注册表。
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/avatar/history"
	"github.com/BaSui01/avatarflow/types"
)

// Sink is the exclusive outbound channel of one connection.
// Send must not reorder frames and must not block indefinitely.
type Sink interface {
	Send(ev types.Event) error
}

// Settings 会话级默认参数，由 config 帧更新
type Settings struct {
	Prompt         string `json:"prompt,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"`
	Language       string `json:"language,omitempty"`
}

// SettingsPatch 只更新非 nil 字段
type SettingsPatch struct {
	Prompt         *string `json:"prompt,omitempty"`
	ReferenceImage *string `json:"reference_image,omitempty"`
	Language       *string `json:"language,omitempty"`
}

// Session is the state tied to one persistent connection.
type Session struct {
	id        string
	history   *history.Buffer
	sink      Sink
	logger    *zap.Logger
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	stage      types.Stage
	activeTurn uint64
	turnSeq    uint64
	completed  uint64
	settings   Settings
	closed     bool

	// emitMu 保证 seq 分配与入队顺序一致
	emitMu sync.Mutex
	seq    uint64
}

func newSession(parent context.Context, id string, sink Sink, historyLimit int, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	ctx = types.WithSessionID(ctx, id)
	return &Session{
		id:        id,
		history:   history.NewBuffer(historyLimit),
		sink:      sink,
		logger:    logger.With(zap.String("session_id", id)),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		stage:     types.StageIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// History returns the session's conversation buffer.
func (s *Session) History() *history.Buffer { return s.history }

// Context is cancelled when the session is closed.
func (s *Session) Context() context.Context { return s.ctx }

// Logger returns a logger annotated with the session id.
func (s *Session) Logger() *zap.Logger { return s.logger }

// ============================================================
// Turn 生命周期
// ============================================================

// BeginTurn admits a new turn starting at first. Inputs arriving while a
// turn is active are rejected with SESSION_BUSY.
func (s *Session) BeginTurn(first types.Stage) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, types.NewError(types.ErrSessionClosed, "Session is closed")
	}
	if s.stage != types.StageIdle {
		return 0, types.NewError(types.ErrSessionBusy, "A response is already being generated, please wait")
	}
	if !types.CanTransition(types.StageIdle, first) {
		return 0, types.NewInternalError("invalid first stage " + string(first))
	}

	s.turnSeq++
	s.activeTurn = s.turnSeq
	s.stage = first
	return s.activeTurn, nil
}

// Advance moves the active turn to the next stage.
func (s *Session) Advance(turnID uint64, to types.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeTurn != turnID {
		return types.NewInternalError("stage change for inactive turn")
	}
	if !types.CanTransition(s.stage, to) {
		return types.NewInternalError("invalid stage transition " + string(s.stage) + " -> " + string(to))
	}
	s.stage = to
	return nil
}

// EndTurn returns the session to Idle. successful reports whether the turn
// reached Delivering.
func (s *Session) EndTurn(turnID uint64, successful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeTurn != turnID {
		s.logger.Warn("end of inactive turn ignored",
			zap.Uint64("turn_id", turnID),
			zap.Uint64("active_turn", s.activeTurn),
		)
		return
	}
	s.stage = types.StageIdle
	s.activeTurn = 0
	if successful {
		s.completed++
	}
}

// Stage returns the current stage.
func (s *Session) Stage() types.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// ============================================================
// 出站帧
// ============================================================

// Emit stamps the next sequence number and hands the frame to the sink.
// Frames emitted after Close are dropped.
func (s *Session) Emit(ev types.Event) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.Closed() {
		return types.NewError(types.ErrSessionClosed, "Session is closed")
	}
	s.seq++
	ev.Seq = s.seq
	return s.sink.Send(ev)
}

// ============================================================
// 会话设置
// ============================================================

// Settings returns a copy of the session defaults.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ApplySettings merges the non-nil fields of p.
func (s *Session) ApplySettings(p SettingsPatch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Prompt != nil {
		s.settings.Prompt = *p.Prompt
	}
	if p.ReferenceImage != nil {
		s.settings.ReferenceImage = *p.ReferenceImage
	}
	if p.Language != nil {
		s.settings.Language = *p.Language
	}
	return s.settings
}

// ============================================================
// 关闭
// ============================================================

// Close cancels the session context. It reports whether this call closed it.
func (s *Session) Close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	return true
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Info 会话摘要
type Info struct {
	ID             string      `json:"id"`
	Stage          types.Stage `json:"stage"`
	HistoryEntries int         `json:"history_entries"`
	TurnsStarted   uint64      `json:"turns_started"`
	TurnsCompleted uint64      `json:"turns_completed"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Info returns a summary for the stats endpoint.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		Stage:          s.stage,
		HistoryEntries: s.history.Len(),
		TurnsStarted:   s.turnSeq,
		TurnsCompleted: s.completed,
		CreatedAt:      s.createdAt,
	}
}
