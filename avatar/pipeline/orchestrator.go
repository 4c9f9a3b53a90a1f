package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/avatar/adapters"
	"github.com/BaSui01/avatarflow/avatar/render"
	"github.com/BaSui01/avatarflow/avatar/session"
	"github.com/BaSui01/avatarflow/internal/artifacts"
	"github.com/BaSui01/avatarflow/internal/pool"
	"github.com/BaSui01/avatarflow/internal/telemetry"
	"github.com/BaSui01/avatarflow/llm"
	"github.com/BaSui01/avatarflow/llm/video"
	"github.com/BaSui01/avatarflow/types"
)

// ============================================================
// 依赖接口
// ============================================================

// Transcriber 语音转文本
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Generator 文本生成
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []types.Message, userText string) (string, error)
	GenerateStream(ctx context.Context, systemPrompt string, history []types.Message, userText string) (<-chan llm.StreamChunk, error)
}

// Synthesizer 文本转语音，产出临时音频文件
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*adapters.Artifact, error)
}

// Observer receives turn and stage metrics. internal/metrics.Collector implements it.
type Observer interface {
	RecordTurn(source, outcome string, duration time.Duration)
	RecordStage(stage, outcome string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) RecordTurn(string, string, time.Duration)  {}
func (noopObserver) RecordStage(string, string, time.Duration) {}

// Outcome labels
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// ============================================================
// 配置
// ============================================================

// Options 编排器配置
type Options struct {
	SystemPrompt string
	// StageTimeout 转写、生成、合成各自的超时，0 表示不限制
	StageTimeout time.Duration
	// RenderTimeout 渲染调用超时，0 表示不限制
	RenderTimeout time.Duration
	// VideoURLPrefix 拼接到视频文件名前，默认 /video/
	VideoURLPrefix string
	// DefaultPrompt / DefaultImage 会话未设置时使用
	DefaultPrompt string
	DefaultImage  string
	// ImageDir 客户端指定的参考图只能是该目录下的纯文件名，为空时不接受客户端参考图
	ImageDir string
	// StreamGeneration 使用流式生成累积回复
	StreamGeneration bool
	Observer         Observer
}

// Orchestrator runs turns for every session. It is safe for concurrent use.
type Orchestrator struct {
	transcriber Transcriber
	generator   Generator
	synthesizer Synthesizer
	guard       *render.Guard
	index       artifacts.Index
	workers     *pool.GoroutinePool

	opts         Options
	systemPrompt atomic.Pointer[string]
	observer     Observer
	logger       *zap.Logger
}

// New creates an orchestrator. index may be nil.
func New(
	transcriber Transcriber,
	generator Generator,
	synthesizer Synthesizer,
	guard *render.Guard,
	index artifacts.Index,
	workers *pool.GoroutinePool,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.VideoURLPrefix == "" {
		opts.VideoURLPrefix = "/video/"
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	o := &Orchestrator{
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		guard:       guard,
		index:       index,
		workers:     workers,
		opts:        opts,
		observer:    obs,
		logger:      logger.With(zap.String("component", "orchestrator")),
	}
	o.SetSystemPrompt(opts.SystemPrompt)
	return o
}

// SetSystemPrompt 替换系统提示词，对之后开始生成的轮次生效
func (o *Orchestrator) SetSystemPrompt(prompt string) {
	o.systemPrompt.Store(&prompt)
}

// SystemPrompt 返回当前系统提示词
func (o *Orchestrator) SystemPrompt() string {
	return *o.systemPrompt.Load()
}

// ============================================================
// 🎯 提交
// ============================================================

// Submit admits in as a new turn of s and runs it asynchronously.
//
// A rejected input (session busy, worker pool full, session closed) produces
// exactly one error frame on s and the error is returned to the caller for
// logging. Failures of an admitted turn are reported by the turn itself.
func (o *Orchestrator) Submit(s *session.Session, in Input) error {
	if err := o.validateInput(in); err != nil {
		o.observer.RecordTurn(string(in.Kind), OutcomeError, 0)
		o.reject(s, err)
		return err
	}

	first := types.StageGenerating
	if in.Kind == InputAudio {
		first = types.StageTranscribing
	}

	turnID, err := s.BeginTurn(first)
	if err != nil {
		o.reject(s, err)
		return err
	}

	t := &turn{
		id:      turnID,
		session: s,
		input:   in,
		stage:   first,
		start:   time.Now(),
		logger:  s.Logger().With(zap.Uint64("turn_id", turnID), zap.String("source", string(in.Kind))),
	}

	err = o.workers.Submit(s.Context(), func(ctx context.Context) error {
		o.run(ctx, t)
		return nil
	})
	if err != nil {
		s.EndTurn(turnID, false)
		if errors.Is(err, pool.ErrPoolFull) {
			err = types.NewResourceBusyError("Server is busy, please try again shortly").WithCause(err)
		} else {
			err = types.NewError(types.ErrServiceUnavailable, "Server is shutting down").WithCause(err)
		}
		o.observer.RecordTurn(string(in.Kind), OutcomeError, 0)
		o.reject(s, err)
		return err
	}
	return nil
}

// validateInput 在占用会话前拒绝无法开始的输入
func (o *Orchestrator) validateInput(in Input) error {
	if in.Kind == InputAudio && len(in.Audio) == 0 {
		return types.NewInputError("Audio data is empty")
	}
	if in.ReferenceImage != "" {
		if _, err := o.resolveImage(in.ReferenceImage); err != nil {
			return err
		}
	}
	return nil
}

// resolveImage 把客户端给出的参考图名解析到 ImageDir 下，空名返回默认参考图
func (o *Orchestrator) resolveImage(name string) (string, error) {
	if name == "" {
		return o.opts.DefaultImage, nil
	}
	if !video.IsSafeName(name) {
		return "", types.NewInputError(fmt.Sprintf("Invalid reference image %q", name))
	}
	if o.opts.ImageDir == "" {
		return "", types.NewInputError("Custom reference images are not enabled")
	}
	return filepath.Join(o.opts.ImageDir, name), nil
}

func (o *Orchestrator) reject(s *session.Session, err error) {
	if types.IsErrorCode(err, types.ErrSessionClosed) {
		return
	}
	if emitErr := s.Emit(types.ErrorEvent(err)); emitErr != nil {
		s.Logger().Debug("dropping rejection frame", zap.Error(emitErr))
	}
}

// Shutdown 拒绝新轮次并等待进行中的轮次结束
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.workers.Shutdown(ctx)
}

// Stats 轮次工作池统计
func (o *Orchestrator) Stats() pool.GoroutinePoolStats {
	return o.workers.Stats()
}

// ============================================================
// 轮次执行
// ============================================================

// turn 单个轮次的状态，只由执行它的 goroutine 访问
type turn struct {
	id      uint64
	session *session.Session
	input   Input
	stage   types.Stage
	start   time.Time
	logger  *zap.Logger

	transcript string
	reply      string
	audio      *adapters.Artifact
	video      *video.RenderResult
}

func (t *turn) userText() string {
	if t.input.Kind == InputAudio {
		return t.transcript
	}
	return t.input.Text
}

func (o *Orchestrator) run(ctx context.Context, t *turn) {
	ctx = types.WithTurnID(ctx, t.id)
	ctx = types.WithTraceID(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "pipeline.turn",
		attribute.String("session.id", t.session.ID()),
		attribute.Int64("turn.id", int64(t.id)),
		attribute.String("turn.source", string(t.input.Kind)),
	)

	var err error
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("turn panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = types.NewInternalError(fmt.Sprintf("turn panicked: %v", r))
		}
		telemetry.EndSpan(span, err)
		o.finish(t, err)
	}()

	err = o.execute(ctx, t)
}

func (o *Orchestrator) execute(ctx context.Context, t *turn) error {
	if t.input.Kind == InputAudio {
		err := o.runStage(ctx, t, types.StageTranscribing, types.StatusTranscribing, o.opts.StageTimeout, func(ctx context.Context) error {
			text, err := o.transcriber.Transcribe(ctx, t.input.Audio, t.session.Settings().Language)
			if err != nil {
				return err
			}
			t.transcript = text
			t.logger.Info("transcribed", zap.Int("chars", len(text)))
			return t.session.Emit(types.TranscriptionEvent(text))
		})
		if err != nil {
			return err
		}
	}

	err := o.runStage(ctx, t, types.StageGenerating, types.StatusThinking, o.opts.StageTimeout, func(ctx context.Context) error {
		reply, err := o.generate(ctx, t.session.History().Snapshot(), t.userText())
		if err != nil {
			return err
		}
		t.reply = reply
		return t.session.Emit(types.ResponseEvent(reply))
	})
	if err != nil {
		return err
	}

	err = o.runStage(ctx, t, types.StageSynthesizing, types.StatusSynthesizing, o.opts.StageTimeout, func(ctx context.Context) error {
		artifact, err := o.synthesizer.Synthesize(ctx, t.reply)
		if err != nil {
			return err
		}
		t.audio = artifact
		return nil
	})
	if err != nil {
		return err
	}

	// 排队时间由 guard 的 AcquireTimeout 约束，渲染调用由 RenderTimeout 约束
	err = o.runStage(ctx, t, types.StageRendering, types.StatusGeneratingVideo, 0, func(ctx context.Context) error {
		return o.render(ctx, t)
	})
	if err != nil {
		return err
	}

	return o.runStage(ctx, t, types.StageDelivering, "", 0, func(ctx context.Context) error {
		return o.deliver(ctx, t)
	})
}

// runStage 迁移到 stage，推送进度帧后执行 fn
func (o *Orchestrator) runStage(ctx context.Context, t *turn, stage types.Stage, status string, timeout time.Duration, fn func(context.Context) error) error {
	if t.stage != stage {
		if err := t.session.Advance(t.id, stage); err != nil {
			return err
		}
		t.stage = stage
	}
	if status != "" {
		if err := t.session.Emit(types.StatusEvent(status)); err != nil {
			return err
		}
	}

	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stageCtx, span := telemetry.StartSpan(stageCtx, "pipeline."+string(stage))
	start := time.Now()
	err := fn(stageCtx)

	// 阶段超时而轮次本身未取消
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = types.NewError(types.ErrTimeout, fmt.Sprintf("%s timed out after %s", stageLabel(stage), timeout)).WithCause(err)
	}

	telemetry.EndSpan(span, err)
	o.observer.RecordStage(string(stage), o.outcome(t, err), time.Since(start))
	return err
}

func (o *Orchestrator) generate(ctx context.Context, history []types.Message, userText string) (string, error) {
	prompt := o.SystemPrompt()
	if !o.opts.StreamGeneration {
		return o.generator.Generate(ctx, prompt, history, userText)
	}

	chunks, err := o.generator.GenerateStream(ctx, prompt, history, userText)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Delta)
	}
	if err := ctx.Err(); err != nil {
		return "", types.NewError(types.ErrGeneration, "Response generation cancelled").WithCause(err)
	}
	return sb.String(), nil
}

// render 取得引擎后渲染，返回后立即释放票据。
// 已开始的渲染不随会话断开而中断，结果在交付阶段丢弃。
func (o *Orchestrator) render(ctx context.Context, t *turn) error {
	settings := t.session.Settings()
	image, err := o.resolveImage(firstNonEmpty(t.input.ReferenceImage, settings.ReferenceImage))
	if err != nil {
		return err
	}

	ticket, err := o.guard.Acquire(ctx, t.session.ID())
	if err != nil {
		return err
	}

	req := &video.RenderRequest{
		AudioPath:      t.audio.Path,
		Prompt:         firstNonEmpty(t.input.Prompt, settings.Prompt, o.opts.DefaultPrompt),
		ReferenceImage: image,
		SessionID:      t.session.ID(),
		TurnID:         t.id,
	}

	renderCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
	if o.opts.RenderTimeout > 0 {
		renderCtx, cancel = context.WithTimeout(renderCtx, o.opts.RenderTimeout)
	}
	res, err := o.guard.Render(renderCtx, ticket, req)
	cancel()

	if relErr := o.guard.Release(ticket); relErr != nil {
		t.logger.Error("render ticket release failed", zap.Error(relErr))
	}
	if err != nil {
		return err
	}

	t.video = res
	t.logger.Info("rendered",
		zap.String("video", filepath.Base(res.VideoPath)),
		zap.Duration("elapsed", res.Elapsed),
	)
	return nil
}

// deliver 提交历史、登记产物并推送结果。会话已关闭时丢弃结果。
func (o *Orchestrator) deliver(ctx context.Context, t *turn) error {
	if t.session.Closed() {
		o.discardVideo(t)
		return types.NewError(types.ErrSessionClosed, "Session is closed")
	}

	t.session.History().Commit(t.userText(), t.reply)

	name := filepath.Base(t.video.VideoPath)
	if o.index != nil {
		rec := artifacts.Record{
			Filename:  name,
			SessionID: t.session.ID(),
			TurnID:    t.id,
			Size:      t.video.Bytes,
			CreatedAt: time.Now(),
		}
		if err := o.index.Put(ctx, rec); err != nil {
			t.logger.Warn("failed to index video", zap.String("video", name), zap.Error(err))
		}
	}

	err := t.session.Emit(types.VideoReadyEvent(o.opts.VideoURLPrefix + name))
	if types.IsErrorCode(err, types.ErrSessionClosed) {
		// 会话在提交后关闭：客户端收不到结果，视频与索引记录一并丢弃
		o.discardVideo(t)
		if o.index != nil {
			if delErr := o.index.Delete(context.WithoutCancel(ctx), name); delErr != nil {
				t.logger.Warn("failed to drop video record", zap.String("video", name), zap.Error(delErr))
			}
		}
	}
	return err
}

func (o *Orchestrator) discardVideo(t *turn) {
	if t.video == nil {
		return
	}
	if err := os.Remove(t.video.VideoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("failed to discard video", zap.String("path", t.video.VideoPath), zap.Error(err))
	}
}

// finish 释放临时文件，报告失败并把会话带回 Idle
func (o *Orchestrator) finish(t *turn, err error) {
	if rmErr := t.audio.Remove(); rmErr != nil {
		t.logger.Warn("failed to remove synthesized audio", zap.String("path", t.audio.Path), zap.Error(rmErr))
	}

	outcome := o.outcome(t, err)
	elapsed := time.Since(t.start)
	o.observer.RecordTurn(string(t.input.Kind), outcome, elapsed)

	switch outcome {
	case OutcomeOK:
		t.logger.Info("turn completed", zap.Duration("elapsed", elapsed))
		t.session.EndTurn(t.id, true)
		return
	case OutcomeCancelled:
		t.logger.Info("turn abandoned", zap.String("stage", string(t.stage)), zap.Duration("elapsed", elapsed))
		t.session.EndTurn(t.id, false)
		return
	}

	t.logger.Warn("turn failed", zap.String("stage", string(t.stage)), zap.Error(err))
	if advErr := t.session.Advance(t.id, types.StageError); advErr != nil {
		t.logger.Debug("error transition skipped", zap.Error(advErr))
	}
	if emitErr := t.session.Emit(types.ErrorEvent(err)); emitErr != nil {
		t.logger.Debug("dropping error frame", zap.Error(emitErr))
	}
	t.session.EndTurn(t.id, false)
}

func (o *Orchestrator) outcome(t *turn, err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case t.session.Closed(), types.IsErrorCode(err, types.ErrSessionClosed):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

func stageLabel(stage types.Stage) string {
	s := string(stage)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
