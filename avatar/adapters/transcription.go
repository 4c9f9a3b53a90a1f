package adapters

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/llm/retry"
	"github.com/BaSui01/avatarflow/llm/speech"
	"github.com/BaSui01/avatarflow/types"
)

// TranscriptionOptions 配置转写适配器
type TranscriptionOptions struct {
	Model    string
	Filename string
	// Language 会话未指定语言时使用
	Language string
	Retry    *retry.RetryPolicy
}

// Transcription 包装 speech.STTProvider
type Transcription struct {
	ServiceStatus

	stt    speech.STTProvider
	opts   TranscriptionOptions
	retry  *retry.Retryer
	logger *zap.Logger
}

// NewTranscription 创建转写适配器；stt 为 nil 时适配器保持未初始化。
func NewTranscription(stt speech.STTProvider, opts TranscriptionOptions, logger *zap.Logger) *Transcription {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Filename == "" {
		opts.Filename = "audio.webm"
	}
	t := &Transcription{
		stt:    stt,
		opts:   opts,
		retry:  retry.NewRetryer(opts.Retry, logger),
		logger: logger.With(zap.String("component", "transcription")),
	}
	t.set(stt != nil)
	return t
}

// Transcribe 将音频转为文本。空转写结果是合法的，原样返回。
func (t *Transcription) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", types.NewInputError("Audio input is empty")
	}
	if !t.Initialized() {
		return "", types.NewError(types.ErrTranscription, "Transcription service is not initialized")
	}

	if language == "" {
		language = t.opts.Language
	}

	start := time.Now()
	resp, err := retry.Do(ctx, t.retry, func(ctx context.Context) (*speech.STTResponse, error) {
		return t.stt.Transcribe(ctx, &speech.STTRequest{
			Audio:    bytes.NewReader(audio),
			Filename: t.opts.Filename,
			Model:    t.opts.Model,
			Language: language,
		})
	})
	if err != nil {
		return "", types.WrapError(err, types.ErrTranscription, "Transcription failed")
	}

	t.logger.Debug("transcribed",
		zap.String("provider", t.stt.Name()),
		zap.Int("audio_bytes", len(audio)),
		zap.Int("text_len", len(resp.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.Text, nil
}

// Name 返回底层提供者名称
func (t *Transcription) Name() string {
	if t.stt == nil {
		return ""
	}
	return t.stt.Name()
}
