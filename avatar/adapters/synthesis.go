package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/llm/retry"
	"github.com/BaSui01/avatarflow/llm/speech"
	"github.com/BaSui01/avatarflow/types"
)

// Artifact 是一个临时音频文件。Remove 可重复调用。
type Artifact struct {
	Path   string
	Format string
	Size   int64

	once   sync.Once
	remErr error
}

// Remove 删除文件；文件已不存在视为成功。
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			a.remErr = err
		}
	})
	return a.remErr
}

// AudioChunk 流式合成的音频块
type AudioChunk struct {
	Data []byte
	Err  error
}

// SynthesisOptions 配置语音合成
type SynthesisOptions struct {
	Model   string
	Voice   string
	Format  string
	TempDir string
	Retry   *retry.RetryPolicy
}

// Synthesis 包装 speech.TTSProvider
type Synthesis struct {
	ServiceStatus

	tts    speech.TTSProvider
	opts   SynthesisOptions
	retry  *retry.Retryer
	logger *zap.Logger
}

// NewSynthesis 创建语音合成适配器
func NewSynthesis(tts speech.TTSProvider, opts SynthesisOptions, logger *zap.Logger) *Synthesis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Format == "" {
		opts.Format = "mp3"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	s := &Synthesis{
		tts:    tts,
		opts:   opts,
		retry:  retry.NewRetryer(opts.Retry, logger),
		logger: logger.With(zap.String("component", "synthesis")),
	}
	s.set(tts != nil)
	return s
}

func (s *Synthesis) open(ctx context.Context, text string) (*speech.TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewInputError("Nothing to synthesize")
	}
	if !s.Initialized() {
		return nil, types.NewError(types.ErrSynthesis, "Speech synthesis is not initialized")
	}

	resp, err := retry.Do(ctx, s.retry, func(ctx context.Context) (*speech.TTSResponse, error) {
		return s.tts.Synthesize(ctx, &speech.TTSRequest{
			Text:           text,
			Model:          s.opts.Model,
			Voice:          s.opts.Voice,
			ResponseFormat: s.opts.Format,
		})
	})
	if err != nil {
		return nil, types.WrapError(err, types.ErrSynthesis, "Speech synthesis failed")
	}
	return resp, nil
}

// Synthesize 合成语音并写入 TempDir 下的临时文件
func (s *Synthesis) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	start := time.Now()
	resp, err := s.open(ctx, text)
	if err != nil {
		return nil, err
	}
	defer resp.Audio.Close()

	if err := os.MkdirAll(s.opts.TempDir, 0o755); err != nil {
		return nil, types.NewError(types.ErrSynthesis, "Failed to prepare audio directory").WithCause(err)
	}
	f, err := os.CreateTemp(s.opts.TempDir, fmt.Sprintf("tts_*.%s", s.opts.Format))
	if err != nil {
		return nil, types.NewError(types.ErrSynthesis, "Failed to create audio file").WithCause(err)
	}

	n, copyErr := io.Copy(f, resp.Audio)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	art := &Artifact{Path: f.Name(), Format: s.opts.Format, Size: n}
	if copyErr != nil {
		if rmErr := art.Remove(); rmErr != nil {
			s.logger.Warn("failed to remove partial audio", zap.String("path", art.Path), zap.Error(rmErr))
		}
		return nil, types.NewError(types.ErrSynthesis, "Failed to read synthesized audio").
			WithCause(copyErr).
			WithProvider(s.tts.Name())
	}
	if n == 0 {
		_ = art.Remove()
		return nil, types.NewError(types.ErrSynthesis, "Speech synthesis returned no audio").WithProvider(s.tts.Name())
	}

	s.logger.Debug("synthesized",
		zap.String("provider", s.tts.Name()),
		zap.String("path", art.Path),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return art, nil
}

// SynthesizeStream 以 chunkSize 为单位产出音频块，最后一个块可能携带错误。
func (s *Synthesis) SynthesizeStream(ctx context.Context, text string, chunkSize int) (<-chan AudioChunk, error) {
	resp, err := s.open(ctx, text)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	out := make(chan AudioChunk)
	go func() {
		defer close(out)
		defer resp.Audio.Close()

		for {
			buf := make([]byte, chunkSize)
			n, err := resp.Audio.Read(buf)
			if n > 0 {
				select {
				case out <- AudioChunk{Data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out <- AudioChunk{Err: types.NewError(types.ErrSynthesis, "Audio stream failed").WithCause(err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

// Name 返回底层提供者名称
func (s *Synthesis) Name() string {
	if s.tts == nil {
		return ""
	}
	return s.tts.Name()
}
