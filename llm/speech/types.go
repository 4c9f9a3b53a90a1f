// Package speech 提供统一的 TTS 与 STT 后端接口。
package speech

import (
	"context"
	"io"
	"time"
)

// ============================================================
// 文本转语音 (TTS)
// ============================================================

// TTSRequest 文本转语音请求
type TTSRequest struct {
	Text           string  `json:"text"`
	Model          string  `json:"model,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`           // 0.25-4.0
	ResponseFormat string  `json:"response_format,omitempty"` // mp3, opus, aac, flac, wav, pcm
}

// TTSResponse 的 Audio 是上游响应流，调用方负责关闭。
type TTSResponse struct {
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Audio     io.ReadCloser `json:"-"`
	Format    string        `json:"format"`
	CharCount int           `json:"char_count,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// TTSProvider 定义了 TTS 提供者接口
type TTSProvider interface {
	// Synthesize 将文本转换为语音流
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)

	// Name 返回提供者名称
	Name() string
}

// ============================================================
// 语音转文本 (STT)
// ============================================================

// STTRequest 语音转文本请求
type STTRequest struct {
	Audio          io.Reader `json:"-"`
	Filename       string    `json:"filename,omitempty"`        // 用于推断格式，默认 audio.webm
	Model          string    `json:"model,omitempty"`
	Language       string    `json:"language,omitempty"`        // ISO-639-1 code
	Prompt         string    `json:"prompt,omitempty"`          // Context hint
	ResponseFormat string    `json:"response_format,omitempty"` // json, text, verbose_json
}

// STTResponse 语音转文本结果
type STTResponse struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Text       string        `json:"text"`
	Language   string        `json:"language,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// STTProvider 定义了 STT 提供者接口
type STTProvider interface {
	// Transcribe 将语音转换为文本
	Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error)

	// Name 返回提供者名称
	Name() string
}
