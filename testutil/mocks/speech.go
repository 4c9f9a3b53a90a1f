package mocks

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/avatarflow/llm/speech"
)

// MockSTT 是 speech.STTProvider 的脚本化替身。
// TextFunc 非空时根据音频内容决定转写结果。
type MockSTT struct {
	mu       sync.Mutex
	text     string
	err      error
	TextFunc func(audio []byte) string
	calls    []MockSTTCall
}

// MockSTTCall 记录单次转写调用
type MockSTTCall struct {
	Audio    []byte
	Language string
}

// NewMockSTT 创建返回固定文本的 STT 替身
func NewMockSTT(text string) *MockSTT {
	return &MockSTT{text: text}
}

// WithError 设置返回错误
func (m *MockSTT) WithError(err error) *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockSTT) Name() string { return "mock-stt" }

// Transcribe 实现 speech.STTProvider
func (m *MockSTT) Transcribe(ctx context.Context, req *speech.STTRequest) (*speech.STTResponse, error) {
	audio, err := io.ReadAll(req.Audio)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockSTTCall{Audio: audio, Language: req.Language})
	text, fail, fn := m.text, m.err, m.TextFunc
	m.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	if fn != nil {
		text = fn(audio)
	}
	return &speech.STTResponse{Provider: m.Name(), Model: req.Model, Text: text, CreatedAt: time.Now()}, nil
}

// Calls 返回调用记录
func (m *MockSTT) Calls() []MockSTTCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockSTTCall(nil), m.calls...)
}

// MockTTS 是 speech.TTSProvider 的脚本化替身，返回固定音频字节。
type MockTTS struct {
	mu    sync.Mutex
	audio []byte
	err   error
	texts []string
}

// NewMockTTS 创建返回固定音频的 TTS 替身
func NewMockTTS(audio []byte) *MockTTS {
	return &MockTTS{audio: audio}
}

// WithError 设置返回错误
func (m *MockTTS) WithError(err error) *MockTTS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockTTS) Name() string { return "mock-tts" }

// Synthesize 实现 speech.TTSProvider
func (m *MockTTS) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.texts = append(m.texts, req.Text)
	audio, fail := m.audio, m.err
	m.mu.Unlock()

	if fail != nil {
		return nil, fail
	}
	return &speech.TTSResponse{
		Provider:  m.Name(),
		Model:     req.Model,
		Audio:     io.NopCloser(bytes.NewReader(audio)),
		Format:    req.ResponseFormat,
		CharCount: len(req.Text),
		CreatedAt: time.Now(),
	}, nil
}

// Texts 返回所有合成过的文本
func (m *MockTTS) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}
