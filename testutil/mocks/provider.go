// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、流式输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/avatarflow/llm"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	response       string
	streamChunks   []string
	err            error
	failFirst      int
	delay          time.Duration
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	calls []*llm.ChatRequest
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{response: "Mock response"}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailFirst 前 n 次调用返回 err，之后成功
func (m *MockProvider) WithFailFirst(n int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	m.err = err
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithDelay 设置响应延迟，延迟期间响应 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return "mock" }

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// record 记录调用并返回本次应注入的错误
func (m *MockProvider) record(req *llm.ChatRequest) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err == nil {
		return m.delay, nil
	}
	if m.failFirst > 0 && len(m.calls) > m.failFirst {
		return m.delay, nil
	}
	return m.delay, m.err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	delay, injected := m.record(req)
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}

	m.mu.Lock()
	fn := m.completionFunc
	response := m.response
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &llm.ChatResponse{
		ID:           "mock-response-id",
		Provider:     "mock",
		Model:        req.Model,
		Content:      response,
		FinishReason: "stop",
		Usage:        llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		CreatedAt:    time.Now(),
	}, nil
}

// Stream 流式生成响应；未设置流式块时一次性返回完整响应
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if _, err := m.record(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	chunks := append([]string(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	m.mu.Unlock()

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			chunk := llm.StreamChunk{ID: "mock-chunk-id", Provider: "mock", Model: req.Model, Delta: c}
			if i == len(chunks)-1 {
				chunk.FinishReason = "stop"
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

// Calls 返回所有请求的副本
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// CallCount 获取调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall 获取最后一次请求
func (m *MockProvider) LastCall() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
