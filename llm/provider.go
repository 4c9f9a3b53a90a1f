package llm

import (
	"context"
	"time"

	"github.com/BaSui01/avatarflow/types"
)

// ChatRequest 聊天补全请求
type ChatRequest struct {
	TraceID     string          `json:"trace_id,omitempty"`
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatResponse struct {
	ID           string    `json:"id,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model"`
	Content      string    `json:"content"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        ChatUsage `json:"usage,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// StreamChunk 流式增量。Err 非 nil 时流结束。
type StreamChunk struct {
	ID           string `json:"id,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Err          error  `json:"-"`
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义了统一的文本生成后端接口。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream 发起流式聊天请求，返回增量响应通道
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthCheck 执行轻量级健康检查
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
