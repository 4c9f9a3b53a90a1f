package adapters

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/llm"
	"github.com/BaSui01/avatarflow/llm/retry"
	"github.com/BaSui01/avatarflow/types"
)

// GenerationOptions 配置文本生成参数
type GenerationOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Retry       *retry.RetryPolicy
}

// Generation 包装 llm.Provider
type Generation struct {
	ServiceStatus

	provider llm.Provider
	opts     GenerationOptions
	retry    *retry.Retryer
	logger   *zap.Logger
}

// NewGeneration 创建文本生成适配器
func NewGeneration(provider llm.Provider, opts GenerationOptions, logger *zap.Logger) *Generation {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 150
	}
	g := &Generation{
		provider: provider,
		opts:     opts,
		retry:    retry.NewRetryer(opts.Retry, logger),
		logger:   logger.With(zap.String("component", "generation")),
	}
	g.set(provider != nil)
	return g
}

// BuildMessages 按 [system] + history + [user] 组装上下文
func BuildMessages(systemPrompt string, history []types.Message, userText string) []types.Message {
	msgs := make([]types.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(systemPrompt))
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, types.NewUserMessage(userText))
	return msgs
}

func (g *Generation) request(ctx context.Context, systemPrompt string, history []types.Message, userText string) *llm.ChatRequest {
	traceID, _ := types.TraceID(ctx)
	return &llm.ChatRequest{
		TraceID:     traceID,
		Model:       g.opts.Model,
		Messages:    BuildMessages(systemPrompt, history, userText),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}
}

// Generate 返回完整回复文本
func (g *Generation) Generate(ctx context.Context, systemPrompt string, history []types.Message, userText string) (string, error) {
	if !g.Initialized() {
		return "", types.NewError(types.ErrGeneration, "Language model is not initialized")
	}

	start := time.Now()
	req := g.request(ctx, systemPrompt, history, userText)
	resp, err := retry.Do(ctx, g.retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		return g.provider.Completion(ctx, req)
	})
	if err != nil {
		return "", types.WrapError(err, types.ErrGeneration, "Response generation failed")
	}

	g.logger.Debug("generated",
		zap.String("provider", g.provider.Name()),
		zap.String("model", resp.Model),
		zap.Int("history_entries", len(history)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.Content, nil
}

// GenerateStream 返回增量文本通道。流中途失败时最后一个块携带 GENERATION_ERROR。
// 建立连接阶段的可重试错误会重试；开始产出后不再重试。
func (g *Generation) GenerateStream(ctx context.Context, systemPrompt string, history []types.Message, userText string) (<-chan llm.StreamChunk, error) {
	if !g.Initialized() {
		return nil, types.NewError(types.ErrGeneration, "Language model is not initialized")
	}

	req := g.request(ctx, systemPrompt, history, userText)
	upstream, err := retry.Do(ctx, g.retry, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return g.provider.Stream(ctx, req)
	})
	if err != nil {
		return nil, types.WrapError(err, types.ErrGeneration, "Response generation failed")
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				chunk.Err = types.WrapError(chunk.Err, types.ErrGeneration, "Response stream failed")
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// 上游在 ctx 取消后自行退出
				return
			}
		}
	}()
	return out, nil
}

// Probe 执行一次健康检查并刷新初始化状态
func (g *Generation) Probe(ctx context.Context) error {
	if g.provider == nil {
		return types.NewError(types.ErrGeneration, "Language model is not configured")
	}
	status, err := g.provider.HealthCheck(ctx)
	g.set(err == nil && status != nil && status.Healthy)
	return err
}

// Name 返回底层提供者名称
func (g *Generation) Name() string {
	if g.provider == nil {
		return ""
	}
	return g.provider.Name()
}
