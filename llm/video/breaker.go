package video

import (
	"context"
	"errors"

	"github.com/BaSui01/avatarflow/llm/circuitbreaker"
	"github.com/BaSui01/avatarflow/types"
)

// BreakerRenderer 在渲染器外包一层熔断：引擎连续失败后直接拒绝，
// 避免排队中的 turn 逐个等待一个已经宕掉的引擎。
type BreakerRenderer struct {
	Renderer
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps r. A nil breaker returns r unchanged.
func WithBreaker(r Renderer, b *circuitbreaker.Breaker) Renderer {
	if b == nil {
		return r
	}
	return &BreakerRenderer{Renderer: r, breaker: b}
}

func (r *BreakerRenderer) Render(ctx context.Context, req *RenderRequest) (*RenderResult, error) {
	res, err := circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) (*RenderResult, error) {
		return r.Renderer.Render(ctx, req)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return nil, types.NewError(types.ErrRender, "Avatar engine is temporarily unavailable").
			WithCause(err).
			WithRetryable(true)
	}
	return res, err
}

// BreakerState exposes the breaker state for the stats endpoint.
func (r *BreakerRenderer) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}
