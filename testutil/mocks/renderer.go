package mocks

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/avatarflow/llm/video"
)

// ErrRendererNotReady Init 之前调用 Render
var ErrRendererNotReady = errors.New("mock renderer: not initialized")

// MockRenderer 是 video.Renderer 的替身。
//
// 它在 OutputDir 中写出一个小文件作为视频产物，记录每次调用的会话顺序，
// 并统计同时执行的 Render 数量（应始终 ≤ 1）。设置 Gate 后，
// 每次 Render 在开始后阻塞，直到从 Gate 读到一个值。
type MockRenderer struct {
	OutputDir string
	Gate      chan struct{}
	// Started 非空时在每次 Render 开始时收到会话 ID
	Started chan string

	mu       sync.Mutex
	err      error
	order    []string
	requests []video.RenderRequest

	ready      atomic.Bool
	active     atomic.Int32
	maxActive  atomic.Int32
	IgnoreCtx  bool
	RenderTime time.Duration
}

// NewMockRenderer 创建已就绪的渲染替身
func NewMockRenderer(outputDir string) *MockRenderer {
	r := &MockRenderer{OutputDir: outputDir}
	r.ready.Store(true)
	return r
}

// WithError 设置渲染错误
func (r *MockRenderer) WithError(err error) *MockRenderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r
}

func (r *MockRenderer) Name() string { return "mock-renderer" }

func (r *MockRenderer) Init(ctx context.Context) error {
	r.ready.Store(true)
	return nil
}

func (r *MockRenderer) Ready() bool { return r.ready.Load() }

// SetReady 切换就绪状态
func (r *MockRenderer) SetReady(ok bool) { r.ready.Store(ok) }

// Render 实现 video.Renderer
func (r *MockRenderer) Render(ctx context.Context, req *video.RenderRequest) (*video.RenderResult, error) {
	if !r.Ready() {
		return nil, ErrRendererNotReady
	}

	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		cur := r.maxActive.Load()
		if n <= cur || r.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	r.mu.Lock()
	r.order = append(r.order, req.SessionID)
	r.requests = append(r.requests, *req)
	fail := r.err
	r.mu.Unlock()

	if r.Started != nil {
		r.Started <- req.SessionID
	}

	start := time.Now()
	if r.Gate != nil {
		if r.IgnoreCtx {
			<-r.Gate
		} else {
			select {
			case <-r.Gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if r.RenderTime > 0 {
		time.Sleep(r.RenderTime)
	}

	if fail != nil {
		return nil, fail
	}

	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return nil, err
	}
	path := video.OutputPath(r.OutputDir, time.Now())
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		return nil, err
	}
	return &video.RenderResult{VideoPath: path, Bytes: 3, Elapsed: time.Since(start), Engine: r.Name()}, nil
}

// Order 返回 Render 调用的会话顺序
func (r *MockRenderer) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Requests 返回收到的渲染请求
func (r *MockRenderer) Requests() []video.RenderRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]video.RenderRequest(nil), r.requests...)
}

// MaxConcurrent 返回观察到的最大并发 Render 数
func (r *MockRenderer) MaxConcurrent() int {
	return int(r.maxActive.Load())
}
