package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	checks   []HealthCheck
	services []serviceProbe
	timeout  time.Duration
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// serviceProbe 报告一个后端服务是否已初始化
type serviceProbe struct {
	name  string
	ready func() bool
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Services  map[string]bool        `json:"services,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// errNotInitialized 服务尚未初始化
var errNotInitialized = errors.New("not initialized")

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger,
		checks:  make([]HealthCheck, 0),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RegisterService registers a backing service reported by /health and
// required by /ready.
func (h *HealthHandler) RegisterService(name string, ready func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = append(h.services, serviceProbe{name: name, ready: ready})
}

func (h *HealthHandler) snapshot() ([]HealthCheck, []serviceProbe) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	services := make([]serviceProbe, len(h.services))
	copy(services, h.services)
	return checks, services
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求：进程存活并报告各服务是否已初始化
// @Summary 健康检查
// @Description 返回各后端服务（stt、llm、tts、avatar）的初始化状态
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_, services := h.snapshot()

	status := HealthStatus{
		Status:    "healthy",
		Services:  make(map[string]bool, len(services)),
		Timestamp: time.Now(),
	}
	for _, svc := range services {
		status.Services[svc.name] = svc.ready()
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 风格）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 请求：所有服务已初始化且所有检查通过才返回 200
// @Summary 准备情况检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks, services := h.snapshot()
	status := HealthStatus{
		Status:    "healthy",
		Services:  make(map[string]bool, len(services)),
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)+len(services)),
	}

	var (
		mu         sync.Mutex
		allHealthy = true
		g          errgroup.Group
	)
	record := func(name string, latency time.Duration, err error) {
		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			h.logger.Warn("health check failed",
				zap.String("check", name),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			allHealthy = false
		}
		status.Checks[name] = result
	}

	for _, svc := range services {
		ready := svc.ready()
		status.Services[svc.name] = ready
		var err error
		if !ready {
			err = errNotInitialized
		}
		record(svc.name, 0, err)
	}

	// 检查项并发执行，单项失败不取消其他检查
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			record(check.Name(), time.Since(start), err)
			return nil
		})
	}
	_ = g.Wait()

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// FuncCheck 以函数实现的健康检查（Redis ping、渲染引擎探测等）
type FuncCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncCheck 创建函数健康检查
func NewFuncCheck(name string, check func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, check: check}
}

func (c *FuncCheck) Name() string {
	return c.name
}

func (c *FuncCheck) Check(ctx context.Context) error {
	return c.check(ctx)
}
