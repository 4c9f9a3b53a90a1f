package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/avatar/render"
	"github.com/BaSui01/avatarflow/avatar/session"
	"github.com/BaSui01/avatarflow/internal/pool"
	"github.com/BaSui01/avatarflow/types"
)

// SessionLister 会话注册表视图
type SessionLister interface {
	Count() int
	List() []session.Info
}

// RenderInspector 渲染守卫视图
type RenderInspector interface {
	Snapshot() render.Snapshot
}

// TurnStats 轮次工作池视图
type TurnStats interface {
	Stats() pool.GoroutinePoolStats
}

// ArtifactCounter 视频索引视图
type ArtifactCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatsResponse /api/v1/stats 响应体
type StatsResponse struct {
	Sessions      int                     `json:"sessions"`
	SessionList   []session.Info          `json:"session_list"`
	Render        render.Snapshot         `json:"render"`
	Turns         pool.GoroutinePoolStats `json:"turns"`
	Artifacts     int                     `json:"artifacts"`
	ArtifactError string                  `json:"artifact_error,omitempty"`
}

// StatsHandler 运行时状态处理器
type StatsHandler struct {
	sessions  SessionLister
	render    RenderInspector
	turns     TurnStats
	artifacts ArtifactCounter
	logger    *zap.Logger
}

// NewStatsHandler 创建运行时状态处理器。artifacts 可为 nil
func NewStatsHandler(sessions SessionLister, render RenderInspector, turns TurnStats, artifacts ArtifactCounter, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		sessions:  sessions,
		render:    render,
		turns:     turns,
		artifacts: artifacts,
		logger:    logger,
	}
}

// HandleStats 处理 GET /api/v1/stats
// @Summary 运行时状态
// @Tags 运维
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} Response{data=StatsResponse}
// @Router /api/v1/stats [get]
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	resp := StatsResponse{
		Sessions:    h.sessions.Count(),
		SessionList: h.sessions.List(),
		Render:      h.render.Snapshot(),
		Turns:       h.turns.Stats(),
	}

	if h.artifacts != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		n, err := h.artifacts.Count(ctx)
		if err != nil {
			h.logger.Warn("failed to count artifacts", zap.Error(err))
			resp.ArtifactError = err.Error()
		}
		resp.Artifacts = n
	}

	WriteSuccess(w, resp)
}
