package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/llm/video"
	"github.com/BaSui01/avatarflow/types"
)

// =============================================================================
// 🎬 视频结果下载
// =============================================================================

// VideoHandler serves rendered videos from the output directory.
type VideoHandler struct {
	dir    string
	logger *zap.Logger
}

// NewVideoHandler 创建视频下载处理器
func NewVideoHandler(dir string, logger *zap.Logger) *VideoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoHandler{dir: dir, logger: logger}
}

// HandleVideo 处理 GET /video/{filename}
// @Summary 下载渲染结果
// @Tags 视频
// @Produce video/mp4
// @Param filename path string true "视频文件名"
// @Success 200 {file} binary
// @Failure 404 {object} Response "视频不存在"
// @Router /video/{filename} [get]
func (h *VideoHandler) HandleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	name := r.PathValue("filename")
	// 非法文件名一律按不存在处理
	if !video.IsSafeName(name) {
		h.notFound(w)
		return
	}

	f, err := os.Open(filepath.Join(h.dir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("failed to open video", zap.String("filename", name), zap.Error(err))
		}
		h.notFound(w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		h.notFound(w)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *VideoHandler) notFound(w http.ResponseWriter) {
	WriteError(w, types.NewNotFoundError("Video not found"), nil)
}
