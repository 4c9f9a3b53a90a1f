package video

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/internal/pool"
	"github.com/BaSui01/avatarflow/internal/tlsutil"
	"github.com/BaSui01/avatarflow/types"
)

// HTTPRenderer 把渲染请求转发给常驻 GPU 的推理 sidecar。
// sidecar 协议：GET /health 返回 200 表示模型已加载；
// POST /render 接收 multipart 表单，响应体为 video/mp4。
type HTTPRenderer struct {
	cfg    HTTPRendererConfig
	client *http.Client
	logger *zap.Logger

	initMu sync.Mutex
	ready  atomic.Bool
}

// NewHTTPRenderer 创建 sidecar 渲染器
func NewHTTPRenderer(cfg HTTPRendererConfig, logger *zap.Logger) *HTTPRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultHTTPRendererConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Defaults == (EngineDefaults{}) {
		cfg.Defaults = def.Defaults
	}
	return &HTTPRenderer{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "http_renderer")),
	}
}

func (r *HTTPRenderer) Name() string { return "liveavatar-http" }

func (r *HTTPRenderer) Ready() bool { return r.ready.Load() }

// Init 探测 sidecar 健康状态，成功后标记为就绪
func (r *HTTPRenderer) Init(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.ready.Load() {
		return nil
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return types.NewError(types.ErrRender, "failed to create output directory").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url("/health"), nil)
	if err != nil {
		return types.NewError(types.ErrRender, "failed to create request").WithCause(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return types.NewError(types.ErrRender, "render engine unreachable").WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.ErrRender, fmt.Sprintf("render engine not ready: status=%d", resp.StatusCode))
	}

	r.ready.Store(true)
	r.logger.Info("render engine ready", zap.String("endpoint", r.cfg.Endpoint))
	return nil
}

// Render 上传音频并把返回的视频流写入输出目录
func (r *HTTPRenderer) Render(ctx context.Context, req *RenderRequest) (*RenderResult, error) {
	if req == nil || req.AudioPath == "" {
		return nil, types.NewError(types.ErrRender, "audio path is required")
	}
	if !r.Ready() {
		if err := r.Init(ctx); err != nil {
			return nil, err
		}
	}

	full := r.cfg.Defaults.applyDefaults(req)
	start := time.Now()

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	contentType, err := r.buildForm(buf, &full)
	if err != nil {
		return nil, types.NewError(types.ErrRender, "failed to build render request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url("/render"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, types.NewError(types.ErrRender, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "video/mp4")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrRender, "render request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, types.NewError(types.ErrRender,
			fmt.Sprintf("render engine error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(errBody)))).
			WithHTTPStatus(resp.StatusCode)
	}

	outPath := OutputPath(r.cfg.OutputDir, start)
	n, err := writeFile(outPath, resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrRender, "failed to store rendered video").WithCause(err)
	}
	if n == 0 {
		_ = os.Remove(outPath)
		return nil, types.NewError(types.ErrRender, "render engine returned an empty video")
	}

	return &RenderResult{
		VideoPath: outPath,
		Bytes:     n,
		Elapsed:   time.Since(start),
		Engine:    r.Name(),
	}, nil
}

func (r *HTTPRenderer) buildForm(buf *bytes.Buffer, req *RenderRequest) (string, error) {
	audio, err := os.Open(req.AudioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer audio.Close()

	writer := multipart.NewWriter(buf)

	part, err := writer.CreateFormFile("audio", filepath.Base(req.AudioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to copy audio: %w", err)
	}

	_ = writer.WriteField("prompt", req.Prompt)
	_ = writer.WriteField("image_path", req.ReferenceImage)
	_ = writer.WriteField("size", req.Size)
	_ = writer.WriteField("sample_steps", strconv.Itoa(req.SampleSteps))
	_ = writer.WriteField("infer_frames", strconv.Itoa(req.InferFrames))
	_ = writer.WriteField("seed", strconv.FormatInt(req.Seed, 10))
	_ = writer.WriteField("num_clip", strconv.Itoa(req.NumClips))

	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.FormDataContentType(), nil
}

func (r *HTTPRenderer) url(path string) string {
	return strings.TrimRight(r.cfg.Endpoint, "/") + path
}

// writeFile 写入临时文件后原子改名，避免读到半截视频
func writeFile(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
