package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

// CommandRenderer 通过本地命令运行推理脚本。
// 参数支持占位符：{audio} {prompt} {image} {output} {size} {steps} {frames} {seed} {clips}
type CommandRenderer struct {
	cfg    CommandRendererConfig
	logger *zap.Logger

	initMu sync.Mutex
	ready  atomic.Bool
}

// NewCommandRenderer 创建命令渲染器
func NewCommandRenderer(cfg CommandRendererConfig, logger *zap.Logger) *CommandRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output/interactive"
	}
	if cfg.Defaults == (EngineDefaults{}) {
		cfg.Defaults = DefaultEngineDefaults()
	}
	return &CommandRenderer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "command_renderer")),
	}
}

func (r *CommandRenderer) Name() string { return "liveavatar-command" }

func (r *CommandRenderer) Ready() bool { return r.ready.Load() }

// Init 校验命令可执行并创建输出目录
func (r *CommandRenderer) Init(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.ready.Load() {
		return nil
	}
	if r.cfg.Command == "" {
		return types.NewError(types.ErrRender, "render command is not configured")
	}
	if _, err := exec.LookPath(r.cfg.Command); err != nil {
		return types.NewError(types.ErrRender, "render command not found").WithCause(err)
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return types.NewError(types.ErrRender, "failed to create output directory").WithCause(err)
	}

	r.ready.Store(true)
	r.logger.Info("render command ready", zap.String("command", r.cfg.Command))
	return nil
}

// Render 执行命令，命令结束后输出文件必须存在且非空
func (r *CommandRenderer) Render(ctx context.Context, req *RenderRequest) (*RenderResult, error) {
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
	outPath := OutputPath(r.cfg.OutputDir, start)

	args := expandArgs(r.cfg.Args, &full, outPath)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("running render command",
		zap.String("session_id", req.SessionID),
		zap.Strings("args", args),
	)

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return nil, types.NewError(types.ErrRender,
			fmt.Sprintf("render command failed: %s", lastLine(stderr.String()))).WithCause(err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, types.NewError(types.ErrRender, "render command produced no video").WithCause(err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outPath)
		return nil, types.NewError(types.ErrRender, "render command produced an empty video")
	}

	return &RenderResult{
		VideoPath: outPath,
		Bytes:     info.Size(),
		Elapsed:   time.Since(start),
		Engine:    r.Name(),
	}, nil
}

func expandArgs(tmpl []string, req *RenderRequest, output string) []string {
	replacer := strings.NewReplacer(
		"{audio}", req.AudioPath,
		"{prompt}", req.Prompt,
		"{image}", req.ReferenceImage,
		"{output}", output,
		"{size}", req.Size,
		"{steps}", strconv.Itoa(req.SampleSteps),
		"{frames}", strconv.Itoa(req.InferFrames),
		"{seed}", strconv.FormatInt(req.Seed, 10),
		"{clips}", strconv.Itoa(req.NumClips),
	)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = replacer.Replace(a)
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
