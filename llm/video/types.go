// Package video 定义头像视频渲染引擎的统一接口与实现。
package video

import (
	"context"
	"time"
)

// RenderRequest 单次渲染请求。引擎参数为零值时使用渲染器配置中的默认值。
type RenderRequest struct {
	AudioPath      string `json:"audio_path"`
	Prompt         string `json:"prompt,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	TurnID         uint64 `json:"turn_id,omitempty"`

	Size        string `json:"size,omitempty"` // e.g. "704*384"
	SampleSteps int    `json:"sample_steps,omitempty"`
	InferFrames int    `json:"infer_frames,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
	NumClips    int    `json:"num_clip,omitempty"`
}

// RenderResult 渲染产物
type RenderResult struct {
	VideoPath string        `json:"video_path"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed"`
	Engine    string        `json:"engine"`
}

// Renderer is a stateful, single-flight video rendering engine.
//
// Implementations are not safe for concurrent Render calls; callers must
// serialize access (see avatar/render.Guard).
type Renderer interface {
	// Name returns the engine name.
	Name() string

	// Init loads or probes the engine. It is safe to call more than once.
	Init(ctx context.Context) error

	// Ready reports whether Init has succeeded.
	Ready() bool

	// Render turns a synthesized audio file into an avatar video file.
	Render(ctx context.Context, req *RenderRequest) (*RenderResult, error)
}
