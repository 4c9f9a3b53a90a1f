package video

import "time"

// EngineDefaults 引擎参数默认值（LiveAvatar 推理参数）
type EngineDefaults struct {
	Size           string `json:"size" yaml:"size"`
	SampleSteps    int    `json:"sample_steps" yaml:"sample_steps"`
	InferFrames    int    `json:"infer_frames" yaml:"infer_frames"`
	Seed           int64  `json:"seed" yaml:"seed"`
	NumClips       int    `json:"num_clip" yaml:"num_clip"`
	Prompt         string `json:"prompt" yaml:"prompt"`
	ReferenceImage string `json:"reference_image" yaml:"reference_image"`
}

// HTTPRendererConfig 配置 GPU 推理 sidecar
type HTTPRendererConfig struct {
	Endpoint  string         `json:"endpoint" yaml:"endpoint"`
	OutputDir string         `json:"output_dir" yaml:"output_dir"`
	Timeout   time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Defaults  EngineDefaults `json:"defaults" yaml:"defaults"`
}

// CommandRendererConfig 配置本地推理命令
type CommandRendererConfig struct {
	Command   string         `json:"command" yaml:"command"`
	Args      []string       `json:"args" yaml:"args"`
	WorkDir   string         `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	OutputDir string         `json:"output_dir" yaml:"output_dir"`
	Defaults  EngineDefaults `json:"defaults" yaml:"defaults"`
}

// DefaultEngineDefaults 返回默认推理参数
func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		Size:           "704*384",
		SampleSteps:    2,
		InferFrames:    32,
		Seed:           420,
		NumClips:       1,
		Prompt:         "A person speaking naturally",
		ReferenceImage: "examples/man.png",
	}
}

// DefaultHTTPRendererConfig 返回默认 sidecar 配置
func DefaultHTTPRendererConfig() HTTPRendererConfig {
	return HTTPRendererConfig{
		Endpoint:  "http://127.0.0.1:9000",
		OutputDir: "output/interactive",
		Timeout:   10 * time.Minute,
		Defaults:  DefaultEngineDefaults(),
	}
}

// applyDefaults 用配置默认值补全请求
func (d EngineDefaults) applyDefaults(req *RenderRequest) RenderRequest {
	out := *req
	if out.Prompt == "" {
		out.Prompt = d.Prompt
	}
	if out.ReferenceImage == "" {
		out.ReferenceImage = d.ReferenceImage
	}
	if out.Size == "" {
		out.Size = d.Size
	}
	if out.SampleSteps <= 0 {
		out.SampleSteps = d.SampleSteps
	}
	if out.InferFrames <= 0 {
		out.InferFrames = d.InferFrames
	}
	if out.Seed == 0 {
		out.Seed = d.Seed
	}
	if out.NumClips <= 0 {
		out.NumClips = d.NumClips
	}
	return out
}
