// =============================================================================
// 📦 AvatarFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultSystemPrompt 默认系统提示词
const DefaultSystemPrompt = "You are a friendly and helpful AI assistant appearing as a virtual avatar. " +
	"Keep your responses concise (2-3 sentences max) and conversational. " +
	"Be warm, engaging, and natural in your interactions."

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Gateway:   DefaultGatewayConfig(),
		Pipeline:  DefaultPipelineConfig(),
		OpenAI:    DefaultOpenAIConfig(),
		STT:       DefaultSTTConfig(),
		TTS:       DefaultTTSConfig(),
		Render:    DefaultRenderConfig(),
		Artifacts: DefaultArtifactsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		HTTPPort:          8000,
		MetricsPort:       9091,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		RateLimitRPS:      50,
		RateLimitBurst:    100,
	}
}

// DefaultGatewayConfig 返回默认网关配置
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ReadLimit:     16 << 20,
		WriteTimeout:  10 * time.Second,
		PingInterval:  30 * time.Second,
		OutboundQueue: 64,
		InboundRate:   5,
		InboundBurst:  10,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SystemPrompt:         DefaultSystemPrompt,
		HistoryLimit:         10,
		StageTimeout:         60 * time.Second,
		RenderTimeout:        10 * time.Minute,
		RenderAcquireTimeout: 5 * time.Minute,
		MaxRenderQueue:       32,
		MaxConcurrentTurns:   64,
		VideoURLPrefix:       "/video/",
	}
}

// DefaultOpenAIConfig 返回默认 OpenAI 配置
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:      "https://api.openai.com",
		ChatModel:    "gpt-3.5-turbo",
		MaxTokens:    150,
		Temperature:  0.7,
		WhisperModel: "whisper-1",
		TTSModel:     "tts-1",
		TTSVoice:     "alloy",
		Timeout:      60 * time.Second,
		MaxRetries:   2,
	}
}

// DefaultSTTConfig 返回默认转写配置
func DefaultSTTConfig() STTConfig {
	return STTConfig{
		Provider:      "openai",
		DeepgramModel: "nova-2",
	}
}

// DefaultTTSConfig 返回默认合成配置
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		Provider:          "openai",
		ElevenLabsVoiceID: "21m00Tcm4TlvDq8ikWAM",
		ElevenLabsModel:   "eleven_multilingual_v2",
	}
}

// DefaultRenderConfig 返回默认渲染配置
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Driver:              "http",
		Endpoint:            "http://127.0.0.1:9000",
		OutputDir:           "output/interactive",
		Size:                "704*384",
		SampleSteps:         2,
		InferFrames:         32,
		Seed:                420,
		NumClips:            1,
		DefaultPrompt:       "A person speaking naturally",
		DefaultImage:        "examples/man.png",
		ImageDir:            "examples",
		BreakerThreshold:    3,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultArtifactsConfig 返回默认产物配置
func DefaultArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		KeyPrefix:     "avatarflow:video:",
		Retention:     24 * time.Hour,
		SweepInterval: 10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "avatarflow",
		SampleRate:   0.1,
	}
}
