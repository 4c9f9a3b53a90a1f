// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig 返回一份可以通过校验的配置
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.OpenAI.APIKey = "sk-test"
	return cfg
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 服务器
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())

	// 流水线
	assert.Equal(t, 10, cfg.Pipeline.HistoryLimit)
	assert.Equal(t, DefaultSystemPrompt, cfg.Pipeline.SystemPrompt)
	assert.Equal(t, "/video/", cfg.Pipeline.VideoURLPrefix)

	// OpenAI
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.ChatModel)
	assert.Equal(t, 150, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 0.7, cfg.OpenAI.Temperature)
	assert.Equal(t, "whisper-1", cfg.OpenAI.WhisperModel)
	assert.Equal(t, "tts-1", cfg.OpenAI.TTSModel)
	assert.Equal(t, "alloy", cfg.OpenAI.TTSVoice)

	// 渲染
	assert.Equal(t, "704*384", cfg.Render.Size)
	assert.Equal(t, 2, cfg.Render.SampleSteps)
	assert.Equal(t, 32, cfg.Render.InferFrames)
	assert.Equal(t, int64(420), cfg.Render.Seed)
	assert.Equal(t, "output/interactive", cfg.Render.OutputDir)
	assert.Equal(t, "A person speaking naturally", cfg.Render.DefaultPrompt)
	assert.Equal(t, "examples/man.png", cfg.Render.DefaultImage)
	assert.Equal(t, "examples", cfg.Render.ImageDir)

	// 日志
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultConfig_RequiresAPIKey(t *testing.T) {
	err := DefaultConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key is required")

	assert.NoError(t, validConfig().Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromFile(t *testing.T) {
	content := `
server:
  http_port: 8181
pipeline:
  history_limit: 6
  stage_timeout: 15s
openai:
  api_key: sk-file
  chat_model: gpt-4o-mini
render:
  driver: command
  command: python
  args: ["infer.py", "--audio", "{audio}"]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.HTTPPort)
	assert.Equal(t, 6, cfg.Pipeline.HistoryLimit)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.Equal(t, "command", cfg.Render.Driver)
	assert.Equal(t, []string{"infer.py", "--audio", "{audio}"}, cfg.Render.Args)

	// 未出现的字段保持默认值
	assert.Equal(t, 150, cfg.OpenAI.MaxTokens)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("AVATARFLOW_SERVER_HTTP_PORT", "9000")
	t.Setenv("AVATARFLOW_OPENAI_API_KEY", "sk-env")
	t.Setenv("AVATARFLOW_PIPELINE_RENDER_TIMEOUT", "2m")
	t.Setenv("AVATARFLOW_SERVER_API_KEYS", "a, b ,c")
	t.Setenv("AVATARFLOW_OPENAI_TEMPERATURE", "0.2")
	t.Setenv("AVATARFLOW_PIPELINE_STREAM_GENERATION", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.RenderTimeout)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.InDelta(t, 0.2, cfg.OpenAI.Temperature, 1e-9)
	assert.True(t, cfg.Pipeline.StreamGeneration)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))
	t.Setenv("AVATARFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("AVATAR_LOG_FORMAT", "console")

	cfg, err := NewLoader().WithEnvPrefix("AVATAR").Load()
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AVATARFLOW_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error { return c.Validate() }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestMustLoad_Panics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0644))
	assert.Panics(t, func() { MustLoad(path) })
}

// --- 校验测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"same ports", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, "metrics port must differ"},
		{"half tls", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "must be set together"},
		{"odd history", func(c *Config) { c.Pipeline.HistoryLimit = 7 }, "history_limit"},
		{"zero stage timeout", func(c *Config) { c.Pipeline.StageTimeout = 0 }, "stage_timeout"},
		{"unknown stt", func(c *Config) { c.STT.Provider = "vosk" }, "unknown stt provider"},
		{"deepgram without key", func(c *Config) { c.STT.Provider = "deepgram" }, "deepgram_api_key"},
		{"elevenlabs without key", func(c *Config) { c.TTS.Provider = "elevenlabs" }, "elevenlabs_api_key"},
		{"unknown driver", func(c *Config) { c.Render.Driver = "grpc" }, "unknown render driver"},
		{"command without command", func(c *Config) { c.Render.Driver = "command" }, "render.command"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Render.Driver = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "unknown render driver")
	assert.Contains(t, err.Error(), "openai.api_key")
}
