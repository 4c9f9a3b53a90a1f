// =============================================================================
// 📦 AvatarFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AVATARFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AvatarFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Gateway WebSocket 网关配置
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// Pipeline 对话流水线配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// OpenAI 文本生成、Whisper 与 TTS 配置
	OpenAI OpenAIConfig `yaml:"openai" env:"OPENAI"`

	// STT 转写后端选择
	STT STTConfig `yaml:"stt" env:"STT"`

	// TTS 合成后端选择
	TTS TTSConfig `yaml:"tts" env:"TTS"`

	// Render 渲染引擎配置
	Render RenderConfig `yaml:"render" env:"RENDER"`

	// Artifacts 视频产物索引与保留
	Artifacts ArtifactsConfig `yaml:"artifacts" env:"ARTIFACTS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 监听地址
	Host string `yaml:"host" env:"HOST"`
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不单独启动
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取请求头超时（WebSocket 是长连接，不设置整体读写超时）
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	// 空闲连接超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源，空表示不输出 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每个 IP 的请求速率
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 速率突发
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，空表示不启用 API Key 认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许通过 ?api_key= 传递（浏览器 WebSocket 无法设置请求头）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// TLS 证书，为空时使用明文 HTTP
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig JWT 认证配置，Secret 为空表示不启用
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// GatewayConfig WebSocket 网关配置
type GatewayConfig struct {
	// 单帧最大字节数（音频帧）
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`
	// 单帧写超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 心跳间隔，0 表示不发送 ping
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	// 每个会话的出站队列长度
	OutboundQueue int `yaml:"outbound_queue" env:"OUTBOUND_QUEUE"`
	// 入站帧速率（帧/秒）与突发
	InboundRate  float64 `yaml:"inbound_rate" env:"INBOUND_RATE"`
	InboundBurst int     `yaml:"inbound_burst" env:"INBOUND_BURST"`
	// 允许的 Origin 模式，空表示只允许同源
	OriginPatterns []string `yaml:"origin_patterns" env:"ORIGIN_PATTERNS"`
	// 最大并发会话数，0 表示不限制
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
}

// PipelineConfig 对话流水线配置
type PipelineConfig struct {
	// 系统提示词
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// 对话历史条数上限
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// 转写、生成、合成各阶段超时
	StageTimeout time.Duration `yaml:"stage_timeout" env:"STAGE_TIMEOUT"`
	// 渲染调用超时
	RenderTimeout time.Duration `yaml:"render_timeout" env:"RENDER_TIMEOUT"`
	// 等待渲染引擎的最长时间，0 表示只受会话生命周期约束
	RenderAcquireTimeout time.Duration `yaml:"render_acquire_timeout" env:"RENDER_ACQUIRE_TIMEOUT"`
	// 渲染等待队列上限，0 表示不限制
	MaxRenderQueue int `yaml:"max_render_queue" env:"MAX_RENDER_QUEUE"`
	// 同时执行的轮次上限
	MaxConcurrentTurns int `yaml:"max_concurrent_turns" env:"MAX_CONCURRENT_TURNS"`
	// 合成音频的临时目录，空表示系统临时目录
	TempDir string `yaml:"temp_dir" env:"TEMP_DIR"`
	// 视频地址前缀
	VideoURLPrefix string `yaml:"video_url_prefix" env:"VIDEO_URL_PREFIX"`
	// 使用流式生成（逐块累积回复）
	StreamGeneration bool `yaml:"stream_generation" env:"STREAM_GENERATION"`
}

// OpenAIConfig OpenAI 兼容后端配置
type OpenAIConfig struct {
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	ChatModel    string        `yaml:"chat_model" env:"CHAT_MODEL"`
	MaxTokens    int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature  float64       `yaml:"temperature" env:"TEMPERATURE"`
	WhisperModel string        `yaml:"whisper_model" env:"WHISPER_MODEL"`
	TTSModel     string        `yaml:"tts_model" env:"TTS_MODEL"`
	TTSVoice     string        `yaml:"tts_voice" env:"TTS_VOICE"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// STTConfig 转写后端：openai 或 deepgram
type STTConfig struct {
	Provider       string `yaml:"provider" env:"PROVIDER"`
	DeepgramAPIKey string `yaml:"deepgram_api_key" env:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `yaml:"deepgram_model" env:"DEEPGRAM_MODEL"`
	// 默认识别语言，空表示自动检测
	Language string `yaml:"language" env:"LANGUAGE"`
}

// TTSConfig 合成后端：openai 或 elevenlabs
type TTSConfig struct {
	Provider          string `yaml:"provider" env:"PROVIDER"`
	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key" env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id" env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsModel   string `yaml:"elevenlabs_model" env:"ELEVENLABS_MODEL"`
}

// RenderConfig 渲染引擎配置
type RenderConfig struct {
	// 驱动: http（GPU sidecar）或 command（本地推理脚本）
	Driver string `yaml:"driver" env:"DRIVER"`
	// sidecar 地址
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// 本地命令及参数模板
	Command string   `yaml:"command" env:"COMMAND"`
	Args    []string `yaml:"args" env:"ARGS"`
	WorkDir string   `yaml:"work_dir" env:"WORK_DIR"`
	// 视频输出目录
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR"`
	// 引擎参数
	Size          string `yaml:"size" env:"SIZE"`
	SampleSteps   int    `yaml:"sample_steps" env:"SAMPLE_STEPS"`
	InferFrames   int    `yaml:"infer_frames" env:"INFER_FRAMES"`
	Seed          int64  `yaml:"seed" env:"SEED"`
	NumClips      int    `yaml:"num_clips" env:"NUM_CLIPS"`
	DefaultPrompt string `yaml:"default_prompt" env:"DEFAULT_PROMPT"`
	DefaultImage  string `yaml:"default_image" env:"DEFAULT_IMAGE"`
	// 客户端 reference_image 只能是该目录下的文件名，为空时禁用
	ImageDir string `yaml:"image_dir" env:"IMAGE_DIR"`
	// 熔断：连续失败次数与恢复探测间隔
	BreakerThreshold    int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// ArtifactsConfig 视频产物索引配置，RedisAddr 为空时使用内存索引
type ArtifactsConfig struct {
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisTLS      bool          `yaml:"redis_tls" env:"REDIS_TLS"`
	KeyPrefix     string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AVATARFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，汇总所有问题
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if c.Gateway.ReadLimit <= 0 {
		errs = append(errs, "gateway.read_limit must be positive")
	}
	if c.Gateway.OutboundQueue <= 0 {
		errs = append(errs, "gateway.outbound_queue must be positive")
	}

	if c.Pipeline.HistoryLimit <= 0 || c.Pipeline.HistoryLimit%2 != 0 {
		errs = append(errs, "pipeline.history_limit must be a positive even number")
	}
	if c.Pipeline.StageTimeout <= 0 {
		errs = append(errs, "pipeline.stage_timeout must be positive")
	}
	if c.Pipeline.RenderTimeout <= 0 {
		errs = append(errs, "pipeline.render_timeout must be positive")
	}
	if c.Pipeline.MaxConcurrentTurns <= 0 {
		errs = append(errs, "pipeline.max_concurrent_turns must be positive")
	}
	if c.Pipeline.MaxRenderQueue < 0 {
		errs = append(errs, "pipeline.max_render_queue must not be negative")
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, "openai.api_key is required")
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errs = append(errs, "openai.temperature must be between 0 and 2")
	}
	if c.OpenAI.MaxTokens <= 0 {
		errs = append(errs, "openai.max_tokens must be positive")
	}

	switch c.STT.Provider {
	case "openai":
	case "deepgram":
		if c.STT.DeepgramAPIKey == "" {
			errs = append(errs, "stt.deepgram_api_key is required for the deepgram provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown stt provider %q", c.STT.Provider))
	}

	switch c.TTS.Provider {
	case "openai":
	case "elevenlabs":
		if c.TTS.ElevenLabsAPIKey == "" {
			errs = append(errs, "tts.elevenlabs_api_key is required for the elevenlabs provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown tts provider %q", c.TTS.Provider))
	}

	switch c.Render.Driver {
	case "http":
		if c.Render.Endpoint == "" {
			errs = append(errs, "render.endpoint is required for the http driver")
		}
	case "command":
		if c.Render.Command == "" {
			errs = append(errs, "render.command is required for the command driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown render driver %q", c.Render.Driver))
	}
	if c.Render.OutputDir == "" {
		errs = append(errs, "render.output_dir is required")
	}

	if c.Artifacts.Retention < 0 {
		errs = append(errs, "artifacts.retention must not be negative")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Addr 返回 HTTP 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// MetricsAddr 返回 metrics 监听地址
func (s ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort)
}
