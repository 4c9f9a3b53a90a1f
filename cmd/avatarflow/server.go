package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/avatarflow/api/gateway"
	"github.com/BaSui01/avatarflow/api/handlers"
	"github.com/BaSui01/avatarflow/avatar/adapters"
	"github.com/BaSui01/avatarflow/avatar/pipeline"
	"github.com/BaSui01/avatarflow/avatar/render"
	"github.com/BaSui01/avatarflow/avatar/session"
	"github.com/BaSui01/avatarflow/config"
	"github.com/BaSui01/avatarflow/internal/artifacts"
	"github.com/BaSui01/avatarflow/internal/metrics"
	"github.com/BaSui01/avatarflow/internal/pool"
	"github.com/BaSui01/avatarflow/internal/server"
	"github.com/BaSui01/avatarflow/internal/telemetry"
	"github.com/BaSui01/avatarflow/internal/tlsutil"
	"github.com/BaSui01/avatarflow/llm/circuitbreaker"
	"github.com/BaSui01/avatarflow/llm/providers/openaicompat"
	"github.com/BaSui01/avatarflow/llm/retry"
	"github.com/BaSui01/avatarflow/llm/speech"
	"github.com/BaSui01/avatarflow/llm/video"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AvatarFlow 的主服务器
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	level  zap.AtomicLevel
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 指标
	promRegistry     *prometheus.Registry
	metricsCollector *metrics.Collector

	// 流水线组件
	transcriber  *adapters.Transcription
	generator    *adapters.Generation
	synthesizer  *adapters.Synthesis
	renderer     video.Renderer
	guard        *render.Guard
	registry     *session.Registry
	orchestrator *pipeline.Orchestrator
	index        artifacts.Index
	janitor      *artifacts.Janitor

	// Handlers
	healthHandler *handlers.HealthHandler
	videoHandler  *handlers.VideoHandler
	statsHandler  *handlers.StatsHandler
	wsHandler     *gateway.Handler

	reloader *config.Reloader

	// 后台任务（rate limiter 清理、janitor、引擎初始化）
	bgCancel context.CancelFunc
	errCh    chan error

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, level zap.AtomicLevel, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		loader: loader,
		level:  level,
		logger: logger,
		otel:   otel,
		errCh:  make(chan error, 2),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动所有服务，ctx 控制后台任务的生命周期
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	s.bgCancel = cancel

	// 1. 指标收集器
	s.initMetrics()

	// 2. 流水线组件
	if err := s.initComponents(bgCtx); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. Handlers
	s.initHandlers()

	// 4. 热更新
	if err := s.initReloader(bgCtx); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.cfg.Server.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return nil
}

// Errors 返回任一服务器的异步错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initMetrics() {
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollectorWithRegistry("avatarflow", s.promRegistry, s.logger)
}

// initComponents 按依赖顺序组装：外部服务适配器 → 渲染引擎与守卫 → 索引 → 编排器
func (s *Server) initComponents(ctx context.Context) error {
	cfg := s.cfg
	policy := retryPolicy(cfg.OpenAI.MaxRetries)

	// 转写
	s.transcriber = adapters.NewTranscription(newSTTProvider(cfg), adapters.TranscriptionOptions{
		Model:    cfg.OpenAI.WhisperModel,
		Language: cfg.STT.Language,
		Retry:    policy,
	}, s.logger)

	// 文本生成
	llmProvider := openaicompat.New(openaicompat.Config{
		ProviderName: "openai",
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		DefaultModel: cfg.OpenAI.ChatModel,
		Timeout:      cfg.OpenAI.Timeout,
	}, s.logger)
	s.generator = adapters.NewGeneration(llmProvider, adapters.GenerationOptions{
		Model:       cfg.OpenAI.ChatModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: float32(cfg.OpenAI.Temperature),
		Retry:       policy,
	}, s.logger)

	// 合成
	synthModel, synthVoice := cfg.OpenAI.TTSModel, cfg.OpenAI.TTSVoice
	if cfg.TTS.Provider == "elevenlabs" {
		synthModel, synthVoice = cfg.TTS.ElevenLabsModel, cfg.TTS.ElevenLabsVoiceID
	}
	s.synthesizer = adapters.NewSynthesis(newTTSProvider(cfg), adapters.SynthesisOptions{
		Model:   synthModel,
		Voice:   synthVoice,
		Format:  "mp3",
		TempDir: cfg.Pipeline.TempDir,
		Retry:   policy,
	}, s.logger)

	// 渲染引擎 + 熔断 + 互斥守卫
	engine := newRenderer(cfg.Render, s.logger)
	breaker := circuitbreaker.New(&circuitbreaker.Config{
		Threshold:        cfg.Render.BreakerThreshold,
		ResetTimeout:     cfg.Render.BreakerResetTimeout,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			s.logger.Warn("render breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}, s.logger)
	s.renderer = video.WithBreaker(engine, breaker)
	s.guard = render.NewGuard(s.renderer, render.Options{
		MaxQueue:       cfg.Pipeline.MaxRenderQueue,
		AcquireTimeout: cfg.Pipeline.RenderAcquireTimeout,
		Observer:       s.metricsCollector,
	}, s.logger)

	if err := ensureOutputDir(cfg.Render.OutputDir); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	// 引擎加载耗时较长，后台进行；完成前 /health 中 avatar 为 false
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		timeout := cfg.OpenAI.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := s.generator.Probe(probeCtx); err != nil {
			s.logger.Warn("language model probe failed", zap.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.renderer.Init(ctx); err != nil {
			s.logger.Error("render engine initialization failed",
				zap.String("engine", s.renderer.Name()),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("render engine ready", zap.String("engine", s.renderer.Name()))
	}()

	// 视频索引
	index, err := newIndex(cfg.Artifacts, s.logger)
	if err != nil {
		return err
	}
	s.index = index
	s.janitor = artifacts.NewJanitor(cfg.Render.OutputDir, index, cfg.Artifacts.Retention, cfg.Artifacts.SweepInterval, s.metricsCollector, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.janitor.Run(ctx)
	}()

	// 会话与编排
	s.registry = session.NewRegistry(session.RegistryOptions{
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		Observer:     s.metricsCollector,
	}, s.logger)

	workers := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  cfg.Pipeline.MaxConcurrentTurns,
		QueueSize:   cfg.Pipeline.MaxConcurrentTurns,
		IdleTimeout: time.Minute,
		PanicHandler: func(r any) {
			s.logger.Error("turn panicked", zap.Any("panic", r), zap.Stack("stack"))
		},
	})

	s.orchestrator = pipeline.New(s.transcriber, s.generator, s.synthesizer, s.guard, s.index, workers, pipeline.Options{
		SystemPrompt:     cfg.Pipeline.SystemPrompt,
		StageTimeout:     cfg.Pipeline.StageTimeout,
		RenderTimeout:    cfg.Pipeline.RenderTimeout,
		VideoURLPrefix:   cfg.Pipeline.VideoURLPrefix,
		DefaultPrompt:    cfg.Render.DefaultPrompt,
		DefaultImage:     cfg.Render.DefaultImage,
		ImageDir:         cfg.Render.ImageDir,
		StreamGeneration: cfg.Pipeline.StreamGeneration,
		Observer:         s.metricsCollector,
	}, s.logger)

	s.logger.Info("Pipeline initialized",
		zap.String("stt", s.transcriber.Name()),
		zap.String("llm", llmProvider.Name()),
		zap.String("tts", s.synthesizer.Name()),
		zap.String("render", s.renderer.Name()),
	)
	return nil
}

func retryPolicy(maxRetries int) *retry.RetryPolicy {
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = maxRetries
	return policy
}

func newSTTProvider(cfg *config.Config) speech.STTProvider {
	if cfg.STT.Provider == "deepgram" {
		dg := speech.DefaultDeepgramConfig()
		dg.APIKey = cfg.STT.DeepgramAPIKey
		if cfg.STT.DeepgramModel != "" {
			dg.Model = cfg.STT.DeepgramModel
		}
		dg.Timeout = cfg.OpenAI.Timeout
		return speech.NewDeepgramProvider(dg)
	}
	oc := speech.DefaultOpenAISTTConfig()
	oc.APIKey = cfg.OpenAI.APIKey
	oc.BaseURL = cfg.OpenAI.BaseURL
	oc.Model = cfg.OpenAI.WhisperModel
	oc.Timeout = cfg.OpenAI.Timeout
	return speech.NewOpenAISTTProvider(oc)
}

func newTTSProvider(cfg *config.Config) speech.TTSProvider {
	if cfg.TTS.Provider == "elevenlabs" {
		el := speech.DefaultElevenLabsConfig()
		el.APIKey = cfg.TTS.ElevenLabsAPIKey
		el.VoiceID = cfg.TTS.ElevenLabsVoiceID
		el.Model = cfg.TTS.ElevenLabsModel
		el.Timeout = cfg.OpenAI.Timeout
		return speech.NewElevenLabsProvider(el)
	}
	oc := speech.DefaultOpenAITTSConfig()
	oc.APIKey = cfg.OpenAI.APIKey
	oc.BaseURL = cfg.OpenAI.BaseURL
	oc.Model = cfg.OpenAI.TTSModel
	oc.Voice = cfg.OpenAI.TTSVoice
	oc.Timeout = cfg.OpenAI.Timeout
	return speech.NewOpenAITTSProvider(oc)
}

func newRenderer(cfg config.RenderConfig, logger *zap.Logger) video.Renderer {
	defaults := video.EngineDefaults{
		Size:           cfg.Size,
		SampleSteps:    cfg.SampleSteps,
		InferFrames:    cfg.InferFrames,
		Seed:           cfg.Seed,
		NumClips:       cfg.NumClips,
		Prompt:         cfg.DefaultPrompt,
		ReferenceImage: cfg.DefaultImage,
	}
	if cfg.Driver == "command" {
		return video.NewCommandRenderer(video.CommandRendererConfig{
			Command:   cfg.Command,
			Args:      cfg.Args,
			WorkDir:   cfg.WorkDir,
			OutputDir: cfg.OutputDir,
			Defaults:  defaults,
		}, logger)
	}
	return video.NewHTTPRenderer(video.HTTPRendererConfig{
		Endpoint:  cfg.Endpoint,
		OutputDir: cfg.OutputDir,
		Defaults:  defaults,
	}, logger)
}

func newIndex(cfg config.ArtifactsConfig, logger *zap.Logger) (artifacts.Index, error) {
	if cfg.RedisAddr == "" {
		return artifacts.NewMemoryIndex(cfg.Retention), nil
	}
	index, err := artifacts.NewRedisIndex(artifacts.RedisConfig{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		TLS:       cfg.RedisTLS,
		KeyPrefix: cfg.KeyPrefix,
		Retention: cfg.Retention,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect artifact index: %w", err)
	}
	return index, nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterService("stt", s.transcriber.Initialized)
	s.healthHandler.RegisterService("llm", s.generator.Initialized)
	s.healthHandler.RegisterService("tts", s.synthesizer.Initialized)
	s.healthHandler.RegisterService("avatar", s.renderer.Ready)
	s.healthHandler.RegisterCheck(handlers.NewFuncCheck("artifact_index", s.index.Ping))

	s.videoHandler = handlers.NewVideoHandler(s.cfg.Render.OutputDir, s.logger)
	s.statsHandler = handlers.NewStatsHandler(s.registry, s.guard, s.orchestrator, s.index, s.logger)

	gw := s.cfg.Gateway
	s.wsHandler = gateway.NewHandler(s.registry, s.orchestrator, s.guard, gateway.Options{
		ReadLimit:      gw.ReadLimit,
		WriteTimeout:   gw.WriteTimeout,
		PingInterval:   gw.PingInterval,
		OutboundQueue:  gw.OutboundQueue,
		InboundRate:    gw.InboundRate,
		InboundBurst:   gw.InboundBurst,
		OriginPatterns: gw.OriginPatterns,
		MaxSessions:    gw.MaxSessions,
		Observer:       s.metricsCollector,
	}, s.logger)

	s.logger.Info("Handlers initialized")
}

// initReloader 只有指定了配置文件才启用热更新；日志级别和系统提示词即时生效
func (s *Server) initReloader(ctx context.Context) error {
	if s.loader == nil || s.loader.ConfigPath() == "" {
		return nil
	}

	reloader, err := config.NewReloader(s.loader, s.cfg, s.logger)
	if err != nil {
		return err
	}
	reloader.OnReload(s.applyReload)
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	s.reloader = reloader
	return nil
}

// applyReload 应用运行期可变的配置字段
func (s *Server) applyReload(old, updated *config.Config) {
	if old.Log.Level != updated.Log.Level {
		s.level.SetLevel(parseLevel(updated.Log.Level))
		s.logger.Info("log level updated", zap.String("level", updated.Log.Level))
	}
	if old.Pipeline.SystemPrompt != updated.Pipeline.SystemPrompt {
		s.orchestrator.SetSystemPrompt(updated.Pipeline.SystemPrompt)
		s.logger.Info("system prompt updated")
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPaths 不需要认证的路径，以 / 结尾表示前缀
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics", "/video/"}

// routes 构建路由与中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 会话与结果
	mux.Handle("GET /ws", s.wsHandler)
	mux.HandleFunc("/video/{filename}", s.videoHandler.HandleVideo)
	mux.HandleFunc("/api/v1/stats", s.statsHandler.HandleStats)

	srv := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(srv.CORSAllowedOrigins),
	}
	if srv.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(srv.RateLimitRPS), srv.RateLimitBurst, s.logger))
	}
	if len(srv.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(srv.APIKeys, skipAuthPaths, srv.AllowQueryAPIKey, s.logger))
	}
	if srv.JWT.Secret != "" {
		chain = append(chain, JWTAuth(srv.JWT, skipAuthPaths, srv.AllowQueryAPIKey, s.logger))
	}
	return Chain(mux, chain...)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	srv := s.cfg.Server
	serverConfig := server.Config{
		Addr:              srv.Addr(),
		ReadHeaderTimeout: srv.ReadHeaderTimeout,
		IdleTimeout:       srv.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   srv.ShutdownTimeout,
	}
	if srv.TLSCertFile != "" {
		tlsConfig, err := tlsutil.ServerTLSConfig(srv.TLSCertFile, srv.TLSKeyFile)
		if err != nil {
			return err
		}
		serverConfig.TLSConfig = tlsConfig
	}

	s.httpManager = server.NewManager("http", s.routes(ctx), serverConfig, s.logger)
	// http.Server.Shutdown 不等待被劫持的连接，由这里关闭所有会话
	s.httpManager.RegisterOnShutdown(s.closeSessions)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.forwardErrors(s.httpManager)
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，MetricsPort 为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{Registry: s.promRegistry}))

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:              s.cfg.Server.MetricsAddr(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.forwardErrors(s.metricsManager)
	return nil
}

func (s *Server) forwardErrors(m *server.Manager) {
	go func() {
		if err, ok := <-m.Errors(); ok {
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：停止接入 → 关闭会话 → 撤回渲染排队 → 等待轮次 → 关闭存储与遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.reloader != nil {
		s.reloader.Stop()
	}

	// HTTP 与 Metrics 并行关闭；HTTP 关闭时触发 registry.CloseAll
	var g errgroup.Group
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		g.Go(func() error { return m.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("server shutdown error", zap.Error(err))
	}
	// OnShutdown 回调是异步的，这里保证返回前会话已全部关闭
	s.closeSessions()

	if s.guard != nil {
		s.guard.Close()
	}
	if s.orchestrator != nil {
		if err := s.orchestrator.Shutdown(ctx); err != nil {
			s.logger.Warn("turns did not finish before shutdown deadline", zap.Error(err))
		}
	}

	// 停止 rate limiter 清理、janitor 与引擎初始化
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.wg.Wait()

	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Warn("artifact index close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) closeSessions() {
	if s.registry == nil {
		return
	}
	if n := s.registry.CloseAll(); n > 0 {
		s.logger.Info("sessions closed", zap.Int("count", n))
	}
}

// ensureOutputDir 确保视频输出目录存在，/video 在引擎就绪前也可访问
func ensureOutputDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
