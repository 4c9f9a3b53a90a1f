package config

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热更新
// =============================================================================

// ReloadFunc 在新配置通过校验后调用，old 为上一次生效的配置
type ReloadFunc func(old, new *Config)

// Reloader 监听配置文件，变更时重新加载并校验，成功后通知订阅者。
// 校验失败时保留旧配置。只有日志级别、系统提示词这类运行期字段会被订阅者应用，
// 端口和后端地址需要重启。
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadFunc
}

// NewReloader 创建热更新器，loader 必须设置配置文件路径
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "config_reloader"))

	opts = append(opts, WithWatcherLogger(logger))
	watcher, err := NewFileWatcher(loader.ConfigPath(), opts...)
	if err != nil {
		return nil, err
	}

	r := &Reloader{
		loader:  loader,
		watcher: watcher,
		logger:  logger,
		current: initial,
	}
	watcher.OnChange(r.handle)
	return r, nil
}

// OnReload 注册回调
func (r *Reloader) OnReload(fn ReloadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Current 返回当前生效的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Start 开始监听
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop 停止监听
func (r *Reloader) Stop() {
	r.watcher.Stop()
}

// Reload 立即重新加载一次
func (r *Reloader) Reload() error {
	cfg, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = cfg
	callbacks := make([]ReloadFunc, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}
	r.logger.Info("configuration reloaded", zap.String("path", r.loader.ConfigPath()))
	return nil
}

func (r *Reloader) handle(evt FileEvent) {
	if evt.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current configuration", zap.String("path", evt.Path))
		return
	}
	if err := r.Reload(); err != nil {
		r.logger.Error("config reload rejected, keeping current configuration", zap.Error(err))
	}
}
