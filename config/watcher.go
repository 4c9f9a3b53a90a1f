// 配置文件变更监听器。
//
// 轮询文件修改时间，防抖后触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher 监听单个配置文件
type FileWatcher struct {
	mu sync.Mutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	callbacks     []func(FileEvent)
	logger        *zap.Logger

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher 创建文件监听器，文件不存在时等待其被创建
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	w := &FileWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("Config file does not exist, will watch for creation",
			zap.String("path", path))
	}
	return w, nil
}

// OnChange 注册变更回调
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始监听，ctx 取消或 Stop 后退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	var lastMod time.Time
	exists := false
	if info, err := os.Stat(w.path); err == nil {
		lastMod, exists = info.ModTime(), true
	}

	go w.loop(ctx, lastMod, exists)

	w.logger.Info("File watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监听并等待循环退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("File watcher stopped")
}

// IsRunning 是否正在监听
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Path 返回监听的文件路径
func (w *FileWatcher) Path() string {
	return w.path
}

// loop 轮询与防抖都在同一个 goroutine 内完成
func (w *FileWatcher) loop(ctx context.Context, lastMod time.Time, exists bool) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		debounce <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			evt, ok := w.check(&lastMod, &exists)
			if !ok {
				continue
			}
			pending = &evt
			debounce = time.After(w.debounceDelay)
		case <-debounce:
			debounce = nil
			if pending != nil {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

// check 比较修改时间，返回是否产生事件
func (w *FileWatcher) check(lastMod *time.Time, exists *bool) (FileEvent, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && *exists {
			*exists = false
			return FileEvent{Path: w.path, Op: FileOpRemove, Timestamp: time.Now()}, true
		}
		return FileEvent{}, false
	}

	if !*exists {
		*exists = true
		*lastMod = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpCreate, Timestamp: time.Now()}, true
	}
	if info.ModTime().After(*lastMod) {
		*lastMod = info.ModTime()
		return FileEvent{Path: w.path, Op: FileOpWrite, Timestamp: time.Now()}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("Dispatching file event",
		zap.String("path", evt.Path),
		zap.String("op", evt.Op.String()))

	for _, cb := range callbacks {
		cb(evt)
	}
}
