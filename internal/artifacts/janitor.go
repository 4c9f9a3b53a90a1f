package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🧹 输出目录清理
// =============================================================================

// SweepObserver 接收每轮清理删除的文件数
type SweepObserver interface {
	RecordArtifactsSwept(n int)
}

// Janitor 删除索引中已不存在且足够旧的视频文件
type Janitor struct {
	dir       string
	index     Index
	retention time.Duration
	interval  time.Duration
	observer  SweepObserver
	logger    *zap.Logger
	now       func() time.Time
}

// NewJanitor 创建清理器，retention <= 0 时 Run 直接返回
func NewJanitor(dir string, index Index, retention, interval time.Duration, observer SweepObserver, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Janitor{
		dir:       dir,
		index:     index,
		retention: retention,
		interval:  interval,
		observer:  observer,
		logger:    logger.With(zap.String("component", "artifact_janitor")),
		now:       time.Now,
	}
}

// Run 周期清理直到 ctx 取消
func (j *Janitor) Run(ctx context.Context) {
	if j.retention <= 0 {
		j.logger.Info("artifact retention disabled, janitor not started")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Warn("artifact sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 扫描一次输出目录，返回删除的文件数。
// 文件在索引中仍有记录时保留；没有记录且修改时间早于保留期时删除，
// 这样重启后内存索引丢失的旧文件也会被清理。
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	if mem, ok := j.index.(*MemoryIndex); ok {
		mem.Prune()
	}

	cutoff := j.now().Add(-j.retention)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		_, err = j.index.Get(ctx, entry.Name())
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			// 索引不可用时不删除任何文件
			return removed, err
		}

		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("failed to remove expired video", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("expired videos removed", zap.Int("count", removed))
	}
	if j.observer != nil {
		j.observer.RecordArtifactsSwept(removed)
	}
	return removed, nil
}
