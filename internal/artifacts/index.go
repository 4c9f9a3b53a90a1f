package artifacts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound 索引中没有该文件的记录（从未记录或已过期）
var ErrNotFound = errors.New("artifact not found")

// Record 一个已交付视频的索引记录
type Record struct {
	Filename  string    `json:"filename"`
	SessionID string    `json:"session_id"`
	TurnID    uint64    `json:"turn_id"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Index 视频产物索引
type Index interface {
	// Put 记录一个视频，保留期由实现决定
	Put(ctx context.Context, rec Record) error
	// Get 返回未过期的记录，否则返回 ErrNotFound
	Get(ctx context.Context, filename string) (*Record, error)
	// Delete 删除记录，不存在时不报错
	Delete(ctx context.Context, filename string) error
	// Count 返回未过期记录数
	Count(ctx context.Context) (int, error)
	// Ping 检查后端可用性
	Ping(ctx context.Context) error
	// Close 释放资源
	Close() error
}

// =============================================================================
// 🧠 内存索引
// =============================================================================

// MemoryIndex 进程内索引，过期记录在读取或 Prune 时淘汰
type MemoryIndex struct {
	mu        sync.RWMutex
	records   map[string]Record
	retention time.Duration
	now       func() time.Time
}

// NewMemoryIndex 创建内存索引，retention <= 0 表示永不过期
func NewMemoryIndex(retention time.Duration) *MemoryIndex {
	return &MemoryIndex{
		records:   make(map[string]Record),
		retention: retention,
		now:       time.Now,
	}
}

func (m *MemoryIndex) expired(rec Record, now time.Time) bool {
	return m.retention > 0 && now.Sub(rec.CreatedAt) >= m.retention
}

// Put 记录视频
func (m *MemoryIndex) Put(_ context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.records[rec.Filename] = rec
	m.mu.Unlock()
	return nil
}

// Get 获取记录
func (m *MemoryIndex) Get(_ context.Context, filename string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.records[filename]
	m.mu.RUnlock()
	if !ok || m.expired(rec, m.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Delete 删除记录
func (m *MemoryIndex) Delete(_ context.Context, filename string) error {
	m.mu.Lock()
	delete(m.records, filename)
	m.mu.Unlock()
	return nil
}

// Count 未过期记录数
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if !m.expired(rec, now) {
			n++
		}
	}
	return n, nil
}

// Prune 删除过期记录，返回被删除的文件名（按名称排序）
func (m *MemoryIndex) Prune() []string {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for name, rec := range m.records {
		if m.expired(rec, now) {
			delete(m.records, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Ping 内存索引始终可用
func (m *MemoryIndex) Ping(context.Context) error { return nil }

// Close 无资源需要释放
func (m *MemoryIndex) Close() error { return nil }
