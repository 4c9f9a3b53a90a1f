// Package history 提供单个会话的有界对话缓冲区。
package history

import (
	"sync"

	"github.com/BaSui01/avatarflow/types"
)

// DefaultMaxEntries 保留最近 5 轮 user/assistant 对话
const DefaultMaxEntries = 10

// Buffer is an ordered, front-evicting log of committed conversation entries.
//
// Each Buffer belongs to exactly one session. The mutex only protects against
// readers such as the stats endpoint observing a commit in progress.
type Buffer struct {
	mu         sync.RWMutex
	entries    []types.Message
	maxEntries int
}

// NewBuffer creates a buffer capped at maxEntries (DefaultMaxEntries when <= 0).
func NewBuffer(maxEntries int) *Buffer {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Buffer{
		entries:    make([]types.Message, 0, maxEntries+2),
		maxEntries: maxEntries,
	}
}

// Append adds one entry at the tail. It does not trim.
func (b *Buffer) Append(role types.Role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, types.NewMessage(role, content))
}

// Commit appends a completed user/assistant pair and trims to the cap in one step.
func (b *Buffer) Commit(userText, replyText string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries,
		types.NewUserMessage(userText),
		types.NewAssistantMessage(replyText),
	)
	b.trimLocked(b.maxEntries)
}

// Snapshot returns a copy of the entries in insertion order.
func (b *Buffer) Snapshot() []types.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Message, len(b.entries))
	copy(out, b.entries)
	return out
}

// Trim drops entries from the front until at most maxEntries remain.
func (b *Buffer) Trim(maxEntries int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimLocked(maxEntries)
}

func (b *Buffer) trimLocked(maxEntries int) {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if over := len(b.entries) - maxEntries; over > 0 {
		// 复制到新切片，避免底层数组无限增长
		kept := make([]types.Message, maxEntries, max(maxEntries, b.maxEntries)+2)
		copy(kept, b.entries[over:])
		b.entries = kept
	}
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// MaxEntries returns the configured cap.
func (b *Buffer) MaxEntries() int {
	return b.maxEntries
}
