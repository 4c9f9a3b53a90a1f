package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/avatarflow/types"
)

func TestBuffer_CommitKeepsOrder(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultMaxEntries, b.MaxEntries())

	b.Commit("hello", "Hi! How can I help?")
	b.Commit("what time is it", "I cannot see a clock.")

	snap := b.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, types.RoleUser, snap[0].Role)
	assert.Equal(t, "hello", snap[0].Content)
	assert.Equal(t, types.RoleAssistant, snap[1].Role)
	assert.Equal(t, "Hi! How can I help?", snap[1].Content)
	assert.Equal(t, "what time is it", snap[2].Content)
	assert.Equal(t, "I cannot see a clock.", snap[3].Content)
}

func TestBuffer_TrimDropsFromFront(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 7; i++ {
		b.Append(types.RoleUser, fmt.Sprintf("m%d", i))
	}
	b.Trim(3)

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "m4", snap[0].Content)
	assert.Equal(t, "m5", snap[1].Content)
	assert.Equal(t, "m6", snap[2].Content)

	b.Trim(-1)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_TrimAboveCap(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i < 25; i++ {
		b.Append(types.RoleUser, fmt.Sprintf("m%d", i))
	}

	assert.NotPanics(t, func() { b.Trim(20) })
	snap := b.Snapshot()
	require.Len(t, snap, 20)
	assert.Equal(t, "m5", snap[0].Content)
	assert.Equal(t, "m24", snap[19].Content)

	// 之后的 Commit 仍按配置上限裁剪
	b.Commit("u", "a")
	assert.Equal(t, 10, b.Len())
}

func TestBuffer_SnapshotIsCopy(t *testing.T) {
	b := NewBuffer(10)
	b.Commit("a", "b")

	snap := b.Snapshot()
	snap[0].Content = "mutated"

	assert.Equal(t, "a", b.Snapshot()[0].Content)
}

// 属性：任意轮次提交后长度不超过上限，且保留的是最近的条目
func TestBuffer_CapProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(2, 20).Draw(rt, "limit")
		turns := rapid.IntRange(0, 40).Draw(rt, "turns")

		b := NewBuffer(limit)
		var all []string
		for i := 0; i < turns; i++ {
			u := fmt.Sprintf("u%d", i)
			a := fmt.Sprintf("a%d", i)
			b.Commit(u, a)
			all = append(all, u, a)

			if b.Len() > limit {
				rt.Fatalf("buffer length %d exceeds limit %d", b.Len(), limit)
			}
		}

		snap := b.Snapshot()
		want := all
		if len(want) > limit {
			want = want[len(want)-limit:]
		}
		if len(snap) != len(want) {
			rt.Fatalf("expected %d entries, got %d", len(want), len(snap))
		}
		for i := range want {
			if snap[i].Content != want[i] {
				rt.Fatalf("entry %d: expected %q, got %q", i, want[i], snap[i].Content)
			}
		}
	})
}
