package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 MemoryIndex 测试
// =============================================================================

func TestMemoryIndex_PutGet(t *testing.T) {
	idx := NewMemoryIndex(time.Hour)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, Record{Filename: "a.mp4", SessionID: "s1", TurnID: 1}))

	rec, err := idx.Get(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = idx.Get(ctx, "missing.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, idx.Delete(ctx, "a.mp4"))
	require.NoError(t, idx.Delete(ctx, "a.mp4"))
	_, err = idx.Get(ctx, "a.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIndex_Expiry(t *testing.T) {
	idx := NewMemoryIndex(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, Record{Filename: "old.mp4", CreatedAt: now.Add(-2 * time.Minute)}))
	require.NoError(t, idx.Put(ctx, Record{Filename: "new.mp4"}))

	_, err := idx.Get(ctx, "old.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	n, _ := idx.Count(ctx)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{"old.mp4"}, idx.Prune())
	assert.Empty(t, idx.Prune())
}

// =============================================================================
// 🧪 RedisIndex 测试
// =============================================================================

func setupTestRedis(t *testing.T, retention time.Duration) (*miniredis.Miniredis, *RedisIndex) {
	t.Helper()
	mr := miniredis.RunT(t)

	idx, err := NewRedisIndex(RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "test:video:",
		Retention: retention,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return mr, idx
}

func TestNewRedisIndex_ConnectionFailure(t *testing.T) {
	_, err := NewRedisIndex(RedisConfig{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestRedisIndex_PutGet(t *testing.T) {
	mr, idx := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	rec := Record{Filename: "avatar_1.mp4", SessionID: "s1", TurnID: 3, Size: 42}
	require.NoError(t, idx.Put(ctx, rec))

	assert.True(t, mr.Exists("test:video:avatar_1.mp4"))
	assert.Equal(t, time.Hour, mr.TTL("test:video:avatar_1.mp4"))

	got, err := idx.Get(ctx, "avatar_1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, uint64(3), got.TurnID)
	assert.Equal(t, int64(42), got.Size)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisIndex_TTLExpiry(t *testing.T) {
	mr, idx := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, Record{Filename: "a.mp4"}))
	mr.FastForward(2 * time.Minute)

	_, err := idx.Get(ctx, "a.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIndex_DeleteAndClose(t *testing.T) {
	_, idx := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, Record{Filename: "a.mp4"}))
	require.NoError(t, idx.Delete(ctx, "a.mp4"))
	_, err := idx.Get(ctx, "a.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idx.Ping(ctx))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
	assert.Error(t, idx.Ping(ctx))
	assert.Error(t, idx.Put(ctx, Record{Filename: "b.mp4"}))
}

func TestRedisIndex_BackendError(t *testing.T) {
	mr, idx := setupTestRedis(t, time.Hour)
	mr.SetError("READONLY")

	err := idx.Put(context.Background(), Record{Filename: "a.mp4"})
	assert.Error(t, err)
	_, err = idx.Get(context.Background(), "a.mp4")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// 🧪 Janitor 测试
// =============================================================================

type sweepCounter struct{ total int }

func (s *sweepCounter) RecordArtifactsSwept(n int) { s.total += n }

func writeVideo(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0644))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestJanitor_Sweep(t *testing.T) {
	dir := t.TempDir()
	idx := NewMemoryIndex(time.Hour)
	ctx := context.Background()

	writeVideo(t, dir, "fresh.mp4", time.Minute)   // 太新
	writeVideo(t, dir, "indexed.mp4", 2*time.Hour) // 仍在索引中
	writeVideo(t, dir, "orphan.mp4", 2*time.Hour)  // 无记录且过旧
	writeVideo(t, dir, "notes.txt", 2*time.Hour)   // 非视频
	require.NoError(t, idx.Put(ctx, Record{Filename: "indexed.mp4"}))

	obs := &sweepCounter{}
	j := NewJanitor(dir, idx, time.Hour, time.Minute, obs, zap.NewNop())

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, obs.total)

	assert.FileExists(t, filepath.Join(dir, "fresh.mp4"))
	assert.FileExists(t, filepath.Join(dir, "indexed.mp4"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "orphan.mp4"))
}

func TestJanitor_SweepMissingDir(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "nope"), NewMemoryIndex(time.Hour), time.Hour, 0, nil, nil)
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJanitor_IndexUnavailableKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	mr, idx := setupTestRedis(t, time.Hour)
	writeVideo(t, dir, "orphan.mp4", 2*time.Hour)
	mr.SetError("LOADING")

	j := NewJanitor(dir, idx, time.Hour, time.Minute, nil, nil)
	_, err := j.Sweep(context.Background())
	assert.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "orphan.mp4"))
}

func TestJanitor_RunDisabled(t *testing.T) {
	j := NewJanitor(t.TempDir(), NewMemoryIndex(0), 0, time.Millisecond, nil, nil)
	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when retention is disabled")
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	j := NewJanitor(t.TempDir(), NewMemoryIndex(time.Hour), time.Hour, 5*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
