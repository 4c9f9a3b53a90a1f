package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/avatarflow/types"
)

type countingObserver struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (o *countingObserver) RecordSessionOpened() { o.opened.Add(1) }
func (o *countingObserver) RecordSessionClosed(time.Duration) { o.closed.Add(1) }

func TestRegistry_CreateLookupRemove(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(RegistryOptions{HistoryLimit: 4, Observer: obs}, zap.NewNop())

	s := r.Create(context.Background(), &recordingSink{})
	assert.True(t, strings.HasPrefix(s.ID(), "session_"))
	assert.Equal(t, 4, s.History().MaxEntries())
	assert.Equal(t, 1, r.Count())

	got, err := r.Lookup(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.True(t, r.Remove(s.ID()))
	assert.True(t, s.Closed())
	assert.Equal(t, 0, r.Count())

	_, err = r.Lookup(s.ID())
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	// 重复删除是 no-op
	assert.False(t, r.Remove(s.ID()))
	assert.False(t, r.Remove("session_unknown"))

	assert.Equal(t, int32(1), obs.opened.Load())
	assert.Equal(t, int32(1), obs.closed.Load())
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := NewRegistry(RegistryOptions{}, nil)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := r.Create(context.Background(), &recordingSink{})
		require.False(t, seen[s.ID()], "duplicate id %s", s.ID())
		seen[s.ID()] = true
	}
}

func TestRegistry_ConcurrentCreateRemove(t *testing.T) {
	r := NewRegistry(RegistryOptions{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Create(context.Background(), &recordingSink{})
			// 断开与清理路径竞争删除
			var inner sync.WaitGroup
			for j := 0; j < 3; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					r.Remove(s.ID())
				}()
			}
			inner.Wait()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CloseAllAndList(t *testing.T) {
	r := NewRegistry(RegistryOptions{}, nil)
	a := r.Create(context.Background(), &recordingSink{})
	time.Sleep(time.Millisecond)
	b := r.Create(context.Background(), &recordingSink{})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID)
	assert.Equal(t, b.ID(), list[1].ID)

	assert.Equal(t, 2, r.CloseAll())
	assert.Equal(t, 0, r.Count())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}

func TestRegistry_ParentCancellationPropagates(t *testing.T) {
	r := NewRegistry(RegistryOptions{}, nil)
	parent, cancel := context.WithCancel(context.Background())
	s := r.Create(parent, &recordingSink{})

	cancel()
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("session context not cancelled")
	}
}
