package pool

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 16})
	defer p.Close()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
}

func TestGoroutinePool_RejectsWhenFull(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	// 一个任务在运行，一个排队，第三个被拒绝
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))
	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(block)
}

func TestGoroutinePool_PassesContext(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1})
	defer p.Close()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	got := make(chan any, 1)
	require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	}))
	assert.Equal(t, "v", <-got)
}

func TestGoroutinePool_PanicRecovered(t *testing.T) {
	var recovered atomic.Value
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   1,
		PanicHandler: func(r any) { recovered.Store(r) },
	})

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	p.Close()

	assert.Equal(t, "boom", recovered.Load())
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_CloseDrainsAndRejects(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 8})

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return errors.New("counted as failed")
		}))
	}
	p.Close()
	p.Close()

	assert.Equal(t, int32(5), done.Load())
	assert.Equal(t, int64(5), p.Stats().Failed)
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_ShutdownTimeout(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1})
	block := make(chan struct{})
	defer close(block)

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func TestGoroutinePool_Retire(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4})

	// 最后一个 worker 不退出
	p.workerCount.Store(1)
	assert.False(t, p.retire())
	assert.Equal(t, int32(1), p.workerCount.Load())

	// 队列为空时退出并扣减计数
	p.workerCount.Store(2)
	assert.True(t, p.retire())
	assert.Equal(t, int32(1), p.workerCount.Load())

	// 扣减后发现积压任务时撤销退出
	p.workerCount.Store(2)
	p.taskQueue <- taskWrapper{task: func(context.Context) error { return nil }, ctx: context.Background()}
	assert.False(t, p.retire())
	assert.Equal(t, int32(2), p.workerCount.Load())
	<-p.taskQueue
}

func TestGoroutinePool_IdleChurnRunsEveryTask(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 8, IdleTimeout: time.Millisecond})
	defer p.Close()

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
				defer wg.Done()
				return nil
			}))
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: queued task was never picked up", round)
		}
		// 让 worker 进入空闲超时窗口
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return p.Stats().Completed == 100 }, time.Second, time.Millisecond)
}

func TestByteBufferPool(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("hello")
	ByteBufferPool.Put(buf)

	again := ByteBufferPool.Get()
	assert.Equal(t, 0, again.Len())
	ByteBufferPool.Put(again)

	big := ByteBufferPool.Get()
	big.Write(bytes.Repeat([]byte{1}, maxPooledBuffer+1))
	ByteBufferPool.Put(big)
	assert.GreaterOrEqual(t, ByteBufferPool.Stats().Gets, int64(3))
}
