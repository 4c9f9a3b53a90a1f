package gateway

import (
	"sync"

	"github.com/BaSui01/avatarflow/types"
)

// outboundQueue is the session.Sink of one connection. Frames are buffered in
// emission order and drained by the connection's single writer goroutine.
//
// Send never blocks: a full queue marks the connection as overflowed and the
// writer closes it, so a slow client cannot stall the pipeline.
type outboundQueue struct {
	frames   chan types.Event
	done     chan struct{}
	overflow chan struct{}

	closeOnce    sync.Once
	overflowOnce sync.Once
}

func newOutboundQueue(size int) *outboundQueue {
	if size <= 0 {
		size = 64
	}
	return &outboundQueue{
		frames:   make(chan types.Event, size),
		done:     make(chan struct{}),
		overflow: make(chan struct{}),
	}
}

// Send 入队一帧；连接已关闭或队列已满时返回错误
func (q *outboundQueue) Send(ev types.Event) error {
	select {
	case <-q.done:
		return types.NewError(types.ErrSessionClosed, "Connection is closed")
	default:
	}

	select {
	case q.frames <- ev:
		return nil
	case <-q.done:
		return types.NewError(types.ErrSessionClosed, "Connection is closed")
	default:
		q.overflowOnce.Do(func() { close(q.overflow) })
		return types.NewResourceBusyError("Outbound queue is full")
	}
}

// Overflowed is closed once a frame could not be queued.
func (q *outboundQueue) Overflowed() <-chan struct{} { return q.overflow }

// close 之后的 Send 全部失败；已入队的帧仍可被读出
func (q *outboundQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}
