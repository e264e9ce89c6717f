// Package media provides the audio and video plumbing shared by live
// sessions: bounded frame queues, the Opus codec adapter, PCM helpers,
// the video frame sampler, and the WAV tap used for audio debugging.
package media

import (
	"sync"
	"time"
)

// Frame is one unit of media moving through a queue: an encoded Opus
// payload on the RTP side or a PCM chunk on the voice side.
type Frame struct {
	Data       []byte
	Seq        uint16
	ReceivedAt time.Time
}

// FrameQueue is a bounded single-producer/single-consumer ring buffer.
// Push never blocks: when the queue is full the oldest frame is dropped
// and counted. Pop blocks until a frame arrives or the queue is closed.
type FrameQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []Frame
	head    int
	count   int
	dropped uint64
	closed  bool
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &FrameQueue{buf: make([]Frame, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues f, evicting the oldest frame when full. Frames pushed
// after Close are discarded.
func (q *FrameQueue) Push(f Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.count == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.dropped++
	}
	q.buf[(q.head+q.count)%len(q.buf)] = f
	q.count++
	q.cond.Signal()
}

// Pop blocks until a frame is available or the queue is closed. The
// second return value is false once the queue is closed and drained.
func (q *FrameQueue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return f, true
}

// Clear discards all queued frames without counting them as drops.
// Used for barge-in: queued assistant audio is stale once the user
// starts speaking.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.buf {
		q.buf[i] = Frame{}
	}
	q.head = 0
	q.count = 0
}

// Close wakes any blocked Pop. Close is idempotent.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped reports how many frames were evicted by Push since creation.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
