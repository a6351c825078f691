package bus

import (
	"sync/atomic"
	"time"

	"main/internal/model"
	"main/pkg/exception"
)

const defaultCapacity = 65536

// Queue is a concurrency-safe FIFO of message envelopes bridging every
// stream callback to exactly one consumer. It is bounded: a full queue
// blocks producers instead of dropping data or growing without bound.
type Queue struct {
	ch     chan model.Envelope
	done   chan struct{}
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		ch:   make(chan model.Envelope, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues an envelope, stamping its arrival time if unset. It blocks
// while the queue is full and fails once the queue is closed.
func (q *Queue) Push(e model.Envelope) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	if e.ReceivedAt == 0 {
		e.ReceivedAt = time.Now().UnixMilli()
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.done:
		return exception.ErrQueueClosed
	}
}

// Pop dequeues the next envelope, blocking up to timeout. It keeps draining
// buffered envelopes after Close and only then reports ErrQueueClosed.
func (q *Queue) Pop(timeout time.Duration) (model.Envelope, error) {
	select {
	case e := <-q.ch:
		return e, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-q.ch:
		return e, nil
	case <-q.done:
		select {
		case e := <-q.ch:
			return e, nil
		default:
			return model.Envelope{}, exception.ErrQueueClosed
		}
	case <-timer.C:
		return model.Envelope{}, exception.ErrDequeueTimeout
	}
}

// Close stops the queue from accepting new envelopes. Idempotent.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.done)
	}
}

// Len returns the number of buffered envelopes.
func (q *Queue) Len() int {
	return len(q.ch)
}
