package mjpeg

import (
	"sync"
	"time"
)

// outputQueue carries finished results from the workers to the single
// dispatcher. Producers block while it is full; results are never dropped.
type outputQueue struct {
	mu     sync.Mutex
	items  *ring[EncodeResult]
	closed bool
	freed  chan struct{}

	ready   chan struct{}
	aborted <-chan struct{}
	wait    time.Duration
}

func newOutputQueue(capacity int, wait time.Duration, aborted <-chan struct{}) *outputQueue {
	return &outputQueue{
		items:   newRing[EncodeResult](capacity),
		freed:   make(chan struct{}),
		ready:   make(chan struct{}, 1),
		aborted: aborted,
		wait:    wait,
	}
}

func (q *outputQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Push appends a result, waiting for room as long as it takes.
func (q *outputQueue) Push(res EncodeResult) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrShutdown
		}
		if q.items.push(res) {
			q.mu.Unlock()
			q.signal()
			return nil
		}
		freed := q.freed
		q.mu.Unlock()
		<-freed
	}
}

// Close marks that no more results will be pushed. Pop drains what is left.
func (q *outputQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Pop returns the oldest result. It reports ErrShutdown once the queue is
// closed and empty.
func (q *outputQueue) Pop() (EncodeResult, error) {
	for {
		q.mu.Lock()
		if res, ok := q.items.pop(); ok {
			freed := q.freed
			q.freed = make(chan struct{})
			q.mu.Unlock()
			close(freed)
			return res, nil
		}
		if q.closed {
			q.mu.Unlock()
			return EncodeResult{}, ErrShutdown
		}
		q.mu.Unlock()

		t := time.NewTimer(q.wait)
		select {
		case <-q.ready:
		case <-t.C:
			select {
			case <-q.aborted:
				log.Warn("waiting for encoder")
			default:
			}
		}
		t.Stop()
	}
}

func (q *outputQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}
