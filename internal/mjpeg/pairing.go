package mjpeg

import (
	"sync"
	"time"
)

// pairQueue holds unmatched capture frames and destination slots. Both rings
// share one lock so a pairing removes the two heads atomically.
type pairQueue struct {
	mu       sync.Mutex
	captures *ring[CaptureFrame]
	dests    *ring[DestinationSlot]
	seq      uint64
	// freed is closed and replaced whenever a pairing frees one slot on each
	// side; blocked producers wait on the instance they saw while full.
	freed chan struct{}

	// ready holds at most one wake token for an idle worker.
	ready chan struct{}
	done  <-chan struct{}
	wait  time.Duration
}

func newPairQueue(capacity int, wait time.Duration, done <-chan struct{}) *pairQueue {
	return &pairQueue{
		captures: newRing[CaptureFrame](capacity),
		dests:    newRing[DestinationSlot](capacity),
		freed:    make(chan struct{}),
		ready:    make(chan struct{}, 1),
		done:     done,
		wait:     wait,
	}
}

// pairable reports whether both heads are present. Callers hold mu.
func (q *pairQueue) pairable() bool {
	return !q.captures.empty() && !q.dests.empty()
}

func (q *pairQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *pairQueue) PushCapture(f CaptureFrame, timeout time.Duration) error {
	return q.push(timeout, func() bool { return q.captures.push(f) })
}

func (q *pairQueue) PushDestination(d DestinationSlot, timeout time.Duration) error {
	return q.push(timeout, func() bool { return q.dests.push(d) })
}

// push appends at the tail, waiting up to timeout for room. A consumer is
// woken only when the other side already holds an item.
func (q *pairQueue) push(timeout time.Duration, insert func() bool) error {
	var deadline <-chan time.Time
	for {
		select {
		case <-q.done:
			return ErrAborted
		default:
		}

		q.mu.Lock()
		if insert() {
			wake := q.pairable()
			q.mu.Unlock()
			if wake {
				q.signal()
			}
			return nil
		}
		freed := q.freed
		q.mu.Unlock()

		if timeout <= 0 {
			return ErrQueueFull
		}
		if deadline == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-freed:
		case <-q.done:
			return ErrAborted
		case <-deadline:
			return ErrQueueFull
		}
	}
}

// recycleDestination returns a slot without waiting. It reports false when
// the destination ring is full.
func (q *pairQueue) recycleDestination(d DestinationSlot) bool {
	q.mu.Lock()
	ok := q.dests.push(d)
	wake := ok && q.pairable()
	q.mu.Unlock()
	if wake {
		q.signal()
	}
	return ok
}

// TryPair removes the head capture and head destination together.
func (q *pairQueue) TryPair() (pairing, bool) {
	q.mu.Lock()
	if !q.pairable() {
		q.mu.Unlock()
		return pairing{}, false
	}
	f, _ := q.captures.pop()
	d, _ := q.dests.pop()
	p := pairing{seq: q.seq, capture: f, dest: d}
	q.seq++
	more := q.pairable()
	freed := q.freed
	q.freed = make(chan struct{})
	q.mu.Unlock()

	close(freed)
	if more {
		q.signal()
	}
	return p, true
}

// AwaitPair blocks until a pair is available. Each wait is bounded by the
// wait interval so both sides are re-checked even without a wake. Once the
// queue is aborted it keeps handing out remaining pairs and then reports
// ErrShutdown.
func (q *pairQueue) AwaitPair() (pairing, error) {
	for {
		if p, ok := q.TryPair(); ok {
			return p, nil
		}
		select {
		case <-q.done:
			if p, ok := q.TryPair(); ok {
				return p, nil
			}
			return pairing{}, ErrShutdown
		default:
		}

		t := time.NewTimer(q.wait)
		select {
		case <-q.ready:
		case <-q.done:
		case <-t.C:
		}
		t.Stop()
	}
}

func (q *pairQueue) depth() (captures, dests int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.captures.len(), q.dests.len()
}

// drain empties both sides and returns what was left unpaired.
func (q *pairQueue) drain() ([]CaptureFrame, []DestinationSlot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.captures.drain(), q.dests.drain()
}
