package mjpeg

// ring is a fixed-capacity FIFO. It is not synchronized; owners guard it with
// their own lock. A full ring rejects pushes instead of overwriting.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) bool {
	if r.size == len(r.items) {
		return false
	}
	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return true
}

func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

func (r *ring[T]) len() int    { return r.size }
func (r *ring[T]) empty() bool { return r.size == 0 }
func (r *ring[T]) full() bool  { return r.size == len(r.items) }

// drain removes and returns every queued item in FIFO order.
func (r *ring[T]) drain() []T {
	out := make([]T, 0, r.size)
	for {
		v, ok := r.pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (r *ring[T]) reset() {
	clear(r.items)
	r.head, r.size = 0, 0
}
