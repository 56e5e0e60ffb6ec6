// Package buffers allocates fixed sets of equally sized frame buffers that
// are reused in place for the life of a stream.
package buffers

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidSize = errors.New("buffers: count and size must be positive")
	ErrClosed      = errors.New("buffers: set closed")
)

// Set is a fixed group of buffers indexed from zero.
type Set struct {
	mu     sync.Mutex
	bufs   [][]byte
	size   int
	mapped bool
	closed bool
}

// Alloc returns count buffers of size bytes each. On Linux the buffers are
// anonymous shared mappings, like driver-exported capture memory; elsewhere
// they are ordinary heap slices.
func Alloc(count, size int) (*Set, error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("%w: count=%d size=%d", ErrInvalidSize, count, size)
	}
	s := &Set{bufs: make([][]byte, 0, count), size: size}
	for i := 0; i < count; i++ {
		b, mapped, err := allocOne(size)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("allocate buffer %d of %d bytes: %w", i, size, err)
		}
		s.mapped = mapped
		s.bufs = append(s.bufs, b)
	}
	return s, nil
}

// Buffer returns buffer i. It panics when i is out of range.
func (s *Set) Buffer(i int) []byte {
	return s.bufs[i]
}

// Len returns the number of buffers.
func (s *Set) Len() int {
	return len(s.bufs)
}

// Size returns the size of each buffer in bytes.
func (s *Set) Size() int {
	return s.size
}

// Mapped reports whether the buffers are memory mappings.
func (s *Set) Mapped() bool {
	return s.mapped
}

// Close releases every buffer. Buffers must not be used afterwards.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	var errs []error
	for i, b := range s.bufs {
		if err := freeOne(b, s.mapped); err != nil {
			errs = append(errs, fmt.Errorf("free buffer %d: %w", i, err))
		}
	}
	s.bufs = nil
	return errors.Join(errs...)
}
