package buffers

import (
	"errors"
	"runtime"
	"testing"
)

func TestAllocSizesAndIndependence(t *testing.T) {
	s, err := Alloc(3, 4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer s.Close()

	if s.Len() != 3 || s.Size() != 4096 {
		t.Fatalf("Len/Size = %d/%d, want 3/4096", s.Len(), s.Size())
	}
	for i := 0; i < s.Len(); i++ {
		b := s.Buffer(i)
		if len(b) != 4096 {
			t.Fatalf("buffer %d len = %d, want 4096", i, len(b))
		}
		b[0] = byte(i + 1)
		b[len(b)-1] = byte(i + 1)
	}
	for i := 0; i < s.Len(); i++ {
		if got := s.Buffer(i)[0]; got != byte(i+1) {
			t.Fatalf("buffer %d overwritten: first byte %d", i, got)
		}
	}
	if want := runtime.GOOS == "linux"; s.Mapped() != want {
		t.Fatalf("Mapped = %v, want %v", s.Mapped(), want)
	}
}

func TestAllocRejectsBadSizes(t *testing.T) {
	if _, err := Alloc(0, 10); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("Alloc(0,10) = %v, want ErrInvalidSize", err)
	}
	if _, err := Alloc(2, -1); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("Alloc(2,-1) = %v, want ErrInvalidSize", err)
	}
}

func TestCloseTwice(t *testing.T) {
	s, err := Alloc(1, 100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
}
