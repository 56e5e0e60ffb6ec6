package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/buffers"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/jpegenc"
)

var (
	ErrUnsupportedFormat = errors.New("simulator: only YUV420 is supported")
	ErrBadIndex          = errors.New("simulator: buffer index out of range")
	ErrBufferQueued      = errors.New("simulator: buffer already queued")
	ErrNoBuffers         = errors.New("simulator: format not set")
)

// Simulator is an in-process capture Device that paints moving colour bars
// into memory-mapped YUV 4:2:0 buffers. Only buffers queued back to it are
// refilled.
type Simulator struct {
	count int

	mu        sync.Mutex
	format    Format
	fps       int
	set       *buffers.Set
	queued    []int
	owned     []bool
	streaming bool
	frames    uint64
	starved   uint64
}

// NewSimulator returns a simulator with count capture buffers at 30 fps.
func NewSimulator(count int) *Simulator {
	return &Simulator{count: count, fps: 30}
}

func (s *Simulator) SetFormat(f *Format) error {
	if f.PixelFormat != PixFmtYUV420 {
		return fmt.Errorf("%w: got %s", ErrUnsupportedFormat, f.PixelFormat)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return ErrStreaming
	}

	f.Width &^= 1
	f.Height &^= 1
	if f.Width < 2 || f.Height < 2 {
		return fmt.Errorf("simulator: frame %dx%d too small", f.Width, f.Height)
	}
	f.BytesPerLine = f.Width

	if s.set != nil {
		s.set.Close()
		s.set = nil
	}
	set, err := buffers.Alloc(s.count, jpegenc.FrameSize(f.Height, f.BytesPerLine))
	if err != nil {
		return err
	}
	s.set = set
	s.format = *f
	s.owned = make([]bool, s.count)
	s.queued = s.queued[:0]
	return nil
}

func (s *Simulator) SetFrameRate(fps int) error {
	if fps <= 0 {
		return fmt.Errorf("simulator: invalid frame rate %d", fps)
	}
	s.mu.Lock()
	s.fps = fps
	s.mu.Unlock()
	return nil
}

// QueueBuffer hands buffer index back for refilling.
func (s *Simulator) QueueBuffer(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return ErrNoBuffers
	}
	if index < 0 || index >= s.set.Len() {
		return fmt.Errorf("%w: %d", ErrBadIndex, index)
	}
	if s.owned[index] {
		return fmt.Errorf("%w: %d", ErrBufferQueued, index)
	}
	s.owned[index] = true
	s.queued = append(s.queued, index)
	return nil
}

func (s *Simulator) Buffers() int {
	return s.count
}

func (s *Simulator) StreamOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return ErrNoBuffers
	}
	s.streaming = true
	return nil
}

// StreamOff stops producing frames and reclaims every queued buffer.
func (s *Simulator) StreamOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	s.queued = s.queued[:0]
	clear(s.owned)
	return nil
}

// Close releases the buffer memory.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		return nil
	}
	err := s.set.Close()
	s.set = nil
	return err
}

// Frames returns how many frames were produced.
func (s *Simulator) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Starved returns how many frame ticks found no queued buffer.
func (s *Simulator) Starved() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starved
}

// Run produces frames at the configured rate and passes each one to deliver
// until ctx ends.
func (s *Simulator) Run(ctx context.Context, deliver func(Buffer)) error {
	s.mu.Lock()
	interval := time.Second / time.Duration(s.fps)
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if buf, ok := s.next(); ok {
			deliver(buf)
		}
	}
}

// next dequeues and paints one buffer.
func (s *Simulator) next() (Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return Buffer{}, false
	}
	if len(s.queued) == 0 {
		s.starved++
		return Buffer{}, false
	}
	index := s.queued[0]
	s.queued = s.queued[1:]
	s.owned[index] = false

	mem := s.set.Buffer(index)
	paintBars(mem, s.format.Width, s.format.Height, s.format.BytesPerLine, int(s.frames))
	s.frames++
	return Buffer{Index: index, Mem: mem, BytesUsed: len(mem)}, true
}

// BT.601 white, yellow, cyan, green, magenta, red, blue, black.
var barColours = [8][3]byte{
	{235, 128, 128},
	{210, 16, 146},
	{170, 166, 16},
	{145, 54, 34},
	{106, 202, 222},
	{81, 90, 240},
	{41, 240, 110},
	{16, 128, 128},
}

func paintBars(mem []byte, width, height, stride, shift int) {
	cStride := stride / 2
	ySize := stride * height
	cSize := cStride * (height / 2)
	yPlane := mem[:ySize]
	cbPlane := mem[ySize : ySize+cSize]
	crPlane := mem[ySize+cSize : ySize+2*cSize]

	bar := func(x int) [3]byte {
		return barColours[((x+shift)*len(barColours)/width)%len(barColours)]
	}
	for y := 0; y < height; y++ {
		row := yPlane[y*stride:]
		for x := 0; x < width; x++ {
			row[x] = bar(x)[0]
		}
	}
	for y := 0; y < height/2; y++ {
		cb := cbPlane[y*cStride:]
		cr := crPlane[y*cStride:]
		for x := 0; x < width/2; x++ {
			c := bar(2 * x)
			cb[x], cr[x] = c[1], c[2]
		}
	}
}
