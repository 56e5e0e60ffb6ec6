package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/health"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/jpegenc"
)

type fakeDevice struct {
	mu       sync.Mutex
	requeued []int
	fail     error
	onQueue  func(index int)
}

func (d *fakeDevice) QueueBuffer(index int) error {
	d.mu.Lock()
	d.requeued = append(d.requeued, index)
	fail, hook := d.fail, d.onQueue
	d.mu.Unlock()
	if hook != nil {
		hook(index)
	}
	return fail
}

func (d *fakeDevice) Requeued() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.requeued...)
}

type recorder struct {
	mu      sync.Mutex
	results []EncodeResult
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) complete(res EncodeResult) {
	r.mu.Lock()
	res.Data = append([]byte(nil), res.Data...)
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) Results() []EncodeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EncodeResult(nil), r.results...)
}

func (r *recorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for got := 0; got < n; got++ {
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("got %d callbacks, want %d", got, n)
		}
	}
}

func yuvFrame(width, height int, fill func(plane []byte)) []byte {
	buf := make([]byte, jpegenc.FrameSize(height, width))
	for i := range buf {
		buf[i] = 128
	}
	if fill != nil {
		fill(buf)
	}
	return buf
}

func newTestEncoder(t *testing.T, cfg Config) *Encoder {
	t.Helper()
	cfg.WaitInterval = 20 * time.Millisecond
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func stop(t *testing.T, e *Encoder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSingleFrameScenario(t *testing.T) {
	e := newTestEncoder(t, Config{})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev := &fakeDevice{}
	dst := make([]byte, jpegenc.DestinationSize(16, 16))
	if err := e.EnqueueDestination(DestinationSlot{Index: 0, Mem: dst}); err != nil {
		t.Fatalf("EnqueueDestination: %v", err)
	}
	frame := CaptureFrame{Index: 0, Mem: yuvFrame(16, 16, nil), Width: 16, Height: 16, Origin: Origin{Context: "ctx", Device: dev}}
	if err := e.EnqueueCapture(frame); err != nil {
		t.Fatalf("EnqueueCapture: %v", err)
	}

	rec.waitFor(t, 1)
	stop(t, e)

	res := rec.Results()
	if len(res) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(res))
	}
	if res[0].SinkIndex != 0 || res[0].BytesUsed <= 0 {
		t.Fatalf("result = sink %d bytes %d, want sink 0 bytes > 0", res[0].SinkIndex, res[0].BytesUsed)
	}
	if res[0].Origin.Context != "ctx" {
		t.Fatalf("context = %v, want ctx", res[0].Origin.Context)
	}
	if got := dev.Requeued(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("requeued = %v, want [0]", got)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res[0].Data)); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestCapturesWaitForDestinations(t *testing.T) {
	e := newTestEncoder(t, Config{})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, e)

	dev := &fakeDevice{}
	for i := 0; i < 3; i++ {
		f := CaptureFrame{Index: i, Mem: yuvFrame(32, 32, nil), Width: 32, Height: 32, Origin: Origin{Device: dev}}
		if err := e.EnqueueCapture(f); err != nil {
			t.Fatalf("EnqueueCapture %d: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(rec.Results()); n != 0 {
		t.Fatalf("callbacks before any destination = %d, want 0", n)
	}
	if d := e.Pending(); d.Captures != 3 {
		t.Fatalf("pending captures = %d, want 3", d.Captures)
	}

	for i := 0; i < 3; i++ {
		slot := DestinationSlot{Index: 10 + i, Mem: make([]byte, jpegenc.DestinationSize(32, 32))}
		if err := e.EnqueueDestination(slot); err != nil {
			t.Fatalf("EnqueueDestination %d: %v", i, err)
		}
	}
	rec.waitFor(t, 3)

	for _, r := range rec.Results() {
		if r.SinkIndex != r.SourceIndex+10 {
			t.Fatalf("capture %d paired with sink %d, want %d", r.SourceIndex, r.SinkIndex, r.SourceIndex+10)
		}
		if r.Sequence != uint64(r.SourceIndex) {
			t.Fatalf("capture %d got sequence %d", r.SourceIndex, r.Sequence)
		}
	}
}

func TestInFlightFrameDeliveredAfterAbort(t *testing.T) {
	e := newTestEncoder(t, Config{Workers: 1})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const w, h = 1280, 720
	rng := rand.New(rand.NewSource(1))
	src := yuvFrame(w, h, func(p []byte) { rng.Read(p) })
	dev := &fakeDevice{}
	e.EnqueueDestination(DestinationSlot{Index: 3, Mem: make([]byte, jpegenc.DestinationSize(w, h))})
	e.EnqueueCapture(CaptureFrame{Index: 5, Mem: src, Width: w, Height: h, Origin: Origin{Device: dev}})

	deadline := time.Now().Add(2 * time.Second)
	for e.Pending().Captures != 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame never picked up by a worker")
		}
		time.Sleep(time.Millisecond)
	}
	stop(t, e)

	res := rec.Results()
	if len(res) != 1 || res[0].SinkIndex != 3 {
		t.Fatalf("results after abort = %+v, want one frame for sink 3", res)
	}
	if got := dev.Requeued(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("requeued = %v, want [5]", got)
	}
}

func TestNoDoubleDispatchUnderLoad(t *testing.T) {
	e := newTestEncoder(t, Config{})
	const (
		w, h    = 64, 48
		buffers = 6
		frames  = 300
	)

	var produced atomic.Int32
	captures := make([][]byte, buffers)
	for i := range captures {
		captures[i] = yuvFrame(w, h, nil)
	}
	slots := make([][]byte, buffers)
	for i := range slots {
		slots[i] = make([]byte, jpegenc.DestinationSize(w, h))
	}

	var (
		mu        sync.Mutex
		inFlight  = make(map[int]bool)
		delivered = make(map[uint64]int)
		finished  = make(chan struct{})
		once      sync.Once
	)
	dev := &fakeDevice{}
	submit := func(index int) {
		if produced.Add(1) > frames {
			return
		}
		mu.Lock()
		if inFlight[index] {
			t.Errorf("capture %d submitted while still owned by the pipeline", index)
		}
		inFlight[index] = true
		mu.Unlock()
		f := CaptureFrame{Index: index, Mem: captures[index], Width: w, Height: h, Origin: Origin{Device: dev}}
		if err := e.EnqueueCapture(f); err != nil {
			t.Errorf("EnqueueCapture: %v", err)
		}
	}
	dev.onQueue = func(index int) {
		mu.Lock()
		if !inFlight[index] {
			t.Errorf("capture %d requeued twice", index)
		}
		inFlight[index] = false
		mu.Unlock()
		go submit(index)
	}

	err := e.Start(func(res EncodeResult) {
		mu.Lock()
		delivered[res.Sequence]++
		n := len(delivered)
		mu.Unlock()
		if n == frames {
			once.Do(func() { close(finished) })
		}
		go e.EnqueueDestination(DestinationSlot{Index: res.SinkIndex, Mem: slots[res.SinkIndex]})
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < buffers; i++ {
		e.EnqueueDestination(DestinationSlot{Index: i, Mem: slots[i]})
		submit(i)
	}

	select {
	case <-finished:
	case <-time.After(20 * time.Second):
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		t.Fatalf("delivered %d frames, want %d", n, frames)
	}
	stop(t, e)

	mu.Lock()
	defer mu.Unlock()
	for seq, n := range delivered {
		if n != 1 {
			t.Fatalf("sequence %d delivered %d times", seq, n)
		}
	}
	if s := e.Stats(); s.FramesSent != frames || s.FramesFailed != 0 {
		t.Fatalf("stats sent=%d failed=%d, want %d and 0", s.FramesSent, s.FramesFailed, frames)
	}
}

func TestCodecFailureRecyclesBuffers(t *testing.T) {
	mon := health.NewMonitor()
	e := newTestEncoder(t, Config{Workers: 1, Health: mon})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, e)

	dev := &fakeDevice{}
	e.EnqueueDestination(DestinationSlot{Index: 0, Mem: make([]byte, jpegenc.DestinationSize(16, 16))})
	// Short source: the codec rejects it.
	e.EnqueueCapture(CaptureFrame{Index: 1, Mem: make([]byte, 10), Width: 16, Height: 16, Origin: Origin{Device: dev}})

	deadline := time.Now().Add(2 * time.Second)
	for len(dev.Requeued()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed capture never requeued")
		}
		time.Sleep(time.Millisecond)
	}
	if c, ok := mon.Get(health.ComponentEncoder); !ok || c.Status != health.Degraded {
		t.Fatalf("encoder health = %+v, want degraded", c)
	}

	// The destination slot returns to the queue and pairs with the next frame.
	e.EnqueueCapture(CaptureFrame{Index: 2, Mem: yuvFrame(16, 16, nil), Width: 16, Height: 16, Origin: Origin{Device: dev}})
	rec.waitFor(t, 1)

	res := rec.Results()
	if len(res) != 1 || res[0].SourceIndex != 2 || res[0].SinkIndex != 0 {
		t.Fatalf("results = %+v, want capture 2 into sink 0", res)
	}
	if got := dev.Requeued(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("requeued = %v, want [1 2]", got)
	}
	if s := e.Stats(); s.FramesFailed != 1 {
		t.Fatalf("failed = %d, want 1", s.FramesFailed)
	}
	if c, _ := mon.Get(health.ComponentEncoder); c.Status != health.Healthy {
		t.Fatalf("encoder health after success = %s, want healthy", c.Status)
	}
}

func TestRequeueErrorDoesNotStopDispatcher(t *testing.T) {
	mon := health.NewMonitor()
	e := newTestEncoder(t, Config{Health: mon})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, e)

	dev := &fakeDevice{fail: errors.New("device gone")}
	for i := 0; i < 2; i++ {
		e.EnqueueDestination(DestinationSlot{Index: i, Mem: make([]byte, jpegenc.DestinationSize(16, 16))})
		e.EnqueueCapture(CaptureFrame{Index: i, Mem: yuvFrame(16, 16, nil), Width: 16, Height: 16, Origin: Origin{Device: dev}})
	}
	rec.waitFor(t, 2)

	if s := e.Stats(); s.RequeueErrors != 2 {
		t.Fatalf("requeue errors = %d, want 2", s.RequeueErrors)
	}
	if c, _ := mon.Get(health.ComponentDispatcher); c.Status != health.Degraded {
		t.Fatalf("dispatcher health = %s, want degraded", c.Status)
	}
}

func TestCallbackPanicKeepsDispatcherRunning(t *testing.T) {
	mon := health.NewMonitor()
	e := newTestEncoder(t, Config{Workers: 2, Health: mon})
	rec := newRecorder()
	var calls atomic.Int32
	cb := func(res EncodeResult) {
		if calls.Add(1) == 1 {
			panic("consumer bug")
		}
		rec.complete(res)
	}
	if err := e.Start(cb); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev := &fakeDevice{}
	const frames = 6
	for i := 0; i < frames; i++ {
		e.EnqueueDestination(DestinationSlot{Index: i, Mem: make([]byte, jpegenc.DestinationSize(16, 16))})
		e.EnqueueCapture(CaptureFrame{Index: i, Mem: yuvFrame(16, 16, nil), Width: 16, Height: 16, Origin: Origin{Device: dev}})
	}
	rec.waitFor(t, frames-1)
	stop(t, e)

	if got := len(dev.Requeued()); got != frames {
		t.Fatalf("requeued %d capture buffers, want %d", got, frames)
	}
	if p := e.Pending(); p.Outputs != 0 {
		t.Fatalf("outputs left after stop = %d, want 0", p.Outputs)
	}
	s := e.Stats()
	if s.CallbackPanics != 1 {
		t.Fatalf("callback panics = %d, want 1", s.CallbackPanics)
	}
	if s.FramesSent != frames-1 {
		t.Fatalf("frames sent = %d, want %d", s.FramesSent, frames-1)
	}
}

func TestOrderedDelivery(t *testing.T) {
	e := newTestEncoder(t, Config{Ordered: true})
	rec := newRecorder()
	if err := e.Start(rec.complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, e)

	rng := rand.New(rand.NewSource(7))
	sizes := [][2]int{{640, 480}, {16, 16}, {32, 32}, {16, 16}, {320, 240}, {16, 16}}
	for i, sz := range sizes {
		w, h := sz[0], sz[1]
		e.EnqueueDestination(DestinationSlot{Index: i, Mem: make([]byte, jpegenc.DestinationSize(w, h))})
		e.EnqueueCapture(CaptureFrame{Index: i, Mem: yuvFrame(w, h, func(p []byte) { rng.Read(p) }), Width: w, Height: h})
	}
	rec.waitFor(t, len(sizes))

	for i, r := range rec.Results() {
		if r.Sequence != uint64(i) {
			t.Fatalf("callback %d carried sequence %d", i, r.Sequence)
		}
	}
}

func TestEnqueueOverrun(t *testing.T) {
	e := newTestEncoder(t, Config{QueueCapacity: 2, EnqueueTimeout: 10 * time.Millisecond})
	if err := e.Start(newRecorder().complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stop(t, e)

	for i := 0; i < 2; i++ {
		if err := e.EnqueueCapture(CaptureFrame{Index: i, Width: 16, Height: 16}); err != nil {
			t.Fatalf("EnqueueCapture %d: %v", i, err)
		}
	}
	err := e.EnqueueCapture(CaptureFrame{Index: 2, Width: 16, Height: 16})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third capture = %v, want ErrQueueFull", err)
	}
	if s := e.Stats(); s.Overruns != 1 || s.FramesCaptured != 2 {
		t.Fatalf("overruns=%d captured=%d, want 1 and 2", s.Overruns, s.FramesCaptured)
	}
}

func TestLifecycleErrors(t *testing.T) {
	e := newTestEncoder(t, Config{})

	if err := e.Abort(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Abort before Start = %v, want ErrNotStarted", err)
	}
	if err := e.EnqueueCapture(CaptureFrame{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("EnqueueCapture before Start = %v, want ErrNotStarted", err)
	}
	if err := e.Wait(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Wait before Start = %v, want ErrNotStarted", err)
	}
	if err := e.Start(nil); !errors.Is(err, ErrNoCallback) {
		t.Fatalf("Start(nil) = %v, want ErrNoCallback", err)
	}

	if err := e.Start(func(EncodeResult) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(func(EncodeResult) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}

	stop(t, e)
	if err := e.Abort(); err != nil {
		t.Fatalf("second Abort = %v, want nil", err)
	}
	if err := e.EnqueueDestination(DestinationSlot{}); !errors.Is(err, ErrAborted) {
		t.Fatalf("enqueue after abort = %v, want ErrAborted", err)
	}
	if err := e.Start(func(EncodeResult) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart = %v, want ErrAlreadyStarted", err)
	}
}

func TestShutdownIsBounded(t *testing.T) {
	e := newTestEncoder(t, Config{Workers: 8})
	var calls atomic.Int32
	if err := e.Start(func(EncodeResult) { calls.Add(1) }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	stop(t, e)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("idle shutdown took %v", elapsed)
	}
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != before {
		t.Fatal("callback fired after Wait returned")
	}
}

func TestDrainReturnsUnpaired(t *testing.T) {
	e := newTestEncoder(t, Config{})
	if err := e.Start(newRecorder().complete); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.EnqueueCapture(CaptureFrame{Index: 4, Width: 16, Height: 16})
	e.EnqueueCapture(CaptureFrame{Index: 6, Width: 16, Height: 16})
	stop(t, e)

	caps, dests := e.Drain()
	if len(caps) != 2 || caps[0].Index != 4 || caps[1].Index != 6 || len(dests) != 0 {
		t.Fatalf("drain = %v / %v, want captures 4 and 6", caps, dests)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Workers: -1},
		{QueueCapacity: -2},
		{Quality: 101},
		{WaitInterval: -time.Second},
	} {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("New(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
	e, err := New(Config{})
	if err != nil {
		t.Fatalf("New(zero) = %v", err)
	}
	if got := e.Config(); got.Workers != DefaultWorkers || got.QueueCapacity != DefaultQueueCapacity || got.Quality != jpegenc.DefaultQuality {
		t.Fatalf("defaults = %+v", got)
	}
}
