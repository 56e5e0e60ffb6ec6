// Package mjpeg turns raw planar YUV 4:2:0 capture frames into baseline JPEG
// frames written into consumer-provided destination slots.
//
// Capture frames and destination slots arrive independently and are paired
// head to head in arrival order. A fixed set of workers compress pairs in
// parallel, each with a private codec, and a single dispatcher hands every
// capture buffer back to its device before reporting the finished frame to
// the completion callback. Frames are delivered in completion order unless
// Config.Ordered is set.
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/health"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/jpegenc"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/workerpool"
)

var log = logging.L("mjpeg")

var (
	// ErrShutdown reports that a queue was aborted and holds nothing more.
	ErrShutdown = errors.New("mjpeg: pipeline shut down")
	// ErrQueueFull reports that a pairing queue stayed full for the whole
	// enqueue timeout. The caller still owns the buffer.
	ErrQueueFull = errors.New("mjpeg: queue full")
	// ErrAborted reports an enqueue after Abort.
	ErrAborted = errors.New("mjpeg: pipeline aborted")

	ErrAlreadyStarted = errors.New("mjpeg: pipeline already started")
	ErrNotStarted     = errors.New("mjpeg: pipeline not started")
	ErrNoCallback     = errors.New("mjpeg: completion callback is nil")
	ErrInvalidConfig  = errors.New("mjpeg: invalid config")
)

const (
	DefaultWorkers        = 4
	DefaultQueueCapacity  = 8
	DefaultWaitInterval   = 200 * time.Millisecond
	DefaultEnqueueTimeout = 200 * time.Millisecond
)

// Config tunes the pipeline. Zero fields take the defaults.
type Config struct {
	Workers       int
	QueueCapacity int
	Quality       int
	// WaitInterval bounds every internal wait so shutdown is noticed
	// without a wake.
	WaitInterval time.Duration
	// EnqueueTimeout bounds how long EnqueueCapture and EnqueueDestination
	// wait for room before returning ErrQueueFull. Negative means fail
	// immediately.
	EnqueueTimeout time.Duration
	Ordered        bool
	Health         *health.Monitor
}

// DefaultConfig returns four workers, queues of eight, quality 50 and
// 200 ms waits.
func DefaultConfig() Config {
	return Config{
		Workers:        DefaultWorkers,
		QueueCapacity:  DefaultQueueCapacity,
		Quality:        jpegenc.DefaultQuality,
		WaitInterval:   DefaultWaitInterval,
		EnqueueTimeout: DefaultEnqueueTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.Quality == 0 {
		c.Quality = def.Quality
	}
	if c.WaitInterval == 0 {
		c.WaitInterval = def.WaitInterval
	}
	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = def.EnqueueTimeout
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.QueueCapacity < 1:
		return fmt.Errorf("%w: queue capacity must be at least 1, got %d", ErrInvalidConfig, c.QueueCapacity)
	case c.Quality < 1 || c.Quality > 100:
		return fmt.Errorf("%w: quality must be in 1..100, got %d", ErrInvalidConfig, c.Quality)
	case c.WaitInterval < 0:
		return fmt.Errorf("%w: wait interval must not be negative", ErrInvalidConfig)
	}
	return nil
}

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateAborted
)

// Encoder is the pipeline controller. It runs once: Start, then Abort and
// Wait (or Stop). A stopped Encoder cannot be restarted; create a new one.
type Encoder struct {
	cfg Config

	mu       sync.Mutex
	state    atomic.Int32
	done     chan struct{}
	pairs    *pairQueue
	output   *outputQueue
	reseq    *resequencer
	callback CompletionFunc
	metrics  *Metrics

	workers    *workerpool.Group
	dispatcher *workerpool.Group
}

// New validates cfg and returns an idle pipeline.
func New(cfg Config) (*Encoder, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Encoder{cfg: cfg, metrics: newMetrics()}, nil
}

// Config returns the effective configuration.
func (e *Encoder) Config() Config {
	return e.cfg
}

// Start resets the queues and spawns the workers and the dispatcher. cb is
// called for every successfully encoded frame.
func (e *Encoder) Start(cb CompletionFunc) error {
	if cb == nil {
		return ErrNoCallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if state(e.state.Load()) != stateIdle {
		return ErrAlreadyStarted
	}

	e.done = make(chan struct{})
	e.pairs = newPairQueue(e.cfg.QueueCapacity, e.cfg.WaitInterval, e.done)
	e.output = newOutputQueue(e.cfg.QueueCapacity, e.cfg.WaitInterval, e.done)
	e.reseq = nil
	if e.cfg.Ordered {
		e.reseq = newResequencer()
	}
	e.callback = cb
	e.metrics = newMetrics()
	e.workers = workerpool.New("mjpeg-encode")
	e.dispatcher = workerpool.New("mjpeg-dispatch")

	for i := 0; i < e.cfg.Workers; i++ {
		id := i
		e.workers.Go(fmt.Sprintf("encode-%d", id), func() { e.encodeLoop(id) })
	}
	workersDone := e.workers.Done()
	e.dispatcher.Go("dispatch", e.dispatchLoop)
	e.dispatcher.Go("closer", func() {
		<-workersDone
		e.output.Close()
	})

	e.state.Store(int32(stateRunning))
	log.Info("pipeline started",
		"workers", e.cfg.Workers,
		"queueCapacity", e.cfg.QueueCapacity,
		"quality", e.cfg.Quality,
		"ordered", e.cfg.Ordered)
	return nil
}

// Abort asks every goroutine to stop. Workers finish the pairs already
// queued, the dispatcher delivers every finished result, and then both exit.
// Abort does not wait; use Wait.
func (e *Encoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch state(e.state.Load()) {
	case stateIdle:
		return ErrNotStarted
	case stateAborted:
		return nil
	}
	e.state.Store(int32(stateAborted))
	close(e.done)
	log.Info("pipeline abort requested")
	return nil
}

// Wait joins the workers and the dispatcher, giving up when ctx ends.
func (e *Encoder) Wait(ctx context.Context) error {
	e.mu.Lock()
	workers, dispatcher := e.workers, e.dispatcher
	e.mu.Unlock()
	if workers == nil {
		return ErrNotStarted
	}
	if err := workers.Wait(ctx); err != nil {
		return fmt.Errorf("join encode workers: %w", err)
	}
	if err := dispatcher.Wait(ctx); err != nil {
		return fmt.Errorf("join dispatcher: %w", err)
	}
	return nil
}

// Stop aborts the pipeline and waits for it to drain.
func (e *Encoder) Stop(ctx context.Context) error {
	if err := e.Abort(); err != nil {
		return err
	}
	return e.Wait(ctx)
}

// Drain removes the capture frames and destination slots that were never
// paired. Call it after Wait so the owner can take its buffers back.
func (e *Encoder) Drain() ([]CaptureFrame, []DestinationSlot) {
	e.mu.Lock()
	pairs := e.pairs
	e.mu.Unlock()
	if pairs == nil {
		return nil, nil
	}
	return pairs.drain()
}

// EnqueueCapture hands a raw frame to the pipeline. On error the caller
// keeps ownership of the buffer.
func (e *Encoder) EnqueueCapture(f CaptureFrame) error {
	if err := e.accepting(); err != nil {
		return err
	}
	if f.Stride == 0 {
		f.Stride = f.Width
	}
	err := e.pairs.PushCapture(f, e.cfg.EnqueueTimeout)
	e.reportEnqueue(health.ComponentCaptureQueue, err)
	if err != nil {
		return fmt.Errorf("enqueue capture %d: %w", f.Index, err)
	}
	e.metrics.RecordCapture()
	return nil
}

// EnqueueDestination hands an empty sink slot to the pipeline. On error the
// caller keeps ownership of the slot.
func (e *Encoder) EnqueueDestination(d DestinationSlot) error {
	if err := e.accepting(); err != nil {
		return err
	}
	err := e.pairs.PushDestination(d, e.cfg.EnqueueTimeout)
	e.reportEnqueue(health.ComponentSinkQueue, err)
	if err != nil {
		return fmt.Errorf("enqueue destination %d: %w", d.Index, err)
	}
	e.metrics.RecordSlot()
	return nil
}

func (e *Encoder) accepting() error {
	switch state(e.state.Load()) {
	case stateIdle:
		return ErrNotStarted
	case stateAborted:
		return ErrAborted
	}
	return nil
}

func (e *Encoder) reportEnqueue(component string, err error) {
	if errors.Is(err, ErrAborted) {
		return
	}
	if errors.Is(err, ErrQueueFull) {
		e.metrics.RecordOverrun()
		log.Warn("queue overrun", logging.KeyComponent, component)
	}
	e.cfg.Health.Report(component, err)
}

// Stats returns a snapshot of the current run's counters.
func (e *Encoder) Stats() MetricsSnapshot {
	e.mu.Lock()
	m := e.metrics
	e.mu.Unlock()
	return m.Snapshot()
}

// Pending reports how many items wait in each queue.
func (e *Encoder) Pending() Depth {
	e.mu.Lock()
	pairs, output := e.pairs, e.output
	e.mu.Unlock()
	if pairs == nil {
		return Depth{}
	}
	c, d := pairs.depth()
	return Depth{Captures: c, Destinations: d, Outputs: output.len()}
}

func (e *Encoder) encodeLoop(id int) {
	codec := jpegenc.NewEncoder(e.cfg.Quality)
	wlog := log.With(logging.KeyWorker, id)
	for {
		p, err := e.pairs.AwaitPair()
		if err != nil {
			wlog.Debug("encode worker stopped")
			return
		}
		res := e.encode(codec, p, wlog)
		if err := e.output.Push(res); err != nil {
			wlog.Error("result lost, output queue closed",
				logging.KeySequence, res.Sequence, logging.KeyError, err)
			return
		}
	}
}

func (e *Encoder) encode(codec *jpegenc.Encoder, p pairing, wlog *slog.Logger) (res EncodeResult) {
	res = EncodeResult{
		Sequence:    p.seq,
		SourceIndex: p.capture.Index,
		SinkIndex:   p.dest.Index,
		Origin:      p.capture.Origin,
		slot:        p.dest,
	}
	flog := logging.WithFrame(wlog, p.capture.Index, p.dest.Index, p.seq)

	defer func() {
		if r := recover(); r != nil {
			codec.Abort()
			res.Err = fmt.Errorf("codec panic: %v", r)
		}
		if res.Err != nil {
			e.metrics.RecordFailure()
			e.cfg.Health.Report(health.ComponentEncoder, res.Err)
			flog.Warn("encode failed", logging.KeyError, res.Err)
		}
	}()

	start := time.Now()
	f := p.capture
	n, err := codec.EncodePlanar420(p.dest.Mem, f.Mem, f.Width, f.Height, f.Stride)
	if err != nil {
		res.Err = fmt.Errorf("encode %dx%d: %w", f.Width, f.Height, err)
		return res
	}
	elapsed := time.Since(start)
	res.BytesUsed = n
	res.Data = p.dest.Mem[:n]
	e.metrics.RecordEncode(elapsed, n)
	e.cfg.Health.Report(health.ComponentEncoder, nil)
	flog.Debug("frame encoded", logging.KeyBytes, n, logging.KeyDurationMs, elapsed.Milliseconds())
	return res
}

func (e *Encoder) dispatchLoop() {
	for {
		res, err := e.output.Pop()
		if err != nil {
			break
		}
		if e.reseq == nil {
			e.dispatch(res)
			continue
		}
		for _, r := range e.reseq.push(res) {
			e.dispatch(r)
		}
	}
	if e.reseq != nil {
		for _, r := range e.reseq.flush() {
			e.dispatch(r)
		}
	}
	c, d := e.pairs.depth()
	log.Info("pipeline stopped", "unpairedCaptures", c, "unpairedDestinations", d)
}

// dispatch returns the source buffer to its device, then reports the frame.
func (e *Encoder) dispatch(res EncodeResult) {
	if dev := res.Origin.Device; dev != nil {
		err := dev.QueueBuffer(res.SourceIndex)
		if err != nil {
			e.metrics.RecordRequeueError()
			log.Warn("capture requeue failed",
				logging.KeySourceID, res.SourceIndex, logging.KeyError, err)
		}
		e.cfg.Health.Report(health.ComponentDispatcher, err)
	}

	if res.Err != nil {
		if !e.pairs.recycleDestination(res.slot) {
			log.Warn("destination slot dropped, sink queue full", logging.KeySinkID, res.SinkIndex)
		}
		return
	}

	if err := e.deliver(res); err != nil {
		e.metrics.RecordCallbackPanic()
		e.cfg.Health.Report(health.ComponentDispatcher, err)
		log.Error("completion callback failed",
			logging.KeySourceID, res.SourceIndex, logging.KeySinkID, res.SinkIndex,
			logging.KeySequence, res.Sequence, logging.KeyError, err)
		return
	}
	e.metrics.RecordSend(res.BytesUsed)
}

// deliver runs the completion callback. A panic costs only this frame; the
// destination slot stays with the consumer that was handed it.
func (e *Encoder) deliver(res EncodeResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	e.callback(res)
	return nil
}
