// Package source adapts a raw capture device to a video sink. When the sink
// asks for MJPEG the device is switched to planar YUV 4:2:0 and every frame
// goes through the mjpeg pipeline; any other format passes straight through.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/mjpeg"
)

var log = logging.L("source")

var (
	ErrNoHandler = errors.New("source: no frame handler set")
	ErrStreaming = errors.New("source: device is streaming")
)

// Device is the capture hardware boundary. QueueBuffer hands buffer index
// back to the device for refilling.
type Device interface {
	SetFormat(f *Format) error
	SetFrameRate(fps int) error
	QueueBuffer(index int) error
	Buffers() int
	StreamOn() error
	StreamOff() error
}

// Buffer identifies one frame buffer and how much of it is filled.
type Buffer struct {
	Index     int
	Mem       []byte
	BytesUsed int
}

// Handler receives finished frames: raw device frames in passthrough mode,
// encoded sink buffers in encoded mode.
type Handler func(ctx any, src *VideoSource, buf Buffer)

// Mode is how frames flow through the source.
type Mode int

const (
	ModePassthrough Mode = iota
	ModeEncoded
)

func (m Mode) String() string {
	if m == ModeEncoded {
		return "encoded"
	}
	return "passthrough"
}

// stopTimeout bounds the encoder join when a new format replaces it.
const stopTimeout = 2 * time.Second

// VideoSource sits between a capture Device and the sink.
type VideoSource struct {
	dev    Device
	encCfg mjpeg.Config

	mu         sync.Mutex
	mode       Mode
	capture    Format
	enc        *mjpeg.Encoder
	handler    Handler
	handlerCtx any
	sinks      map[int]Buffer
	streaming  bool
}

// New wraps dev. encCfg configures the pipeline created for MJPEG formats.
func New(dev Device, encCfg mjpeg.Config) *VideoSource {
	return &VideoSource{dev: dev, encCfg: encCfg, sinks: make(map[int]Buffer)}
}

// SetHandler sets the frame handler and the opaque value passed back to it.
func (s *VideoSource) SetHandler(h Handler, ctx any) {
	s.mu.Lock()
	s.handler, s.handlerCtx = h, ctx
	s.mu.Unlock()
}

// Mode returns the current frame flow.
func (s *VideoSource) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Encoder returns the running pipeline, or nil in passthrough mode.
func (s *VideoSource) Encoder() *mjpeg.Encoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc
}

// CaptureFormat returns the format negotiated with the device.
func (s *VideoSource) CaptureFormat() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// SetFormat negotiates f with the device. For MJPEG the device is asked for
// YUV 4:2:0 and an encoding pipeline is started; f keeps the MJPEG fourcc
// and receives the size the device settled on.
func (s *VideoSource) SetFormat(f *Format) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrStreaming
	}
	old := s.enc
	s.mu.Unlock()
	if old != nil {
		stopEncoder(old)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc = nil
	s.mode = ModePassthrough
	requested := f.PixelFormat
	devFmt := *f
	if requested == PixFmtMJPEG {
		devFmt.PixelFormat = PixFmtYUV420
		devFmt.BytesPerLine = 0
	}
	if err := s.dev.SetFormat(&devFmt); err != nil {
		return fmt.Errorf("set device format %s: %w", devFmt, err)
	}
	s.capture = devFmt

	if requested != PixFmtMJPEG {
		s.mode = ModePassthrough
		*f = devFmt
		log.Info("format set", "format", devFmt.String(), "mode", s.mode.String())
		return nil
	}

	enc, err := mjpeg.New(s.encCfg)
	if err != nil {
		return err
	}
	if err := enc.Start(s.complete); err != nil {
		return err
	}
	s.enc = enc
	s.mode = ModeEncoded
	f.Width, f.Height = devFmt.Width, devFmt.Height
	f.BytesPerLine = 0
	f.PixelFormat = requested
	log.Info("format set", "format", f.String(), "capture", devFmt.String(), "mode", s.mode.String())
	return nil
}

// SetFrameRate forwards fps to the device.
func (s *VideoSource) SetFrameRate(fps int) error {
	return s.dev.SetFrameRate(fps)
}

// ImportBuffers registers the sink's buffers. In encoded mode each one is
// queued as an empty destination.
func (s *VideoSource) ImportBuffers(bufs []Buffer) error {
	s.mu.Lock()
	s.sinks = make(map[int]Buffer, len(bufs))
	for _, b := range bufs {
		s.sinks[b.Index] = b
	}
	enc := s.enc
	s.mu.Unlock()

	if enc == nil {
		return nil
	}
	for _, b := range bufs {
		if err := enc.EnqueueDestination(mjpeg.DestinationSlot{Index: b.Index, Mem: b.Mem}); err != nil {
			return fmt.Errorf("import sink buffer %d: %w", b.Index, err)
		}
	}
	return nil
}

// FreeBuffers forgets the imported sink buffers.
func (s *VideoSource) FreeBuffers() {
	s.mu.Lock()
	s.sinks = make(map[int]Buffer)
	s.mu.Unlock()
}

// QueueBuffer takes a buffer back from the sink once it has been consumed.
func (s *VideoSource) QueueBuffer(buf Buffer) error {
	s.mu.Lock()
	enc := s.enc
	s.mu.Unlock()

	if enc != nil {
		if len(buf.Mem) == 0 {
			s.mu.Lock()
			buf.Mem = s.sinks[buf.Index].Mem
			s.mu.Unlock()
		}
		return enc.EnqueueDestination(mjpeg.DestinationSlot{Index: buf.Index, Mem: buf.Mem})
	}
	return s.dev.QueueBuffer(buf.Index)
}

// ProcessFrame is called for every buffer the device has filled.
func (s *VideoSource) ProcessFrame(buf Buffer) {
	s.mu.Lock()
	enc, capture, streaming := s.enc, s.capture, s.streaming
	h, hctx := s.handler, s.handlerCtx
	s.mu.Unlock()

	if !streaming {
		log.Debug("frame ignored, not streaming", logging.KeySourceID, buf.Index)
		return
	}

	if enc == nil {
		if h == nil {
			log.Warn("frame dropped, no handler", logging.KeySourceID, buf.Index)
			s.requeue(buf.Index)
			return
		}
		h(hctx, s, buf)
		return
	}

	err := enc.EnqueueCapture(mjpeg.CaptureFrame{
		Index:  buf.Index,
		Mem:    buf.Mem,
		Width:  capture.Width,
		Height: capture.Height,
		Stride: capture.BytesPerLine,
		Origin: mjpeg.Origin{Context: hctx, Source: s, Device: s.dev},
	})
	if err != nil {
		log.Warn("frame dropped", logging.KeySourceID, buf.Index, logging.KeyError, err)
		s.requeue(buf.Index)
	}
}

func (s *VideoSource) requeue(index int) {
	if err := s.dev.QueueBuffer(index); err != nil {
		log.Warn("capture requeue failed", logging.KeySourceID, index, logging.KeyError, err)
	}
}

// complete runs on the pipeline's dispatcher for every encoded frame.
func (s *VideoSource) complete(res mjpeg.EncodeResult) {
	s.mu.Lock()
	h := s.handler
	sink, ok := s.sinks[res.SinkIndex]
	s.mu.Unlock()

	mem := res.Data
	if ok {
		mem = sink.Mem
	}
	if h == nil {
		log.Warn("encoded frame dropped, no handler", logging.KeySinkID, res.SinkIndex)
		return
	}
	h(res.Origin.Context, s, Buffer{Index: res.SinkIndex, Mem: mem, BytesUsed: res.BytesUsed})
}

// StreamOn queues every capture buffer and starts the device.
func (s *VideoSource) StreamOn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModePassthrough && s.handler == nil {
		return ErrNoHandler
	}
	for i := 0; i < s.dev.Buffers(); i++ {
		if err := s.dev.QueueBuffer(i); err != nil {
			return fmt.Errorf("queue capture buffer %d: %w", i, err)
		}
	}
	if err := s.dev.StreamOn(); err != nil {
		return fmt.Errorf("stream on: %w", err)
	}
	s.streaming = true
	return nil
}

// StreamOff stops the pipeline, bounded by ctx, resets the source to
// passthrough and stops the device. A later MJPEG SetFormat starts a fresh
// pipeline.
func (s *VideoSource) StreamOff(ctx context.Context) error {
	s.mu.Lock()
	enc := s.enc
	s.streaming = false
	s.mu.Unlock()

	// Completions still drain through the handler while the pipeline stops;
	// buffers it returns must keep going to the aborted encoder.
	var errs []error
	if enc != nil {
		if err := enc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop encoder: %w", err))
		}
		caps, dests := enc.Drain()
		if len(caps) > 0 || len(dests) > 0 {
			log.Debug("unpaired buffers at stream off", "captures", len(caps), "destinations", len(dests))
		}
		st := enc.Stats()
		log.Info("encoder stopped", "encoded", st.FramesEncoded, "sent", st.FramesSent, "failed", st.FramesFailed)
	}
	s.mu.Lock()
	s.enc = nil
	s.mode = ModePassthrough
	s.mu.Unlock()

	if err := s.dev.StreamOff(); err != nil {
		errs = append(errs, fmt.Errorf("stream off: %w", err))
	}
	return errors.Join(errs...)
}

func stopEncoder(enc *mjpeg.Encoder) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := enc.Stop(ctx); err != nil {
		log.Warn("previous encoder did not stop cleanly", logging.KeyError, err)
	}
}
