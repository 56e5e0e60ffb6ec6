// Package sink consumes encoded frames the way a UVC gadget does: it owns the
// destination buffers, publishes each finished frame and hands the buffer
// straight back to the source.
package sink

import (
	"fmt"
	"sync/atomic"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/buffers"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
	"github.com/diylxy/uvc-gadget-multi-planar/internal/source"
)

var log = logging.L("sink")

// Publisher receives every frame the gadget consumes. frame is only valid
// during the call; implementations that keep it must copy.
type Publisher interface {
	Publish(seq uint64, frame []byte) error
}

// Gadget is the sink side of a VideoSource.
type Gadget struct {
	src  *source.VideoSource
	set  *buffers.Set
	pubs []Publisher

	frames     atomic.Uint64
	bytes      atomic.Uint64
	pubErrors  atomic.Uint64
	queueError atomic.Uint64
}

// NewGadget allocates count buffers of size bytes each.
func NewGadget(src *source.VideoSource, count, size int, pubs ...Publisher) (*Gadget, error) {
	set, err := buffers.Alloc(count, size)
	if err != nil {
		return nil, fmt.Errorf("allocate sink buffers: %w", err)
	}
	return &Gadget{src: src, set: set, pubs: pubs}, nil
}

// Attach installs the gadget as the source's frame handler and imports its
// buffers.
func (g *Gadget) Attach() error {
	g.src.SetHandler(g.handle, g)
	bufs := make([]source.Buffer, g.set.Len())
	for i := range bufs {
		bufs[i] = source.Buffer{Index: i, Mem: g.set.Buffer(i)}
	}
	if err := g.src.ImportBuffers(bufs); err != nil {
		return fmt.Errorf("import sink buffers: %w", err)
	}
	log.Info("sink buffers imported", "count", g.set.Len(), "size", g.set.Size(), "mapped", g.set.Mapped())
	return nil
}

func (g *Gadget) handle(_ any, src *source.VideoSource, buf source.Buffer) {
	seq := g.frames.Add(1) - 1
	g.bytes.Add(uint64(buf.BytesUsed))
	frame := buf.Mem[:buf.BytesUsed]
	for _, p := range g.pubs {
		if err := p.Publish(seq, frame); err != nil {
			g.pubErrors.Add(1)
			log.Warn("publish failed", logging.KeySinkID, buf.Index, logging.KeyError, err)
		}
	}
	if err := src.QueueBuffer(source.Buffer{Index: buf.Index, Mem: buf.Mem}); err != nil {
		g.queueError.Add(1)
		log.Debug("sink buffer not returned", logging.KeySinkID, buf.Index, logging.KeyError, err)
	}
}

// Frames returns how many frames were consumed.
func (g *Gadget) Frames() uint64 {
	return g.frames.Load()
}

// Bytes returns the total payload consumed.
func (g *Gadget) Bytes() uint64 {
	return g.bytes.Load()
}

// PublishErrors returns how many publisher calls failed.
func (g *Gadget) PublishErrors() uint64 {
	return g.pubErrors.Load()
}

// Close frees the sink buffers. The source must be streamed off first.
func (g *Gadget) Close() error {
	g.src.FreeBuffers()
	return g.set.Close()
}
