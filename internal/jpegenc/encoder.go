// Package jpegenc is a baseline JPEG encoder fed with raw planar YCbCr 4:2:0
// rows, one MCU row (16 luma rows, 8 rows per chroma plane) at a time.
//
// Output goes straight into a caller-supplied destination slice; the encoder
// never allocates or grows it.
package jpegenc

import (
	"errors"
	"fmt"
)

const (
	// DefaultQuality is the fixed quality the gadget pipeline encodes at.
	DefaultQuality = 50

	// MCUHeight is the number of luma rows consumed per WriteRawData call.
	MCUHeight = 16
	// ChromaMCUHeight is the number of rows per chroma plane per call.
	ChromaMCUHeight = 8

	maxDimension = 65535
)

var (
	// ErrDestinationFull means the encoded stream did not fit into the
	// destination region.
	ErrDestinationFull = errors.New("jpegenc: destination buffer full")
	// ErrInvalidFrame means the frame geometry or source length is unusable.
	ErrInvalidFrame = errors.New("jpegenc: invalid frame")
	// ErrNotStarted is returned when rows are written outside Start/Finish.
	ErrNotStarted = errors.New("jpegenc: compression not started")
	// ErrIncomplete is returned by Finish before every scanline was written.
	ErrIncomplete = errors.New("jpegenc: incomplete frame")
)

// Encoder is a reusable compression context. Quantization tables are scaled
// once in NewEncoder; Start/WriteRawData/Finish may then be repeated for any
// number of frames. An Encoder is not safe for concurrent use.
type Encoder struct {
	quality int
	// quant is the scaled quantization tables, in zig-zag order.
	quant [nQuantIndex][64]byte

	w            bitWriter
	width        int
	height       int
	chromaWidth  int
	mcuCols      int
	nextScanline int
	prevDC       [3]int32
	started      bool

	blk block
}

// NewEncoder returns an encoder for the given quality, clamped to [1, 100].
func NewEncoder(quality int) *Encoder {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}
	e := &Encoder{quality: quality}
	for i := range e.quant {
		e.quant[i] = scaleQuant(&baseQuant[i], quality)
	}
	return e
}

// Quality returns the quality the encoder was built for.
func (e *Encoder) Quality() int {
	return e.quality
}

// NextScanline returns the index of the next luma row to be written. It can
// exceed the image height after the last MCU row.
func (e *Encoder) NextScanline() int {
	return e.nextScanline
}

// Start begins a new frame of the given size, writing every header segment
// up to and including SOS into dst.
func (e *Encoder) Start(dst []byte, width, height int) error {
	if width < 1 || height < 1 || width > maxDimension || height > maxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, width, height)
	}

	e.w.reset(dst)
	e.width = width
	e.height = height
	e.chromaWidth = (width + 1) / 2
	e.mcuCols = (width + 15) / 16
	e.nextScanline = 0
	e.prevDC = [3]int32{}
	e.started = true

	e.writeSOI()
	e.writeAPP0()
	e.writeDQT()
	e.writeSOF0()
	e.writeDHT()
	e.writeSOS()
	if e.w.err != nil {
		e.started = false
		return e.w.err
	}
	return nil
}

// WriteRawData encodes one MCU row. Every luma row must hold at least width
// samples and every chroma row at least (width+1)/2 samples; columns past the
// image edge replicate the last sample. Rows below the image bottom are still
// encoded and cropped by decoders through the SOF height.
func (e *Encoder) WriteRawData(y *[MCUHeight][]byte, cb, cr *[ChromaMCUHeight][]byte) error {
	if !e.started {
		return ErrNotStarted
	}
	if e.nextScanline >= e.height {
		return fmt.Errorf("%w: all %d scanlines already written", ErrInvalidFrame, e.height)
	}
	for i := range y {
		if len(y[i]) < e.width {
			return fmt.Errorf("%w: luma row %d has %d samples, need %d", ErrInvalidFrame, i, len(y[i]), e.width)
		}
	}
	for i := range cb {
		if len(cb[i]) < e.chromaWidth || len(cr[i]) < e.chromaWidth {
			return fmt.Errorf("%w: chroma row %d shorter than %d samples", ErrInvalidFrame, i, e.chromaWidth)
		}
	}

	for mx := 0; mx < e.mcuCols; mx++ {
		x0 := mx * 16
		for by := 0; by < 2; by++ {
			for bx := 0; bx < 2; bx++ {
				loadBlock(&e.blk, y[by*8:by*8+8], x0+bx*8, e.width)
				e.prevDC[0] = e.writeBlock(quantLuminance, huffLuminanceDC, e.prevDC[0])
			}
		}
		loadBlock(&e.blk, cb[:], mx*8, e.chromaWidth)
		e.prevDC[1] = e.writeBlock(quantChrominance, huffChrominanceDC, e.prevDC[1])
		loadBlock(&e.blk, cr[:], mx*8, e.chromaWidth)
		e.prevDC[2] = e.writeBlock(quantChrominance, huffChrominanceDC, e.prevDC[2])
	}

	e.nextScanline += MCUHeight
	return e.w.err
}

// Finish flushes the entropy coder, writes EOI and returns the total number
// of bytes written to the destination.
func (e *Encoder) Finish() (int, error) {
	if !e.started {
		return 0, ErrNotStarted
	}
	e.started = false
	if e.nextScanline < e.height {
		return 0, fmt.Errorf("%w: %d of %d scanlines written", ErrIncomplete, e.nextScanline, e.height)
	}

	e.w.flush()
	e.w.write([]byte{0xff, 0xd9})
	n, err := e.w.n, e.w.err
	e.w.reset(nil)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Abort drops the frame in progress and releases the destination.
func (e *Encoder) Abort() {
	e.started = false
	e.w.reset(nil)
}

// loadBlock copies an 8x8 block starting at column x0 of rows into b,
// level-shifted. Columns at or past width repeat column width-1.
func loadBlock(b *block, rows [][]byte, x0, width int) {
	for j := 0; j < 8; j++ {
		row := rows[j]
		dst := b[j*8 : j*8+8 : j*8+8]
		if x0+8 <= width {
			src := row[x0 : x0+8 : x0+8]
			for i := range dst {
				dst[i] = float32(src[i]) - 128
			}
			continue
		}
		for i := range dst {
			x := x0 + i
			if x >= width {
				x = width - 1
			}
			dst[i] = float32(row[x]) - 128
		}
	}
}

// writeBlock transforms, quantizes and entropy-codes e.blk, returning its
// quantized DC value.
func (e *Encoder) writeBlock(q quantIndex, dcTable huffIndex, prevDC int32) int32 {
	fdct(&e.blk)
	qt := &e.quant[q]
	acTable := dcTable + 1

	dc := quantize(e.blk[0], qt[0])
	e.w.emitHuffRLE(dcTable, 0, dc-prevDC)

	runLength := int32(0)
	for zig := 1; zig < 64; zig++ {
		ac := quantize(e.blk[unzig[zig]], qt[zig])
		if ac == 0 {
			runLength++
			continue
		}
		for runLength > 15 {
			e.w.emitHuff(acTable, 0xf0)
			runLength -= 16
		}
		e.w.emitHuffRLE(acTable, runLength, ac)
		runLength = 0
	}
	if runLength > 0 {
		e.w.emitHuff(acTable, 0x00)
	}
	return dc
}

func (e *Encoder) writeSOI() {
	e.w.write([]byte{0xff, 0xd8})
}

// writeAPP0 writes a JFIF 1.01 header with 1:1 pixel aspect.
func (e *Encoder) writeAPP0() {
	e.w.writeMarkerHeader(0xe0, 16)
	e.w.write([]byte{'J', 'F', 'I', 'F', 0, 1, 1, 0, 0, 1, 0, 1, 0, 0})
}

func (e *Encoder) writeDQT() {
	const markerlen = 2 + int(nQuantIndex)*(1+64)
	e.w.writeMarkerHeader(0xdb, markerlen)
	for i := range e.quant {
		e.w.writeByte(uint8(i))
		e.w.write(e.quant[i][:])
	}
}

// writeSOF0 declares three components: Y sampled 2x2, Cb and Cr 1x1.
func (e *Encoder) writeSOF0() {
	const nComponent = 3
	e.w.writeMarkerHeader(0xc0, 8+3*nComponent)
	e.w.write([]byte{
		8, // 8-bit color.
		uint8(e.height >> 8), uint8(e.height & 0xff),
		uint8(e.width >> 8), uint8(e.width & 0xff),
		nComponent,
		1, 0x22, 0,
		2, 0x11, 1,
		3, 0x11, 1,
	})
}

func (e *Encoder) writeDHT() {
	markerlen := 2
	for _, s := range theHuffmanSpec {
		markerlen += 1 + 16 + len(s.value)
	}
	e.w.writeMarkerHeader(0xc4, markerlen)
	for i, s := range theHuffmanSpec {
		e.w.writeByte([]byte{0x00, 0x10, 0x01, 0x11}[i])
		e.w.write(s.count[:])
		e.w.write(s.value)
	}
}

// writeSOS starts a single interleaved baseline scan over all components.
func (e *Encoder) writeSOS() {
	e.w.write([]byte{
		0xff, 0xda, 0x00, 0x0c, 0x03,
		0x01, 0x00,
		0x02, 0x11,
		0x03, 0x11,
		0x00, 0x3f, 0x00,
	})
}
