package jpegenc

import "math/bits"

// bitWriter writes JPEG segments and entropy-coded data into a fixed
// destination slice. It never grows the slice: writing past its end sets
// err to ErrDestinationFull and drops all further output.
type bitWriter struct {
	dst []byte
	n   int
	err error
	// bits and nBits are accumulated bits to write to dst, MSB aligned.
	bits, nBits uint32
}

func (w *bitWriter) reset(dst []byte) {
	w.dst = dst
	w.n = 0
	w.err = nil
	w.bits, w.nBits = 0, 0
}

func (w *bitWriter) writeByte(b byte) {
	if w.err != nil {
		return
	}
	if w.n >= len(w.dst) {
		w.err = ErrDestinationFull
		return
	}
	w.dst[w.n] = b
	w.n++
}

func (w *bitWriter) write(p []byte) {
	if w.err != nil {
		return
	}
	if w.n+len(p) > len(w.dst) {
		w.err = ErrDestinationFull
		return
	}
	w.n += copy(w.dst[w.n:], p)
}

// emit emits the least significant nBits bits of bits to the bit-stream,
// stuffing a zero byte after every 0xff.
func (w *bitWriter) emit(b, nBits uint32) {
	nBits += w.nBits
	b <<= 32 - nBits
	b |= w.bits
	for nBits >= 8 {
		c := uint8(b >> 24)
		w.writeByte(c)
		if c == 0xff {
			w.writeByte(0x00)
		}
		b <<= 8
		nBits -= 8
	}
	w.bits, w.nBits = b, nBits
}

// emitHuff emits the given value with the given Huffman table.
func (w *bitWriter) emitHuff(h huffIndex, value int32) {
	c := theHuffmanLUT[h][value]
	w.emit(c.code, c.size)
}

// emitHuffRLE emits a run of runLength copies of value encoded with the given
// Huffman table.
func (w *bitWriter) emitHuffRLE(h huffIndex, runLength, value int32) {
	a, b := value, value
	if a < 0 {
		a, b = -value, value-1
	}
	nBits := uint32(bits.Len32(uint32(a)))
	w.emitHuff(h, runLength<<4|int32(nBits))
	if nBits > 0 {
		w.emit(uint32(b)&(1<<nBits-1), nBits)
	}
}

// flush pads the final partial byte with 1 bits.
func (w *bitWriter) flush() {
	w.emit(0x7f, 7)
	w.bits, w.nBits = 0, 0
}

// writeMarkerHeader writes the header for a marker with the given length.
func (w *bitWriter) writeMarkerHeader(marker uint8, markerlen int) {
	w.write([]byte{0xff, marker, uint8(markerlen >> 8), uint8(markerlen & 0xff)})
}
