package jpegenc

import "math"

// block is an 8x8 sample or coefficient block in natural (row-major) order.
type block [64]float32

// dctCos[u][x] is C(u)/2 * cos((2x+1)uπ/16), with C(0) = 1/√2 and C(u) = 1
// otherwise. Applying it along rows and then columns yields the orthonormal
// 2-D DCT-II, whose coefficients are quantized by dividing by the table
// entry directly.
var dctCos [8][8]float32

func init() {
	for u := 0; u < 8; u++ {
		c := 0.5
		if u == 0 {
			c = 0.5 / math.Sqrt2
		}
		for x := 0; x < 8; x++ {
			dctCos[u][x] = float32(c * math.Cos(float64((2*x+1)*u)*math.Pi/16))
		}
	}
}

// fdct performs a forward DCT on b in place. Input samples must already be
// level-shifted to [-128, 127].
func fdct(b *block) {
	var tmp block

	// Rows: tmp[y][u].
	for y := 0; y < 8; y++ {
		r := b[y*8 : y*8+8 : y*8+8]
		for u := 0; u < 8; u++ {
			c := &dctCos[u]
			tmp[y*8+u] = r[0]*c[0] + r[1]*c[1] + r[2]*c[2] + r[3]*c[3] +
				r[4]*c[4] + r[5]*c[5] + r[6]*c[6] + r[7]*c[7]
		}
	}

	// Columns: b[v][u].
	for u := 0; u < 8; u++ {
		for v := 0; v < 8; v++ {
			c := &dctCos[v]
			b[v*8+u] = tmp[0*8+u]*c[0] + tmp[1*8+u]*c[1] + tmp[2*8+u]*c[2] + tmp[3*8+u]*c[3] +
				tmp[4*8+u]*c[4] + tmp[5*8+u]*c[5] + tmp[6*8+u]*c[6] + tmp[7*8+u]*c[7]
		}
	}
}

// quantize divides a coefficient by q, rounding half away from zero.
func quantize(coef float32, q byte) int32 {
	v := coef / float32(q)
	if v < 0 {
		return int32(v - 0.5)
	}
	return int32(v + 0.5)
}
