package jpegenc

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"math/rand"
	"testing"
)

// planarFrame builds a tightly sized 4:2:0 frame. The returned slice has no
// spare capacity, so any read past the last plane panics.
func planarFrame(width, height, stride int, fill func(plane, x, y int) byte) []byte {
	cStride := stride / 2
	ySize := stride * height
	cSize := cStride * (height / 2)
	n := FrameSize(height, stride)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xee // padding bytes past the row width
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			buf[y*stride+x] = fill(0, x, y)
		}
	}
	for y := 0; y < height/2; y++ {
		for x := 0; x < (width+1)/2; x++ {
			buf[ySize+y*cStride+x] = fill(1, x, y)
			buf[ySize+cSize+y*cStride+x] = fill(2, x, y)
		}
	}
	return buf[:n:n]
}

func solid(yv, cb, cr byte) func(plane, x, y int) byte {
	return func(plane, _, _ int) byte {
		switch plane {
		case 0:
			return yv
		case 1:
			return cb
		default:
			return cr
		}
	}
}

func decode(t *testing.T, data []byte) *image.YCbCr {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ycc, ok := img.(*image.YCbCr)
	if !ok {
		t.Fatalf("decoded %T, want *image.YCbCr", img)
	}
	if ycc.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		t.Fatalf("subsample ratio = %v, want 4:2:0", ycc.SubsampleRatio)
	}
	return ycc
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestHuffmanTablesCoverEverySymbol(t *testing.T) {
	for i, s := range theHuffmanSpec {
		total := 0
		for _, c := range s.count {
			total += int(c)
		}
		if total != len(s.value) {
			t.Fatalf("table %d: counts sum to %d, have %d values", i, total, len(s.value))
		}

		lut := theHuffmanLUT[i]
		var want []int
		if huffIndex(i) == huffLuminanceDC || huffIndex(i) == huffChrominanceDC {
			for v := 0; v <= 11; v++ {
				want = append(want, v)
			}
		} else {
			want = append(want, 0x00, 0xf0)
			for run := 0; run < 16; run++ {
				for size := 1; size <= 10; size++ {
					want = append(want, run<<4|size)
				}
			}
		}
		for _, v := range want {
			if lut[v].size == 0 {
				t.Fatalf("table %d has no code for symbol %#02x", i, v)
			}
		}
	}
}

func TestScaleQuantQuality50IsBaseTable(t *testing.T) {
	q := scaleQuant(&baseQuant[quantLuminance], 50)
	for zig := range q {
		if q[zig] != baseQuant[quantLuminance][unzig[zig]] {
			t.Fatalf("zig %d: got %d, want %d", zig, q[zig], baseQuant[quantLuminance][unzig[zig]])
		}
	}

	best := scaleQuant(&baseQuant[quantChrominance], 100)
	for zig := range best {
		if best[zig] != 1 {
			t.Fatalf("quality 100 zig %d = %d, want 1", zig, best[zig])
		}
	}
}

func TestNewEncoderClampsQuality(t *testing.T) {
	if got := NewEncoder(0).Quality(); got != 1 {
		t.Fatalf("quality 0 clamped to %d, want 1", got)
	}
	if got := NewEncoder(250).Quality(); got != 100 {
		t.Fatalf("quality 250 clamped to %d, want 100", got)
	}
}

func TestEncodeSolidColorDecodes(t *testing.T) {
	const w, h = 16, 16
	src := planarFrame(w, h, w, solid(150, 90, 200))
	dst := make([]byte, DestinationSize(w, h))

	n, err := NewEncoder(DefaultQuality).EncodePlanar420(dst, src, w, h, w)
	if err != nil {
		t.Fatalf("EncodePlanar420: %v", err)
	}
	if n <= 0 || n > len(dst) {
		t.Fatalf("encoded %d bytes into %d", n, len(dst))
	}
	if dst[0] != 0xff || dst[1] != 0xd8 || dst[n-2] != 0xff || dst[n-1] != 0xd9 {
		t.Fatalf("missing SOI/EOI: % x ... % x", dst[:2], dst[n-2:n])
	}

	img := decode(t, dst[:n])
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("decoded bounds %v", b)
	}
	for _, p := range [][2]int{{0, 0}, {8, 8}, {15, 15}} {
		if got := img.Y[img.YOffset(p[0], p[1])]; absDiff(got, 150) > 2 {
			t.Fatalf("Y at %v = %d, want ~150", p, got)
		}
	}
	if got := img.Cb[img.COffset(4, 4)]; absDiff(got, 90) > 2 {
		t.Fatalf("Cb = %d, want ~90", got)
	}
	if got := img.Cr[img.COffset(4, 4)]; absDiff(got, 200) > 2 {
		t.Fatalf("Cr = %d, want ~200", got)
	}
}

func TestEncodeGradientRoundTrip(t *testing.T) {
	const w, h = 64, 48
	src := planarFrame(w, h, w, func(plane, x, y int) byte {
		if plane == 0 {
			return byte(x*3 + y)
		}
		return byte(96 + x + y)
	})
	dst := make([]byte, DestinationSize(w, h))

	n, err := NewEncoder(DefaultQuality).EncodePlanar420(dst, src, w, h, 0)
	if err != nil {
		t.Fatalf("EncodePlanar420: %v", err)
	}
	img := decode(t, dst[:n])

	total := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			total += absDiff(img.Y[img.YOffset(x, y)], src[y*w+x])
		}
	}
	if mean := float64(total) / float64(w*h); mean > 4 {
		t.Fatalf("mean absolute luma error %.2f, want <= 4", mean)
	}
}

func TestEncodeClampsRowsForPartialMCU(t *testing.T) {
	for _, h := range []int{241, 243, 17, 2} {
		const w = 32
		src := planarFrame(w, h, w, func(plane, x, y int) byte {
			if plane == 0 {
				return byte(y)
			}
			return 128
		})
		dst := make([]byte, DestinationSize(w, h))

		enc := NewEncoder(DefaultQuality)
		n, err := enc.EncodePlanar420(dst, src, w, h, w)
		if err != nil {
			t.Fatalf("height %d: %v", h, err)
		}

		img := decode(t, dst[:n])
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			t.Fatalf("height %d: decoded bounds %v", h, b)
		}
		last := img.Y[img.YOffset(w/2, h-1)]
		if absDiff(last, byte(h-1)) > 6 {
			t.Fatalf("height %d: bottom row Y = %d, want ~%d", h, last, byte(h-1))
		}
	}
}

func TestEncodeIgnoresStridePadding(t *testing.T) {
	const w, h, stride = 40, 32, 48
	src := planarFrame(w, h, stride, solid(60, 128, 128))
	dst := make([]byte, DestinationSize(w, h))

	n, err := NewEncoder(DefaultQuality).EncodePlanar420(dst, src, w, h, stride)
	if err != nil {
		t.Fatalf("EncodePlanar420: %v", err)
	}
	img := decode(t, dst[:n])
	if got := img.Y[img.YOffset(w-1, h/2)]; absDiff(got, 60) > 2 {
		t.Fatalf("right edge Y = %d, padding leaked into the image", got)
	}
}

func TestWorstCaseSizingHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	noise := func(int, int, int) byte { return byte(rng.Intn(256)) }
	extremes := func(int, int, int) byte { return byte(rng.Intn(2) * 255) }

	sizes := [][2]int{{64, 64}, {176, 144}, {320, 240}, {640, 480}}
	for _, sz := range sizes {
		w, h := sz[0], sz[1]
		for name, fill := range map[string]func(int, int, int) byte{"noise": noise, "extremes": extremes} {
			src := planarFrame(w, h, w, fill)
			budget := w * h * 2
			dst := make([]byte, budget)

			n, err := NewEncoder(DefaultQuality).EncodePlanar420(dst, src, w, h, w)
			if err != nil {
				t.Fatalf("%s %dx%d: %v", name, w, h, err)
			}
			if n > budget {
				t.Fatalf("%s %dx%d: %d bytes exceeds %d", name, w, h, n, budget)
			}
			decode(t, dst[:n])
		}
	}
}

func TestDestinationFull(t *testing.T) {
	const w, h = 64, 64
	src := planarFrame(w, h, w, func(int, int, int) byte { return 7 })

	enc := NewEncoder(DefaultQuality)
	_, err := enc.EncodePlanar420(make([]byte, 100), src, w, h, w)
	if !errors.Is(err, ErrDestinationFull) {
		t.Fatalf("err = %v, want ErrDestinationFull", err)
	}

	// The context stays usable after a failed frame.
	dst := make([]byte, DestinationSize(w, h))
	if _, err := enc.EncodePlanar420(dst, src, w, h, w); err != nil {
		t.Fatalf("encode after failure: %v", err)
	}
}

func TestInvalidFrames(t *testing.T) {
	dst := make([]byte, MinDestinationSize)
	enc := NewEncoder(DefaultQuality)

	cases := []struct {
		name                  string
		srcLen, w, h, stride int
	}{
		{"height below two", 64, 16, 1, 16},
		{"stride below width", 1024, 32, 16, 16},
		{"odd width without chroma room", FrameSize(16, 15), 15, 16, 15},
		{"short source", 100, 16, 16, 16},
	}
	for _, tc := range cases {
		_, err := enc.EncodePlanar420(dst, make([]byte, tc.srcLen), tc.w, tc.h, tc.stride)
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: err = %v, want ErrInvalidFrame", tc.name, err)
		}
	}
}

func TestEncoderReuseIsDeterministic(t *testing.T) {
	const w, h = 48, 32
	rng := rand.New(rand.NewSource(7))
	src := planarFrame(w, h, w, func(int, int, int) byte { return byte(rng.Intn(256)) })

	enc := NewEncoder(DefaultQuality)
	a := make([]byte, DestinationSize(w, h))
	b := make([]byte, DestinationSize(w, h))
	na, err := enc.EncodePlanar420(a, src, w, h, w)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	nb, err := enc.EncodePlanar420(b, src, w, h, w)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !bytes.Equal(a[:na], b[:nb]) {
		t.Fatal("reused encoder produced different output")
	}
}

func TestRawInterfaceMisuse(t *testing.T) {
	enc := NewEncoder(DefaultQuality)
	var y [MCUHeight][]byte
	var cb, cr [ChromaMCUHeight][]byte
	if err := enc.WriteRawData(&y, &cb, &cr); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("WriteRawData before Start: %v", err)
	}
	if _, err := enc.Finish(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Finish before Start: %v", err)
	}

	if err := enc.Start(make([]byte, MinDestinationSize), 16, 32); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := enc.Finish(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Finish with no rows: %v", err)
	}
}

func TestDestinationSizeFloor(t *testing.T) {
	if got := DestinationSize(16, 16); got != MinDestinationSize {
		t.Fatalf("DestinationSize(16,16) = %d", got)
	}
	if got := DestinationSize(640, 480); got != 640*480*2 {
		t.Fatalf("DestinationSize(640,480) = %d", got)
	}
}
