package jpegenc

import "fmt"

// MinDestinationSize is the smallest destination DestinationSize reports.
// The fixed header segments alone take about 620 bytes, more than
// width*height*2 for very small frames.
const MinDestinationSize = 4096

// DestinationSize returns the destination region size that always holds one
// encoded width x height frame: width*height*2 bytes, floored at
// MinDestinationSize.
func DestinationSize(width, height int) int {
	n := width * height * 2
	if n < MinDestinationSize {
		return MinDestinationSize
	}
	return n
}

// FrameSize returns how many bytes a planar YUV 4:2:0 frame occupies: the
// luma plane of height rows at stride bytes, then Cb and Cr planes of
// height/2 rows at stride/2 bytes each, without gaps.
func FrameSize(height, stride int) int {
	return stride*height + 2*(stride/2)*(height/2)
}

// EncodePlanar420 compresses one planar YUV 4:2:0 frame from src into dst and
// returns the encoded length. stride is the luma row pitch in bytes; zero
// means width.
//
// Rows are handed to the encoder 16 luma / 8 chroma at a time. When height is
// not a multiple of 16 the row offsets of the final group are clamped to the
// last row of each plane, so the bottom row is encoded repeatedly instead of
// reading past the plane.
func (e *Encoder) EncodePlanar420(dst, src []byte, width, height, stride int) (int, error) {
	if stride == 0 {
		stride = width
	}
	if err := checkPlanar420(len(src), width, height, stride); err != nil {
		return 0, err
	}

	cStride := stride / 2
	cWidth := (width + 1) / 2
	ySize := stride * height
	cSize := cStride * (height / 2)

	yPlane := src[:ySize:ySize]
	uPlane := src[ySize : ySize+cSize : ySize+cSize]
	vPlane := src[ySize+cSize : ySize+2*cSize : ySize+2*cSize]
	yMax := ySize - stride
	cMax := cSize - cStride

	if err := e.Start(dst, width, height); err != nil {
		return 0, err
	}

	var (
		yRows  [MCUHeight][]byte
		cbRows [ChromaMCUHeight][]byte
		crRows [ChromaMCUHeight][]byte
	)
	for yOff, cOff := 0, 0; e.NextScanline() < height; {
		for i := range yRows {
			off := min(yOff, yMax)
			yRows[i] = yPlane[off : off+width : off+width]
			yOff += stride
		}
		for i := range cbRows {
			off := min(cOff, cMax)
			cbRows[i] = uPlane[off : off+cWidth : off+cWidth]
			crRows[i] = vPlane[off : off+cWidth : off+cWidth]
			cOff += cStride
		}
		if err := e.WriteRawData(&yRows, &cbRows, &crRows); err != nil {
			e.Abort()
			return 0, err
		}
	}

	return e.Finish()
}

func checkPlanar420(srcLen, width, height, stride int) error {
	switch {
	case width < 2 || height < 2:
		return fmt.Errorf("%w: %dx%d is below the 2x2 minimum for 4:2:0", ErrInvalidFrame, width, height)
	case width > maxDimension || height > maxDimension:
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrInvalidFrame, width, height, maxDimension)
	case stride < width:
		return fmt.Errorf("%w: stride %d is smaller than width %d", ErrInvalidFrame, stride, width)
	case stride/2 < (width+1)/2:
		return fmt.Errorf("%w: chroma stride %d cannot hold %d samples", ErrInvalidFrame, stride/2, (width+1)/2)
	}
	if need := FrameSize(height, stride); srcLen < need {
		return fmt.Errorf("%w: source holds %d bytes, frame needs %d", ErrInvalidFrame, srcLen, need)
	}
	return nil
}
