package source

import (
	"errors"
	"fmt"
	"strings"
)

// PixelFormat is a V4L2 fourcc.
type PixelFormat uint32

func fourcc(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	PixFmtMJPEG  = fourcc('M', 'J', 'P', 'G')
	PixFmtYUV420 = fourcc('Y', 'U', '1', '2')
	PixFmtYUYV   = fourcc('Y', 'U', 'Y', 'V')
	PixFmtNV12   = fourcc('N', 'V', '1', '2')
)

var ErrUnknownPixelFormat = errors.New("source: unknown pixel format")

func (p PixelFormat) String() string {
	b := []byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// ParsePixelFormat accepts a fourcc or one of the aliases mjpeg, yuv420,
// yuyv and nv12, case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mjpeg", "mjpg":
		return PixFmtMJPEG, nil
	case "yuv420", "yu12", "i420":
		return PixFmtYUV420, nil
	case "yuyv", "yuy2":
		return PixFmtYUYV, nil
	case "nv12":
		return PixFmtNV12, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPixelFormat, s)
}

// Format describes frames on one side of the source.
type Format struct {
	PixelFormat  PixelFormat
	Width        int
	Height       int
	BytesPerLine int
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d", f.PixelFormat, f.Width, f.Height)
}
