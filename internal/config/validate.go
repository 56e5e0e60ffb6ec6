package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
)

var log = logging.L("config")

var knownPixelFormats = map[string]bool{
	"mjpeg":  true,
	"mjpg":   true,
	"yuv420": true,
	"yu12":   true,
	"i420":   true,
	"yuyv":   true,
	"yuy2":   true,
	"nv12":   true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

const maxDimension = 65535

// ValidationResult separates problems that must stop startup from values
// that were clamped into range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config and returns every problem found. Out-of-range
// numbers are clamped in place.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	return append(r.Fatals, r.Warnings...)
}

// ValidateTiered is Validate with fatals and warnings kept apart. Warnings
// are logged.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	fatal := func(format string, args ...any) {
		r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
	}

	if !knownPixelFormats[strings.ToLower(strings.TrimSpace(c.PixelFormat))] {
		fatal("pixel_format %q is not supported (use mjpeg, yuv420, yuyv or nv12)", c.PixelFormat)
	}
	for _, d := range []struct {
		name  string
		value int
	}{{"width", c.Width}, {"height", c.Height}} {
		switch {
		case d.value < 2 || d.value > maxDimension:
			fatal("%s %d is out of range 2..%d", d.name, d.value, maxDimension)
		case d.value%2 != 0:
			fatal("%s %d must be even for 4:2:0 chroma", d.name, d.value)
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		fatal("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		fatal("log_format %q is not valid (use text or json)", c.LogFormat)
	}
	if c.PreviewAddr != "" {
		if _, _, err := net.SplitHostPort(c.PreviewAddr); err != nil {
			fatal("preview_addr %q is not host:port: %w", c.PreviewAddr, err)
		}
	}

	clamp := func(name string, v *int, lo, hi int) {
		if *v < lo {
			r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, lo))
			*v = lo
		} else if *v > hi {
			r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, hi))
			*v = hi
		}
	}
	clamp("fps", &c.FPS, 1, 120)
	clamp("capture_buffers", &c.CaptureBuffers, 2, 32)
	clamp("sink_buffers", &c.SinkBuffers, 2, 32)
	clamp("encoder_workers", &c.EncoderWorkers, 1, 64)
	clamp("queue_capacity", &c.QueueCapacity, 1, 64)
	clamp("jpeg_quality", &c.JPEGQuality, 1, 100)
	clamp("wait_interval_ms", &c.WaitIntervalMs, 10, 5000)
	clamp("enqueue_timeout_ms", &c.EnqueueTimeoutMs, 0, 10000)
	clamp("snapshot_every", &c.SnapshotEvery, 1, 100000)
	clamp("stats_interval_seconds", &c.StatsIntervalSeconds, 0, 3600)
	clamp("log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)
	clamp("log_max_backups", &c.LogMaxBackups, 0, 20)

	if c.QueueCapacity < c.CaptureBuffers || c.QueueCapacity < c.SinkBuffers {
		r.Warnings = append(r.Warnings, fmt.Errorf(
			"queue_capacity %d is smaller than the buffer counts (capture %d, sink %d); frames may be dropped on overrun",
			c.QueueCapacity, c.CaptureBuffers, c.SinkBuffers))
	}

	for _, err := range r.Warnings {
		log.Warn("config validation", "error", err)
	}
	return r
}
