package mjpeg

import (
	"sync"
	"time"
)

// Metrics tracks pipeline throughput for one Start/Abort lifetime.
type Metrics struct {
	mu sync.RWMutex

	FramesCaptured uint64
	SlotsQueued    uint64
	FramesEncoded  uint64
	FramesFailed   uint64
	FramesSent     uint64
	Overruns       uint64
	RequeueErrors  uint64
	CallbackPanics uint64

	LastEncodeTime time.Duration
	LastFrameSize  int
	TotalBytesSent uint64
	startTime      time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordCapture() {
	m.mu.Lock()
	m.FramesCaptured++
	m.mu.Unlock()
}

func (m *Metrics) RecordSlot() {
	m.mu.Lock()
	m.SlotsQueued++
	m.mu.Unlock()
}

func (m *Metrics) RecordEncode(d time.Duration, size int) {
	m.mu.Lock()
	m.FramesEncoded++
	m.LastEncodeTime = d
	m.LastFrameSize = size
	m.mu.Unlock()
}

func (m *Metrics) RecordFailure() {
	m.mu.Lock()
	m.FramesFailed++
	m.mu.Unlock()
}

func (m *Metrics) RecordSend(size int) {
	m.mu.Lock()
	m.FramesSent++
	m.TotalBytesSent += uint64(size)
	m.mu.Unlock()
}

func (m *Metrics) RecordOverrun() {
	m.mu.Lock()
	m.Overruns++
	m.mu.Unlock()
}

func (m *Metrics) RecordRequeueError() {
	m.mu.Lock()
	m.RequeueErrors++
	m.mu.Unlock()
}

func (m *Metrics) RecordCallbackPanic() {
	m.mu.Lock()
	m.CallbackPanics++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging.
type MetricsSnapshot struct {
	FramesCaptured uint64
	SlotsQueued    uint64
	FramesEncoded  uint64
	FramesFailed   uint64
	FramesSent     uint64
	Overruns       uint64
	RequeueErrors  uint64
	CallbackPanics uint64
	EncodeMs       float64
	LastFrameSize  int
	BandwidthKBps  float64
	FPS            float64
	Uptime         time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	bw, fps := float64(0), float64(0)
	if s := uptime.Seconds(); s > 0 {
		bw = float64(m.TotalBytesSent) / s / 1024.0
		fps = float64(m.FramesSent) / s
	}

	return MetricsSnapshot{
		FramesCaptured: m.FramesCaptured,
		SlotsQueued:    m.SlotsQueued,
		FramesEncoded:  m.FramesEncoded,
		FramesFailed:   m.FramesFailed,
		FramesSent:     m.FramesSent,
		Overruns:       m.Overruns,
		RequeueErrors:  m.RequeueErrors,
		CallbackPanics: m.CallbackPanics,
		EncodeMs:       float64(m.LastEncodeTime.Microseconds()) / 1000.0,
		LastFrameSize:  m.LastFrameSize,
		BandwidthKBps:  bw,
		FPS:            fps,
		Uptime:         uptime,
	}
}
