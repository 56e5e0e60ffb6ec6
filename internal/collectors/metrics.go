package collectors

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics describes the resource use of the running pipeline.
type ProcessMetrics struct {
	CPUPercent     float64 `json:"cpuPercent"`
	RSSMB          float64 `json:"rssMb"`
	Threads        int32   `json:"threads"`
	Goroutines     int     `json:"goroutines"`
	HostCPUs       int     `json:"hostCpus"`
	HostCPUPercent float64 `json:"hostCpuPercent"`
	HostRAMPercent float64 `json:"hostRamPercent"`
}

// ProcessCollector samples this process. CPU percentages are measured
// between successive Collect calls, so the first sample reads zero.
type ProcessCollector struct {
	proc *process.Process
}

func NewProcessCollector() (*ProcessCollector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	// Prime the CPU counters.
	p.Percent(0)
	cpu.Percent(0, false)
	return &ProcessCollector{proc: p}, nil
}

func (c *ProcessCollector) Collect() (*ProcessMetrics, error) {
	metrics := &ProcessMetrics{Goroutines: runtime.NumGoroutine()}

	pct, err := c.proc.Percent(0)
	if err != nil {
		return nil, fmt.Errorf("process cpu: %w", err)
	}
	metrics.CPUPercent = pct

	if mi, err := c.proc.MemoryInfo(); err == nil {
		metrics.RSSMB = float64(mi.RSS) / 1024 / 1024
	}
	if n, err := c.proc.NumThreads(); err == nil {
		metrics.Threads = n
	}

	if n, err := cpu.Counts(true); err == nil {
		metrics.HostCPUs = n
	}
	if host, err := cpu.Percent(0, false); err == nil && len(host) > 0 {
		metrics.HostCPUPercent = host[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		metrics.HostRAMPercent = vmem.UsedPercent
	}

	return metrics, nil
}

// LogArgs flattens m into slog key/value pairs.
func (m *ProcessMetrics) LogArgs() []any {
	return []any{
		"cpuPercent", m.CPUPercent,
		"rssMb", m.RSSMB,
		"threads", m.Threads,
		"goroutines", m.Goroutines,
		"hostCpus", m.HostCPUs,
		"hostCpuPercent", m.HostCPUPercent,
		"hostRamPercent", m.HostRAMPercent,
	}
}
