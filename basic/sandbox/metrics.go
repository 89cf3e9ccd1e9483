package sandbox

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/gbvm/errors"
)

// HostMetrics is the host memory picture reported alongside pool stats
type HostMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

const gib = 1024 * 1024 * 1024

// ReadHostMetrics samples host memory. Zero values are returned with the error.
func ReadHostMetrics() (HostMetrics, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return HostMetrics{}, errors.Wrap(err, "failed to get memory stats")
	}
	return hostMetrics(v.Total, v.Available), nil
}

func hostMetrics(total, available uint64) HostMetrics {
	if total == 0 {
		return HostMetrics{}
	}
	used := total - min(available, total)
	m := HostMetrics{
		MemoryTotalGB: float64(total) / gib,
		MemoryUsedGB:  float64(used) / gib,
	}
	m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	return m
}
