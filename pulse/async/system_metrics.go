package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/easyjob/errors"
)

const bytesPerGB = 1 << 30

// SystemMetrics is a snapshot of engine load and host memory.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	RunsQueued    int     `json:"runs_queued"`
	RunsInFlight  int     `json:"runs_in_flight"`
}

// hostMemory reports total and available memory in GB. On macOS and
// Windows "available" includes pages the OS can reclaim.
func hostMemory() (totalGB, availableGB float64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read host memory")
	}
	if v.Total == 0 {
		return 0, 0, errors.New("host reported zero memory")
	}
	return float64(v.Total) / bytesPerGB, float64(v.Available) / bytesPerGB, nil
}

// calculateSafeWorkerCount recommends a pool size for the available memory.
// Job bodies are I/O bound scrapers; budget ~256MB each.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.25 // GB per concurrent job body
	const memoryBuffer = 1.0     // GB reserved for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// SystemMetrics returns current load and memory usage. Memory fields stay
// zero when the platform cannot report them.
func (e *Engine) SystemMetrics() SystemMetrics {
	var memUsedGB, memTotalGB, memPercent float64
	if totalGB, availableGB, err := hostMemory(); err == nil {
		memTotalGB = totalGB
		memUsedGB = totalGB - availableGB
		memPercent = memUsedGB / memTotalGB * 100
	}

	return SystemMetrics{
		WorkersActive: e.pool.Active(),
		WorkersTotal:  e.pool.Workers(),
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		RunsQueued:    e.pool.Queued(),
		RunsInFlight:  e.inflight.len(),
	}
}

// checkMemoryPressure returns a warning when the pool is larger than the
// available memory comfortably supports, or "" when it is fine.
func (p *Pool) checkMemoryPressure() string {
	totalGB, availableGB, err := hostMemory()
	if err != nil {
		return ""
	}

	recommended := calculateSafeWorkerCount(availableGB)

	if p.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			p.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
