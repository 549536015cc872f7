package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/veritas-nexus/veritas/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Number of workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
	JobsQueued    int     `json:"jobs_queued"`     // Jobs waiting in queue
	JobsRunning   int     `json:"jobs_running"`    // Jobs currently executing
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}

	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available
// memory. Each concurrent run holds its fetched corpus, the provenance
// stream, and the analyzer's working set in memory at once.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorkerGB = 1.0 // working set of one in-flight run
	const memoryBufferGB = 2.0    // reserved for the server process and SQLite cache

	if availableGB < memoryBufferGB {
		return 1 // Always allow at least 1 worker
	}

	usableMemory := availableGB - memoryBufferGB
	recommended := int(usableMemory / memoryPerWorkerGB)

	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10 // Cap at reasonable maximum
	}

	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	queued, running, err := wp.queue.GetJobCounts()
	// Gracefully handle database errors - return 0s if query fails
	if err != nil {
		queued, running = 0, 0
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsQueued:    queued,
		JobsRunning:   running,
	}
}

// safeWorkerCount returns the memory-safe worker count for this host, or
// the configured count when memory stats are unavailable.
func (wp *WorkerPool) safeWorkerCount() int {
	_, available, err := getMemoryStats()
	if err != nil {
		return wp.workers // Can't check, run as configured
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	return calculateSafeWorkerCount(availableGB)
}
