// Package benchmark - Throughput measurement of the extract, predict and aggregate pipeline.
package benchmark

import (
	"time"

	"github.com/nvr-ai/go-tileinfer/profiler"
)

// PerformanceMetrics captures one scenario's results.
type PerformanceMetrics struct {
	Scenario        Scenario           `json:"scenario"`
	Model           string             `json:"model"`
	Timestamp       time.Time          `json:"timestamp"`
	Tiles           int                `json:"tiles"`
	TotalDuration   time.Duration      `json:"total_duration"`
	FramesPerSecond float64            `json:"frames_per_second"`
	TilesPerSecond  float64            `json:"tiles_per_second"`
	Stages          []profiler.Summary `json:"stages"`
	MemoryStats     MemoryMetrics      `json:"memory_stats"`
	NumCPU          int                `json:"num_cpu"`
	Errors          int                `json:"errors"`
	ErrorRate       float64            `json:"error_rate"`
}

// Stage returns the summary for one pipeline stage.
func (m PerformanceMetrics) Stage(name string) (profiler.Summary, bool) {
	for _, s := range m.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return profiler.Summary{}, false
}

// MemoryMetrics captures memory usage over a scenario.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}
