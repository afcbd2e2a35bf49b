// Package governor defines per-plugin resource budgets and the violation
// ledger the resource monitor appends to.
//
// Limits are declared by the plugin, clamped to host ceilings at load, and
// compared against sampled usage while the plugin runs. Exceeding a limit
// produces a Record; records accumulate for the plugin's lifetime and only
// an explicit reset clears them.
package governor

import (
	"fmt"
	"time"
)

// ResourceLimits bounds one plugin's resource consumption.
type ResourceLimits struct {
	// MaxHeapBytes caps resident memory.
	MaxHeapBytes int64 `json:"max_heap_bytes"`
	// MaxCPUTimeMS caps accumulated CPU time in milliseconds.
	MaxCPUTimeMS int64 `json:"max_cpu_time_ms"`
	// MaxThreads caps concurrent OS threads.
	MaxThreads int `json:"max_threads"`
	// MaxFileDescriptors caps open descriptors.
	MaxFileDescriptors int `json:"max_file_descriptors"`
	// MaxConnections caps open network connections.
	MaxConnections int `json:"max_connections"`
}

// Default is the budget for a plugin that declares nothing.
func Default() ResourceLimits {
	return ResourceLimits{
		MaxHeapBytes:       512 * 1024 * 1024,
		MaxCPUTimeMS:       5000,
		MaxThreads:         10,
		MaxFileDescriptors: 100,
		MaxConnections:     50,
	}
}

// Strict is the budget for plugins handling untrusted input.
func Strict() ResourceLimits {
	return ResourceLimits{
		MaxHeapBytes:       64 * 1024 * 1024,
		MaxCPUTimeMS:       1000,
		MaxThreads:         4,
		MaxFileDescriptors: 32,
		MaxConnections:     8,
	}
}

// Relaxed is the budget for heavyweight, operator-vetted plugins.
func Relaxed() ResourceLimits {
	return ResourceLimits{
		MaxHeapBytes:       1024 * 1024 * 1024,
		MaxCPUTimeMS:       60000,
		MaxThreads:         32,
		MaxFileDescriptors: 256,
		MaxConnections:     128,
	}
}

// maxHeapCeiling rejects budgets no host should grant.
const maxHeapCeiling = 4 * 1024 * 1024 * 1024

// Validate rejects zero or absurd budgets before they reach enforcement.
func (l ResourceLimits) Validate() error {
	if l.MaxHeapBytes <= 0 {
		return fmt.Errorf("governor: max_heap_bytes must be positive")
	}
	if l.MaxHeapBytes > maxHeapCeiling {
		return fmt.Errorf("governor: max_heap_bytes %d exceeds 4GiB", l.MaxHeapBytes)
	}
	if l.MaxCPUTimeMS <= 0 {
		return fmt.Errorf("governor: max_cpu_time_ms must be positive")
	}
	if l.MaxThreads <= 0 {
		return fmt.Errorf("governor: max_threads must be positive")
	}
	if l.MaxFileDescriptors <= 0 {
		return fmt.Errorf("governor: max_file_descriptors must be positive")
	}
	if l.MaxConnections <= 0 {
		return fmt.Errorf("governor: max_connections must be positive")
	}
	return nil
}

// Clamp caps each declared limit at the host ceiling. A non-positive
// declared field means the plugin declared nothing for that axis and gets
// the ceiling.
func (l ResourceLimits) Clamp(ceiling ResourceLimits) ResourceLimits {
	return ResourceLimits{
		MaxHeapBytes:       clamp64(l.MaxHeapBytes, ceiling.MaxHeapBytes),
		MaxCPUTimeMS:       clamp64(l.MaxCPUTimeMS, ceiling.MaxCPUTimeMS),
		MaxThreads:         clampInt(l.MaxThreads, ceiling.MaxThreads),
		MaxFileDescriptors: clampInt(l.MaxFileDescriptors, ceiling.MaxFileDescriptors),
		MaxConnections:     clampInt(l.MaxConnections, ceiling.MaxConnections),
	}
}

func clamp64(declared, ceiling int64) int64 {
	if declared <= 0 || declared > ceiling {
		return ceiling
	}
	return declared
}

func clampInt(declared, ceiling int) int {
	if declared <= 0 || declared > ceiling {
		return ceiling
	}
	return declared
}

// Usage is one sample of a plugin's live resource consumption. A negative
// field means the platform could not sample that metric; Check skips it and
// Degraded should be set so the gap is visible instead of reading as zero.
type Usage struct {
	HeapBytes       int64 `json:"heap_bytes"`
	CPUTimeMS       int64 `json:"cpu_time_ms"`
	Threads         int   `json:"threads"`
	FileDescriptors int   `json:"file_descriptors"`
	Connections     int   `json:"connections"`
	// Degraded marks a sample taken with a reduced metric set.
	Degraded bool `json:"degraded,omitempty"`
}

// Check compares a usage sample against the limits and returns one Record
// per exceeded axis. Unsampled (negative) metrics produce no record.
func (l ResourceLimits) Check(u Usage, now time.Time) []Record {
	var out []Record
	if u.HeapBytes >= 0 && u.HeapBytes > l.MaxHeapBytes {
		out = append(out, Record{Kind: KindHeapMemory, Observed: u.HeapBytes, Limit: l.MaxHeapBytes, Timestamp: now})
	}
	if u.CPUTimeMS >= 0 && u.CPUTimeMS > l.MaxCPUTimeMS {
		out = append(out, Record{Kind: KindCPUTime, Observed: u.CPUTimeMS, Limit: l.MaxCPUTimeMS, Timestamp: now})
	}
	if u.Threads >= 0 && int64(u.Threads) > int64(l.MaxThreads) {
		out = append(out, Record{Kind: KindThreads, Observed: int64(u.Threads), Limit: int64(l.MaxThreads), Timestamp: now})
	}
	if u.FileDescriptors >= 0 && int64(u.FileDescriptors) > int64(l.MaxFileDescriptors) {
		out = append(out, Record{Kind: KindFileDescriptors, Observed: int64(u.FileDescriptors), Limit: int64(l.MaxFileDescriptors), Timestamp: now})
	}
	if u.Connections >= 0 && int64(u.Connections) > int64(l.MaxConnections) {
		out = append(out, Record{Kind: KindConnections, Observed: int64(u.Connections), Limit: int64(l.MaxConnections), Timestamp: now})
	}
	return out
}
