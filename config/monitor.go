package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Monitor resource monitor config struct
type Monitor struct {
	Interval           time.Duration // sampling interval
	AutoUnmount        bool          // retire a plugin when it crosses the threshold
	LogViolations      bool          // log each recorded violation
	ViolationThreshold int           // cumulative violations before retirement
	Ceilings           *Ceilings     // host-wide caps for declared plugin limits
}

// Ceilings caps the limits a plugin may declare for itself.
type Ceilings struct {
	MaxHeapBytes       int64
	MaxCPUTimeMS       int64
	MaxThreads         int
	MaxFileDescriptors int
	MaxConnections     int
}

// getMonitorConfig returns the monitor config
func getMonitorConfig(v *viper.Viper) *Monitor {
	return &Monitor{
		Interval:           getDurationOrDefault(v, "monitor.interval", 10*time.Second),
		AutoUnmount:        getBoolOrDefault(v, "monitor.auto_unmount", true),
		LogViolations:      getBoolOrDefault(v, "monitor.log_violations", true),
		ViolationThreshold: getIntOrDefault(v, "monitor.violation_threshold", 10),
		Ceilings: &Ceilings{
			MaxHeapBytes:       getInt64OrDefault(v, "monitor.ceilings.max_heap_bytes", 1<<30),
			MaxCPUTimeMS:       getInt64OrDefault(v, "monitor.ceilings.max_cpu_time_ms", 5*60*1000),
			MaxThreads:         getIntOrDefault(v, "monitor.ceilings.max_threads", 64),
			MaxFileDescriptors: getIntOrDefault(v, "monitor.ceilings.max_file_descriptors", 256),
			MaxConnections:     getIntOrDefault(v, "monitor.ceilings.max_connections", 64),
		},
	}
}

// Validate checks the monitor section.
func (m *Monitor) Validate() error {
	if m.Interval <= 0 {
		return fmt.Errorf("monitoring interval must be positive, got %v", m.Interval)
	}
	if m.ViolationThreshold <= 0 {
		return fmt.Errorf("violation threshold must be positive, got %d", m.ViolationThreshold)
	}
	if m.Ceilings == nil {
		return fmt.Errorf("ceilings must be configured")
	}
	if m.Ceilings.MaxHeapBytes <= 0 {
		return fmt.Errorf("heap ceiling must be positive, got %d", m.Ceilings.MaxHeapBytes)
	}
	if m.Ceilings.MaxThreads <= 0 {
		return fmt.Errorf("thread ceiling must be positive, got %d", m.Ceilings.MaxThreads)
	}
	return nil
}
