// Package monitor samples live plugin resource usage and runs the periodic
// check loop that feeds the governor.
//
// Sandboxed plugins are sampled per PID through gopsutil. In-process
// plugins cannot be attributed OS resources, so they fall back to a reduced
// runtime-wide sample marked Degraded: a visible gap instead of a silent
// zero.
package monitor

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/orbisys/warden/governor"
)

// SampleProcess reads one usage sample for the given PID.
func SampleProcess(ctx context.Context, pid int) (governor.Usage, error) {
	if pid <= 0 {
		return governor.Usage{}, fmt.Errorf("monitor: invalid pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return governor.Usage{}, fmt.Errorf("monitor: pid %d: %w", pid, err)
	}

	u := governor.Usage{
		HeapBytes:       -1,
		CPUTimeMS:       -1,
		Threads:         -1,
		FileDescriptors: -1,
		Connections:     -1,
	}

	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		u.HeapBytes = int64(mem.RSS)
	} else {
		u.Degraded = true
	}
	if times, err := p.TimesWithContext(ctx); err == nil && times != nil {
		u.CPUTimeMS = int64((times.User + times.System) * 1000)
	} else {
		u.Degraded = true
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = int(threads)
	} else {
		u.Degraded = true
	}
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		u.FileDescriptors = int(fds)
	} else {
		// unsupported off Linux, sampled where the kernel exposes it
		u.Degraded = true
	}
	if conns, err := p.ConnectionsWithContext(ctx); err == nil {
		u.Connections = len(conns)
	} else {
		u.Degraded = true
	}

	if u.HeapBytes < 0 && u.CPUTimeMS < 0 && u.Threads < 0 {
		return governor.Usage{}, fmt.Errorf("monitor: pid %d: no metric could be sampled", pid)
	}
	return u, nil
}

// SampleSelf samples the calling process. The worker uses it to answer
// metrics requests about itself.
func SampleSelf(ctx context.Context) (governor.Usage, error) {
	return SampleProcess(ctx, os.Getpid())
}

// SampleRuntime returns the reduced in-process sample: heap in use and the
// goroutine count as a thread proxy. CPU time, descriptors and connections
// cannot be attributed to one in-process plugin and stay unsampled.
func SampleRuntime() governor.Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return governor.Usage{
		HeapBytes:       int64(ms.HeapAlloc),
		CPUTimeMS:       -1,
		Threads:         runtime.NumGoroutine(),
		FileDescriptors: -1,
		Connections:     -1,
		Degraded:        true,
	}
}
