//go:build !linux

package sandbox

import "runtime"

// Supported reports that no isolation primitive exists off Linux. Callers
// that still want the plugin must opt into in-process loading explicitly.
func Supported() SupportReport {
	return SupportReport{Reason: "sandboxing requires linux, running on " + runtime.GOOS}
}
