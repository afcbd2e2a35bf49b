//go:build linux && !amd64 && !arm64

package sandbox

// No filter tables for this architecture; installSeccomp rejects the
// profile and the load fails closed instead of running unfiltered.
const auditArch = 0

var syscallNumbers = map[string]uint32{}
