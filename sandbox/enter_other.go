//go:build !linux

package sandbox

import "github.com/orbisys/warden/ecode"

// Enter only exists on Linux. A zero spec is a no-op so the worker binary
// still runs unsandboxed where the operator explicitly allows it.
func Enter(spec EnterSpec) error {
	if spec.SandboxID == "" {
		return nil
	}
	return ecode.ErrUnsupported
}
