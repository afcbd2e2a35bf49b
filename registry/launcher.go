package registry

import (
	"context"

	"github.com/orbisys/warden/governor"
)

// launcher starts a module runtime for a verified artifact. Launching only
// loads or spawns; initialization is a separate step so the registry never
// holds its lock across either.
type launcher interface {
	Launch(ctx context.Context, provisionalName, path string) (runtime, error)
}

// runtime is one loaded module, in-process or sandboxed, driven uniformly
// by the lifecycle code.
type runtime interface {
	// Initialize brings the plugin up and returns its self-declared
	// metadata. On error the runtime has already detached anything it
	// attached to the host; the caller still owns Release.
	Initialize(ctx context.Context) (moduleMeta, error)
	// Usage samples the module's current resource consumption.
	Usage(ctx context.Context) (governor.Usage, error)
	// Shutdown asks the plugin to stop within the context's deadline.
	Shutdown(ctx context.Context) error
	// Release frees everything the runtime holds. Idempotent.
	Release(ctx context.Context) error
	PID() int
	Sandboxed() bool
}

// moduleMeta is what a module declares about itself at initialization. The
// limits are as declared; the registry clamps them before enforcement.
type moduleMeta struct {
	Name        string
	Version     string
	Author      string
	Description string
	Limits      governor.ResourceLimits
}
