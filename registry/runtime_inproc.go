package registry

import (
	"context"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/monitor"
	"github.com/orbisys/warden/pluginapi"
)

// inprocLauncher loads modules into the host address space through the
// stdlib plugin loader. No isolation applies; the operator opted in through
// the registry mode.
type inprocLauncher struct {
	reg *Registry
}

func (l *inprocLauncher) Launch(_ context.Context, _, path string) (runtime, error) {
	mod, err := pluginapi.Open(path)
	if err != nil {
		return nil, err
	}
	return &inprocRuntime{reg: l.reg, mod: mod}, nil
}

// inprocRuntime drives a plugin that shares the host process.
type inprocRuntime struct {
	reg *Registry
	mod *pluginapi.Module
}

func (rt *inprocRuntime) Initialize(ctx context.Context) (moduleMeta, error) {
	p := rt.mod.Plugin
	meta := moduleMeta{
		Name:        p.Name(),
		Version:     p.Version(),
		Author:      p.Author(),
		Description: p.Description(),
		Limits:      p.Limits(),
	}
	if err := p.Init(ctx, rt.reg.hctx, rt.reg.hooks); err != nil {
		// The plugin may have attached handlers before failing; detach
		// them so a half-initialized module leaves nothing behind.
		_ = rt.reg.hooks.Drain(meta.Name, time.Second)
		rt.reg.hooks.UnregisterOwner(meta.Name)
		return moduleMeta{}, ecode.Initialization(meta.Name, err)
	}
	return meta, nil
}

// Usage is the reduced runtime-wide sample: OS resources cannot be
// attributed to one in-process module.
func (rt *inprocRuntime) Usage(context.Context) (governor.Usage, error) {
	return monitor.SampleRuntime(), nil
}

func (rt *inprocRuntime) Shutdown(ctx context.Context) error {
	return rt.mod.Plugin.Shutdown(ctx)
}

func (rt *inprocRuntime) Release(context.Context) error {
	return rt.mod.Close()
}

// PID is zero: the module has no process of its own.
func (rt *inprocRuntime) PID() int { return 0 }

func (rt *inprocRuntime) Sandboxed() bool { return false }
