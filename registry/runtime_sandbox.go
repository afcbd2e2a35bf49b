package registry

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/hook"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/monitor"
	"github.com/orbisys/warden/process"
	"github.com/orbisys/warden/sandbox"
)

// workerBinary is the worker executable resolved on PATH when the sandbox
// section does not pin a path.
const workerBinary = "warden-worker"

// sandboxLauncher runs modules out of process inside kernel sandboxes. The
// cgroup envelope is sized to the host ceilings; the plugin's own declared
// limits arrive with initialization and are enforced by the monitor.
type sandboxLauncher struct {
	reg *Registry
}

func (l *sandboxLauncher) Launch(ctx context.Context, provisionalName, path string) (runtime, error) {
	report := sandbox.Supported()
	if !report.Available {
		return nil, fmt.Errorf("%w: %s", ecode.ErrUnsupported, report.Reason)
	}

	conf := l.reg.conf
	cfg := sandbox.FromHost(conf.Sandbox, l.reg.ceilings())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workerBin := conf.Sandbox.WorkerPath
	if workerBin == "" {
		found, err := exec.LookPath(workerBinary)
		if err != nil {
			return nil, fmt.Errorf("registry: %s not found on PATH: %w", workerBinary, err)
		}
		workerBin = found
	}

	box, err := sandbox.Build(ctx, provisionalName, cfg)
	if err != nil {
		return nil, err
	}

	proc, err := process.Spawn(ctx, provisionalName, path, process.Options{
		WorkerBin:   workerBin,
		IPC:         conf.IPC,
		Box:         box,
		OnUnhealthy: l.reg.workerFailed,
	})
	if err != nil {
		if terr := box.Teardown(ctx); terr != nil {
			logger.Warnf(ctx, "sandbox teardown after failed spawn for %s: %v", provisionalName, terr)
		}
		return nil, err
	}
	return &sandboxRuntime{reg: l.reg, proc: proc}, nil
}

// sandboxRuntime drives a plugin hosted by a sandboxed worker process.
type sandboxRuntime struct {
	reg     *Registry
	proc    *process.Proc
	handles []hook.HandleID
}

// Initialize runs the initialize round trip and mirrors the worker-side
// hook table into the host registry as forwarding handlers. The handler
// budget is enforced inside the worker; the mirror inherits the caller's
// deadline so the worker's own timeout answer arrives before the transport
// gives up.
func (rt *sandboxRuntime) Initialize(ctx context.Context) (moduleMeta, error) {
	meta, table, err := rt.proc.Initialize(ctx, rt.reg.hctx.Export(), rt.reg.conf.Sandbox.AllowedHosts)
	if err != nil {
		return moduleMeta{}, err
	}

	for _, att := range table {
		att := att
		timeout := time.Duration(att.TimeoutMS) * time.Millisecond
		id, rerr := rt.reg.hooks.Register(hook.Registration{
			Hook:     att.Hook,
			Owner:    meta.Name,
			Priority: att.Priority,
			Handler: func(hctx context.Context, data []byte) ([]byte, error) {
				return rt.proc.ExecuteHook(hctx, att.Hook, data, timeout)
			},
		})
		if rerr != nil {
			for _, h := range rt.handles {
				rt.reg.hooks.Unregister(h)
			}
			rt.handles = nil
			return moduleMeta{}, ecode.Initialization(meta.Name, fmt.Errorf("mirror hook %q: %v", att.Hook, rerr))
		}
		rt.handles = append(rt.handles, id)
	}

	return moduleMeta{
		Name:        meta.Name,
		Version:     meta.Version,
		Author:      meta.Author,
		Description: meta.Description,
		Limits:      meta.Limits,
	}, nil
}

// Usage prefers the host's own view of the worker process and falls back to
// the worker's self-report when /proc is not fully readable across the
// namespace boundary.
func (rt *sandboxRuntime) Usage(ctx context.Context) (governor.Usage, error) {
	u, err := monitor.SampleProcess(ctx, rt.proc.PID())
	if err == nil && !u.Degraded {
		return u, nil
	}
	if wu, werr := rt.proc.Metrics(ctx); werr == nil {
		return wu, nil
	}
	return u, err
}

func (rt *sandboxRuntime) Shutdown(ctx context.Context) error {
	return rt.proc.Shutdown(ctx)
}

func (rt *sandboxRuntime) Release(ctx context.Context) error {
	return rt.proc.Release(ctx)
}

func (rt *sandboxRuntime) PID() int { return rt.proc.PID() }

func (rt *sandboxRuntime) Sandboxed() bool { return true }
