// Package process supervises one out-of-process plugin worker: spawning it
// against its sandbox, driving the initialize/hook/shutdown conversation
// over IPC, and cleaning up the process tree when the plugin goes away.
//
// A Proc owns the worker for its whole lifetime. Hook traffic runs through
// a per-plugin circuit breaker so a worker that stops answering sheds load
// instead of stacking up blocked callers, and a background ping loop
// reports a worker that stops answering health checks entirely.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/orbisys/warden/config"
	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/ipc"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/sandbox"
)

// pingMissLimit is how many consecutive failed health checks a worker gets
// before it is reported unhealthy.
const pingMissLimit = 2

// Options configure a spawn.
type Options struct {
	// WorkerBin is the path of the worker binary to execute.
	WorkerBin string
	// IPC carries transport tuning; nil uses the transport defaults.
	IPC *config.IPC
	// Box is the sandbox the worker runs in. Nil spawns a plain child
	// process with no kernel isolation.
	Box *sandbox.Sandbox
	// OnUnhealthy is invoked once, on its own goroutine, when the worker
	// stops answering health checks. The proc keeps its resources until
	// the owner releases it; the callback may do that release itself.
	OnUnhealthy func(name string, err error)
}

// Proc is a running plugin worker and the host's channel to it.
//
// Once Spawn succeeds the proc owns its sandbox and tears it down on
// Release. On spawn failure the caller keeps sandbox ownership.
type Proc struct {
	name       string
	pluginPath string
	cfg        config.IPC
	box        *sandbox.Sandbox

	cmd     *exec.Cmd
	pid     int
	exited  chan struct{}
	exitErr error

	ln      *ipc.Listener
	ch      *ipc.Channel
	breaker *gobreaker.CircuitBreaker

	// callGate serializes application round trips so the ping loop can
	// skip a tick instead of queueing behind a long hook execution.
	callGate sync.Mutex

	onUnhealthy func(name string, err error)
	pingCancel  context.CancelFunc
	pingDone    chan struct{}

	// runCancel ends the context the worker command was started under.
	// The proc owns the worker's lifetime; the caller's context only
	// bounds the startup handshake.
	runCancel context.CancelFunc

	released atomic.Bool
}

// Spawn starts the worker and waits for it to connect back. The listener is
// created before the process so the worker never races a missing socket;
// the startup timeout bounds exec-to-connection.
func Spawn(ctx context.Context, name, pluginPath string, opts Options) (*Proc, error) {
	if opts.WorkerBin == "" {
		return nil, fmt.Errorf("process: worker binary not configured")
	}
	cfg := ipcDefaults(opts.IPC)

	p := &Proc{
		name:        name,
		pluginPath:  pluginPath,
		cfg:         cfg,
		box:         opts.Box,
		onUnhealthy: opts.OnUnhealthy,
		breaker:     newBreaker(name),
	}

	ln, err := ipc.Listen(cfg.SocketDir, name,
		ipc.WithMaxFrameBytes(cfg.MaxFrameBytes),
		ipc.WithCallTimeout(cfg.CallTimeout),
		ipc.WithAsyncHandler(p.forwardLog),
	)
	if err != nil {
		return nil, err
	}
	p.ln = ln

	runCtx, runCancel := context.WithCancel(context.Background())
	p.runCancel = runCancel
	cmd, err := p.buildCommand(runCtx, opts, ln.Endpoint())
	if err != nil {
		runCancel()
		ln.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		runCancel()
		ln.Close()
		return nil, fmt.Errorf("process: start worker for %s: %w", name, err)
	}
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.exited = make(chan struct{})
	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	acceptCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()
	ch, err := ln.Accept(acceptCtx)
	if err != nil {
		p.kill()
		p.waitExit(time.Second)
		runCancel()
		ln.Close()
		return nil, err
	}
	p.ch = ch

	p.startPing()
	logger.Infof(ctx, "worker for plugin %s running as pid %d", name, p.pid)
	return p, nil
}

func (p *Proc) buildCommand(ctx context.Context, opts Options, endpoint string) (*exec.Cmd, error) {
	args := []string{
		"--name", p.name,
		"--plugin", p.pluginPath,
		"--endpoint", endpoint,
	}
	if opts.Box == nil {
		return exec.CommandContext(ctx, opts.WorkerBin, args...), nil
	}
	enter, err := sandbox.EncodeEnterSpec(opts.Box.EnterSpec())
	if err != nil {
		return nil, err
	}
	args = append(args, "--enter", enter)
	return opts.Box.Command(ctx, opts.WorkerBin, args...)
}

// Name returns the plugin the worker hosts.
func (p *Proc) Name() string { return p.name }

// PID returns the worker's process id.
func (p *Proc) PID() int { return p.pid }

// Alive reports whether the worker process is still running.
func (p *Proc) Alive() bool {
	if p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// roundTrip performs one serialized request/response exchange.
func (p *Proc) roundTrip(ctx context.Context, req ipc.Message) (ipc.Message, error) {
	p.callGate.Lock()
	defer p.callGate.Unlock()
	return p.ch.Call(ctx, req)
}

// Initialize asks the worker to load and initialize the plugin, then
// collects the hook table the plugin registered so the host can mirror it.
// exported is the host context snapshot handed across the boundary. The
// returned payload carries the plugin's self-declared metadata and limits.
func (p *Proc) Initialize(ctx context.Context, exported map[string]json.RawMessage, allowedHosts []string) (*ipc.InitializedPayload, []ipc.HookAttachment, error) {
	req, err := ipc.New(ipc.TypeInitialize, ipc.InitializePayload{
		PluginName:   p.name,
		PluginPath:   p.pluginPath,
		Context:      exported,
		AllowedHosts: allowedHosts,
	})
	if err != nil {
		return nil, nil, err
	}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	var meta ipc.InitializedPayload
	switch resp.Type {
	case ipc.TypeOK:
		if err := resp.Decode(&meta); err != nil {
			return nil, nil, ecode.Protocol(err.Error())
		}
	case ipc.TypeError:
		return nil, nil, ecode.Initialization(p.name, ipc.DecodeError(resp))
	default:
		return nil, nil, ecode.Protocol(fmt.Sprintf("unexpected %s response to initialize", resp.Type))
	}

	req, err = ipc.New(ipc.TypeRegisterHooks, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err = p.roundTrip(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	switch resp.Type {
	case ipc.TypeHookTable:
	case ipc.TypeError:
		return nil, nil, ecode.Initialization(p.name, ipc.DecodeError(resp))
	default:
		return nil, nil, ecode.Protocol(fmt.Sprintf("unexpected %s response to register_hooks", resp.Type))
	}
	var table ipc.HookTablePayload
	if err := resp.Decode(&table); err != nil {
		return nil, nil, ecode.Protocol(err.Error())
	}
	return &meta, table.Hooks, nil
}

// ExecuteHook forwards one hook invocation to the worker. timeout bounds
// the handler chain inside the worker; the round trip itself gets a little
// slack on top so the worker's own timeout answer arrives first.
//
// Calls run through the circuit breaker. Transport failures and timeouts
// trip it; handler errors travel through without counting against the
// worker. A tripped breaker surfaces as a channel failure.
func (p *Proc) ExecuteHook(ctx context.Context, hookName string, data []byte, timeout time.Duration) ([]byte, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.executeHook(ctx, hookName, data, timeout)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ecode.Channel(fmt.Errorf("plugin %s: %w", p.name, err))
		}
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]byte), nil
}

func (p *Proc) executeHook(ctx context.Context, hookName string, data []byte, timeout time.Duration) ([]byte, error) {
	req, err := ipc.New(ipc.TypeExecuteHook, ipc.ExecuteHookPayload{
		Hook:      hookName,
		Data:      data,
		TimeoutMS: timeout.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
	}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	switch resp.Type {
	case ipc.TypeHookResult:
		var result ipc.HookResultPayload
		if err := resp.Decode(&result); err != nil {
			return nil, ecode.Protocol(err.Error())
		}
		return result.Data, nil
	case ipc.TypeError:
		return nil, ecode.Hook(hookName, ipc.DecodeError(resp))
	default:
		return nil, ecode.Protocol(fmt.Sprintf("unexpected %s response to execute_hook", resp.Type))
	}
}

// Metrics returns the worker's resource usage: its own sample when the
// worker answers, the cgroup accounting when it does not. A sandboxed
// worker that hangs still shows up in the kernel's numbers.
func (p *Proc) Metrics(ctx context.Context) (governor.Usage, error) {
	req, err := ipc.New(ipc.TypeGetMetrics, nil)
	if err != nil {
		return governor.Usage{}, err
	}
	resp, err := p.roundTrip(ctx, req)
	if err == nil && resp.Type == ipc.TypeMetrics {
		var mp ipc.MetricsPayload
		if derr := resp.Decode(&mp); derr == nil {
			return mp.Usage, nil
		}
	}
	if p.box != nil {
		return p.box.Usage()
	}
	if err == nil {
		err = ecode.Protocol(fmt.Sprintf("unexpected %s response to get_metrics", resp.Type))
	}
	return governor.Usage{}, err
}

// Ping performs one health round trip.
func (p *Proc) Ping(ctx context.Context) error {
	req, err := ipc.New(ipc.TypePing, nil)
	if err != nil {
		return err
	}
	resp, err := p.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if resp.Type != ipc.TypePong {
		return ecode.Protocol(fmt.Sprintf("unexpected %s response to ping", resp.Type))
	}
	return nil
}

// Shutdown asks the worker to stop the plugin and exit within the grace
// period, then forces whatever is left. The proc is released either way.
func (p *Proc) Shutdown(ctx context.Context) error {
	grace := p.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.Now().Add(grace)

	if p.ch != nil && !p.ch.Closed() {
		if req, err := ipc.New(ipc.TypeShutdown, ipc.ShutdownPayload{GraceMS: grace.Milliseconds()}); err == nil {
			callCtx, cancel := context.WithDeadline(ctx, deadline)
			resp, err := p.roundTrip(callCtx, req)
			cancel()
			if err != nil {
				logger.Warnf(ctx, "plugin %s shutdown request failed, forcing: %v", p.name, err)
			} else if resp.Type != ipc.TypeShutdownAck {
				logger.Warnf(ctx, "plugin %s answered shutdown with %s", p.name, resp.Type)
			}
		}
	}

	if !p.waitExit(time.Until(deadline)) {
		logger.Warnf(ctx, "plugin %s worker pid %d did not exit in grace period, killing", p.name, p.pid)
		p.kill()
	}
	return p.Release(ctx)
}

// Release force-stops everything the proc holds: ping loop, channel,
// listener, process, sandbox. Idempotent; Shutdown calls it after the
// graceful attempt.
func (p *Proc) Release(ctx context.Context) error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	// Cancel before closing the channel: a ping blocked in a read wakes up
	// from the close and must see the cancellation, not a worker failure.
	if p.pingCancel != nil {
		p.pingCancel()
	}
	if p.ch != nil {
		p.ch.Close()
	}
	if p.pingDone != nil {
		<-p.pingDone
	}
	if p.ln != nil {
		p.ln.Close()
	}
	p.kill()
	p.waitExit(time.Second)
	if p.runCancel != nil {
		p.runCancel()
	}
	if p.box != nil {
		return p.box.Teardown(ctx)
	}
	return nil
}

func (p *Proc) kill() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// waitExit blocks until the worker exits or the wait times out.
func (p *Proc) waitExit(d time.Duration) bool {
	if p.exited == nil {
		return true
	}
	if d <= 0 {
		select {
		case <-p.exited:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

// forwardLog relays a worker log frame to the host logger under the
// plugin's name. Worker fatal levels land as host errors; a plugin cannot
// take the host down through its logging.
func (p *Proc) forwardLog(m ipc.Message) {
	var rec ipc.LogPayload
	if err := m.Decode(&rec); err != nil {
		logger.Warnf(context.Background(), "plugin %s sent unreadable log frame", p.name)
		return
	}
	entry := logger.WithPlugin(context.Background(), p.name)
	switch strings.ToLower(rec.Level) {
	case "trace":
		entry.Trace(rec.Message)
	case "debug":
		entry.Debug(rec.Message)
	case "warn", "warning":
		entry.Warn(rec.Message)
	case "error", "fatal", "panic":
		entry.Error(rec.Message)
	default:
		entry.Info(rec.Message)
	}
}

// newBreaker builds the per-plugin circuit breaker: trips at a 60% failure
// ratio over at least three calls, probes again after the timeout. Handler
// errors are the plugin's business and do not count as worker failures.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ecode.ErrHook)
		},
	})
}

// ipcDefaults fills unset transport knobs.
func ipcDefaults(in *config.IPC) config.IPC {
	cfg := config.IPC{
		SocketDir:      "/tmp/warden-plugins",
		MaxFrameBytes:  ipc.DefaultMaxFrameBytes,
		CallTimeout:    30 * time.Second,
		StartupTimeout: 10 * time.Second,
		ShutdownGrace:  5 * time.Second,
		PingInterval:   5 * time.Second,
	}
	if in == nil {
		return cfg
	}
	if in.SocketDir != "" {
		cfg.SocketDir = in.SocketDir
	}
	if in.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = in.MaxFrameBytes
	}
	if in.CallTimeout > 0 {
		cfg.CallTimeout = in.CallTimeout
	}
	if in.StartupTimeout > 0 {
		cfg.StartupTimeout = in.StartupTimeout
	}
	if in.ShutdownGrace > 0 {
		cfg.ShutdownGrace = in.ShutdownGrace
	}
	if in.PingInterval > 0 {
		cfg.PingInterval = in.PingInterval
	}
	return cfg
}
