// Command warden-worker hosts a single plugin module inside its sandbox
// and serves the supervisor's IPC conversation over the socket it was
// handed. The warden host spawns one worker per sandboxed plugin; it is
// not meant to be run by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orbisys/warden/hook"
	"github.com/orbisys/warden/hostctx"
	"github.com/orbisys/warden/ipc"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/monitor"
	"github.com/orbisys/warden/pluginapi"
	"github.com/orbisys/warden/sandbox"
	"github.com/orbisys/warden/version"
)

const (
	// dialTimeout bounds the connect back to the host. The host gives up
	// on the worker after its own startup timeout anyway.
	dialTimeout = 10 * time.Second
	// sendTimeout bounds a single response frame. The host is always
	// reading while a request is pending.
	sendTimeout = 5 * time.Second
	// orphanGrace is the shutdown window when the host disappears without
	// a shutdown exchange.
	orphanGrace = 2 * time.Second
)

func main() {
	var (
		name     = flag.String("name", "", "plugin name this worker hosts")
		plugin   = flag.String("plugin", "", "path to the plugin shared object")
		endpoint = flag.String("endpoint", "", "unix socket the host listens on")
		enter    = flag.String("enter", "", "encoded sandbox enter spec")
	)
	flag.Parse()

	if *name == "" || *endpoint == "" {
		fmt.Fprintln(os.Stderr, "warden-worker is spawned by the warden host and needs --name and --endpoint")
		os.Exit(2)
	}
	if err := run(*name, *plugin, *endpoint, *enter); err != nil {
		fmt.Fprintf(os.Stderr, "warden-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(name, pluginPath, endpoint, enter string) error {
	var spec sandbox.EnterSpec
	if enter != "" {
		var err error
		spec, err = sandbox.DecodeEnterSpec(enter)
		if err != nil {
			return err
		}
		// Confinement comes first: no module code is mapped and no socket
		// is dialed until the namespace views are in place.
		if err := sandbox.Enter(spec); err != nil {
			return fmt.Errorf("enter sandbox: %w", err)
		}
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	ch, err := ipc.Dial(dialCtx, endpoint)
	cancel()
	if err != nil {
		return fmt.Errorf("dial host: %w", err)
	}
	defer ch.Close()

	// The host discards worker stdio. Log frames over the channel are the
	// only sink, so everything the plugin logs travels there.
	logger.SetOutput(io.Discard)
	logger.SetVersion(version.Version)
	logger.AddHook(&logForwarder{ch: ch, plugin: name})

	w := &worker{
		name:  name,
		path:  pluginPath,
		ch:    ch,
		spec:  spec,
		boxed: enter != "",
		hooks: hook.NewRegistry(),
	}
	return w.serve()
}

// worker owns the one plugin this process hosts and the channel back to
// the supervisor. The host serializes its requests, so handlers run one
// at a time on the serve goroutine; only log frames interleave.
type worker struct {
	name  string
	path  string
	ch    *ipc.Channel
	spec  sandbox.EnterSpec
	boxed bool

	hooks  *hook.Registry
	mod    *pluginapi.Module
	plugin pluginapi.Plugin
}

func (w *worker) serve() error {
	ctx := context.Background()
	for {
		req, err := w.ch.Recv(ctx)
		if err != nil {
			// The host is gone or the channel broke. Give the plugin a
			// short window to clean up and report the unclean exit.
			w.shutdownPlugin(orphanGrace)
			return fmt.Errorf("host channel lost: %w", err)
		}

		switch req.Type {
		case ipc.TypeInitialize:
			err = w.handleInitialize(ctx, req)
		case ipc.TypeRegisterHooks:
			err = w.handleRegisterHooks(req)
		case ipc.TypeExecuteHook:
			err = w.handleExecuteHook(ctx, req)
		case ipc.TypeGetMetrics:
			err = w.handleMetrics(ctx, req)
		case ipc.TypePing:
			err = w.reply(req, ipc.TypePong, nil)
		case ipc.TypeShutdown:
			return w.handleShutdown(req)
		default:
			err = w.replyError(req, fmt.Sprintf("unsupported request type %q", req.Type))
		}
		if err != nil {
			w.shutdownPlugin(orphanGrace)
			return err
		}
	}
}

// handleInitialize loads the shared object, hands the plugin its imported
// host context plus the network policy, and runs Init. Load and init
// failures go back as error replies; the worker stays up so the host
// decides what happens next.
func (w *worker) handleInitialize(ctx context.Context, req ipc.Message) error {
	if w.plugin != nil {
		return w.replyError(req, "plugin already initialized")
	}
	var payload ipc.InitializePayload
	if err := req.Decode(&payload); err != nil {
		return w.replyError(req, fmt.Sprintf("decode initialize: %v", err))
	}
	path := payload.PluginPath
	if path == "" {
		path = w.path
	}

	mod, err := pluginapi.Open(path)
	if err != nil {
		return w.replyError(req, err.Error())
	}

	hctx := hostctx.Import(payload.Context)
	hctx.Set(hostctx.KeyNetworkPolicy, w.networkPolicy(payload.AllowedHosts))

	if err := mod.Plugin.Init(ctx, hctx, w.hooks); err != nil {
		_ = mod.Close()
		return w.replyError(req, fmt.Sprintf("plugin init: %v", err))
	}
	w.mod = mod
	w.plugin = mod.Plugin

	logger.Infof(ctx, "plugin %s initialized from %s", w.plugin.Name(), path)
	return w.reply(req, ipc.TypeOK, ipc.InitializedPayload{
		Name:        w.plugin.Name(),
		Version:     w.plugin.Version(),
		Author:      w.plugin.Author(),
		Description: w.plugin.Description(),
		Limits:      w.plugin.Limits(),
	})
}

// networkPolicy builds the dialer gate the plugin is expected to route
// outbound connections through. Outside a sandbox there is nothing to
// confine.
func (w *worker) networkPolicy(allowed []string) *sandbox.Policy {
	if !w.boxed {
		return sandbox.NewPolicy(sandbox.NetworkUnrestricted, nil)
	}
	if len(allowed) == 0 {
		allowed = w.spec.AllowedHosts
	}
	return sandbox.NewPolicy(w.spec.Network, allowed)
}

func (w *worker) handleRegisterHooks(req ipc.Message) error {
	if w.plugin == nil {
		return w.replyError(req, "plugin not initialized")
	}
	infos := w.hooks.All()
	table := ipc.HookTablePayload{Hooks: make([]ipc.HookAttachment, 0, len(infos))}
	for _, info := range infos {
		table.Hooks = append(table.Hooks, ipc.HookAttachment{
			Hook:      info.Hook,
			Priority:  info.Priority,
			TimeoutMS: info.Timeout.Milliseconds(),
		})
	}
	return w.reply(req, ipc.TypeHookTable, table)
}

func (w *worker) handleExecuteHook(ctx context.Context, req ipc.Message) error {
	if w.plugin == nil {
		return w.replyError(req, "plugin not initialized")
	}
	var payload ipc.ExecuteHookPayload
	if err := req.Decode(&payload); err != nil {
		return w.replyError(req, fmt.Sprintf("decode execute_hook: %v", err))
	}

	runCtx := ctx
	if payload.TimeoutMS > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(payload.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	out, err := w.hooks.Dispatch(runCtx, payload.Hook, payload.Data)
	if err != nil {
		return w.replyError(req, err.Error())
	}
	return w.reply(req, ipc.TypeHookResult, ipc.HookResultPayload{Data: out})
}

// handleMetrics self-samples the worker process. When the OS view is not
// available from inside the sandbox it degrades to runtime stats rather
// than answering with an error.
func (w *worker) handleMetrics(ctx context.Context, req ipc.Message) error {
	usage, err := monitor.SampleSelf(ctx)
	if err != nil {
		usage = monitor.SampleRuntime()
	}
	return w.reply(req, ipc.TypeMetrics, ipc.MetricsPayload{Usage: usage})
}

func (w *worker) handleShutdown(req ipc.Message) error {
	var payload ipc.ShutdownPayload
	_ = req.Decode(&payload) // a bare shutdown request still shuts down
	grace := time.Duration(payload.GraceMS) * time.Millisecond
	if grace <= 0 {
		grace = orphanGrace
	}
	w.shutdownPlugin(grace)
	return w.reply(req, ipc.TypeShutdownAck, nil)
}

// shutdownPlugin runs the plugin's shutdown inside the grace window and
// releases the module. Safe to call more than once.
func (w *worker) shutdownPlugin(grace time.Duration) {
	if w.plugin == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := w.plugin.Shutdown(ctx); err != nil {
		logger.Warnf(ctx, "plugin %s shutdown: %v", w.name, err)
	}
	if w.mod != nil {
		_ = w.mod.Close()
	}
	w.plugin = nil
	w.mod = nil
}

func (w *worker) reply(req ipc.Message, t ipc.Type, payload any) error {
	resp, err := ipc.Reply(req, t, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return w.ch.Send(ctx, resp)
}

func (w *worker) replyError(req ipc.Message, msg string) error {
	return w.reply(req, ipc.TypeError, ipc.ErrorPayload{Message: msg})
}

// logForwarder ships every logrus entry to the host as an async log
// frame. Send failures are dropped; logging must never wedge a handler.
type logForwarder struct {
	ch     *ipc.Channel
	plugin string
}

func (f *logForwarder) Levels() []logrus.Level { return logrus.AllLevels }

func (f *logForwarder) Fire(e *logrus.Entry) error {
	m, err := ipc.New(ipc.TypeLog, ipc.LogPayload{
		Level:   e.Level.String(),
		Message: e.Message,
		Plugin:  f.plugin,
	})
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = f.ch.Send(ctx, m)
	return nil
}
