// Package registry is the host-facing plugin manager: it discovers plugin
// artifacts, gates them through the trust verifier, drives load/unload,
// watches resource consumption and publishes lifecycle events.
//
// All plugin state lives in one record arena guarded by a single RWMutex.
// The lock is held only for map lookups and status transitions, never
// across module initialization, IPC round trips or sandbox construction:
// long operations run between a brief begin-lock and a re-checked
// finalize-lock.
package registry

import (
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/orbisys/warden/cache"
	"github.com/orbisys/warden/config"
	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/event"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/hook"
	"github.com/orbisys/warden/hostctx"
	"github.com/orbisys/warden/monitor"
	"github.com/orbisys/warden/trust"
)

// Registry manages the plugin population for one host process.
type Registry struct {
	conf *config.Config

	mu      sync.RWMutex
	records map[string]*record

	verifier *trust.Verifier
	policy   trust.SecurityPolicy

	hooks *hook.Registry
	hctx  *hostctx.Context
	bus   *event.Bus
	board *monitor.Board

	launch launcher

	monMu sync.Mutex
	mon   *monitor.Monitor

	watchMu   sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// Option adjusts a Registry at construction.
type Option func(*Registry)

// WithVerifier replaces the verifier built from the configured trust store.
func WithVerifier(v *trust.Verifier) Option {
	return func(r *Registry) { r.verifier = v }
}

// New builds a registry from the host configuration. The trust store is
// opened eagerly so a sealed-store problem surfaces here, not on the first
// load.
func New(conf *config.Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		conf:    conf,
		records: make(map[string]*record),
		hooks:   hook.NewRegistry(),
		hctx:    hostctx.New(),
		bus:     event.NewBus(),
		board:   monitor.NewBoard(),
		policy: trust.SecurityPolicy{
			OnlyTrusted:    conf.Trust.OnlyTrusted,
			TrustStorePath: conf.Trust.StorePath,
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.verifier == nil {
		store, err := trust.Load(conf.Trust.StorePath, conf.Trust.Passphrase)
		if err != nil {
			return nil, err
		}
		r.verifier = trust.NewVerifier(store)
	}

	switch conf.Registry.Mode {
	case "inprocess":
		r.launch = &inprocLauncher{reg: r}
	default:
		r.launch = &sandboxLauncher{reg: r}
	}

	// Live services for plugins sharing the host process; the JSON export
	// for sandboxed workers skips them.
	r.hctx.Set(hostctx.KeyEventBus, r.bus)
	r.hctx.Set(hostctx.KeyCache, cache.NewMemory())
	r.hctx.Set(hostctx.KeyMetrics, r.board)
	r.hctx.Set(hostctx.KeyConfiguration, map[string]any{
		"app_name": conf.AppName,
		"run_mode": conf.RunMode,
	})
	return r, nil
}

// Hooks returns the host hook registry plugins attach to.
func (r *Registry) Hooks() *hook.Registry { return r.hooks }

// HostContext returns the context store handed to plugins at init.
func (r *Registry) HostContext() *hostctx.Context { return r.hctx }

// Events returns the lifecycle event bus.
func (r *Registry) Events() *event.Bus { return r.bus }

// Subscribe attaches a handler to a lifecycle event.
func (r *Registry) Subscribe(eventName string, handler func(event.Data)) {
	r.bus.Subscribe(eventName, handler)
}

// Usage returns the latest monitor sample for a plugin, if one exists.
func (r *Registry) Usage(name string) (monitor.Sample, bool) {
	return r.board.Get(name)
}

// GetPluginInfo returns a copy of the named plugin's record.
func (r *Registry) GetPluginInfo(name string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return Info{}, ecode.NotFound(name)
	}
	return rec.info(), nil
}

// ListLoadedPlugins returns the active and paused plugins sorted by name.
func (r *Registry) ListLoadedPlugins() []Info {
	return r.list(func(rec *record) bool { return rec.loaded() })
}

// GetAvailablePlugins returns discovered, verified artifacts not yet loaded.
func (r *Registry) GetAvailablePlugins() []Info {
	return r.list(func(rec *record) bool { return rec.status == StatusAvailable })
}

// GetUntrustedPlugins returns artifacts that failed verification.
func (r *Registry) GetUntrustedPlugins() []Info {
	return r.list(func(rec *record) bool { return rec.status == StatusUntrusted })
}

func (r *Registry) list(keep func(*record) bool) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.records))
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec.info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsLoaded reports whether the named plugin is loaded (active or paused).
func (r *Registry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return ok && rec.loaded()
}

// LoadedCount returns the number of loaded plugins.
func (r *Registry) LoadedCount() int {
	return r.count(func(rec *record) bool { return rec.loaded() })
}

// AvailableCount returns the number of discovered, loadable artifacts.
func (r *Registry) AvailableCount() int {
	return r.count(func(rec *record) bool { return rec.status == StatusAvailable })
}

func (r *Registry) count(keep func(*record) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if keep(rec) {
			n++
		}
	}
	return n
}

// ResetViolations clears the named plugin's violation ledger and returns
// how many records were dropped.
func (r *Registry) ResetViolations(name string) (int, error) {
	r.mu.RLock()
	rec, ok := r.records[name]
	var tracker *governor.Tracker
	if ok {
		tracker = rec.tracker
	}
	r.mu.RUnlock()
	if !ok {
		return 0, ecode.NotFound(name)
	}
	if tracker == nil {
		return 0, nil
	}
	return tracker.Reset(), nil
}

// ceilings converts the configured host ceilings into governor limits.
func (r *Registry) ceilings() governor.ResourceLimits {
	c := r.conf.Monitor.Ceilings
	return governor.ResourceLimits{
		MaxHeapBytes:       c.MaxHeapBytes,
		MaxCPUTimeMS:       c.MaxCPUTimeMS,
		MaxThreads:         c.MaxThreads,
		MaxFileDescriptors: c.MaxFileDescriptors,
		MaxConnections:     c.MaxConnections,
	}
}

// unmountBehavior assembles the violation response from configuration.
func (r *Registry) unmountBehavior() governor.UnmountBehavior {
	b := governor.DefaultUnmountBehavior()
	b.AutoUnmount = r.conf.Monitor.AutoUnmount
	b.LogViolations = r.conf.Monitor.LogViolations
	return b
}

// findByPathLocked returns the record tracking a given artifact path.
func (r *Registry) findByPathLocked(path string) *record {
	for _, rec := range r.records {
		if rec.path == path {
			return rec
		}
	}
	return nil
}
