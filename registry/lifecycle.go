package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/event"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/trust"
)

// Load verifies and loads the module at path, returning the name the plugin
// declared for itself. accept is the weakest trust level the caller is
// willing to run: passing trust.LevelUntrusted admits an unverified module,
// but only when the policy allows it. A verification failure records the
// artifact as untrusted and takes no other side effect.
func (r *Registry) Load(ctx context.Context, path string, accept trust.Level) (string, error) {
	verdict, err := r.verifier.Verify(ctx, path)
	if err != nil {
		return "", ecode.Load(path, err)
	}

	key, err := r.beginLoad(ctx, path, verdict, accept)
	if err != nil {
		return "", err
	}

	name, err := r.completeLoad(ctx, key, path, verdict)
	if err != nil {
		r.fail(ctx, key, err)
		return "", err
	}
	return name, nil
}

// LoadByName loads a previously discovered artifact. Discovery keys records
// by file stem until the module declares its real name at initialization.
// Loading by name admits trusted modules only; running an untrusted module
// takes an explicit Load with its path.
func (r *Registry) LoadByName(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	rec, ok := r.records[name]
	var path string
	if ok {
		path = rec.path
	}
	r.mu.RUnlock()
	if !ok || path == "" {
		return "", ecode.NotFound(name)
	}
	return r.Load(ctx, path, trust.LevelTrusted)
}

// beginLoad claims the record for a load under the lock: verdict recorded,
// trust policy applied, status moved to Loading. It returns the record key.
func (r *Registry) beginLoad(ctx context.Context, path string, verdict *trust.Verdict, accept trust.Level) (string, error) {
	key := pluginStem(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.findByPathLocked(path)
	if rec == nil {
		if other, taken := r.records[key]; taken {
			// Same stem from another directory. A live plugin keeps the
			// name; a stale discovery record gives way.
			if other.loaded() || other.status == StatusLoading {
				return "", ecode.AlreadyLoaded(key)
			}
			delete(r.records, key)
		}
		rec = &record{name: key, provisional: key, path: path}
		r.records[key] = rec
	} else {
		key = rec.name
	}

	switch rec.status {
	case StatusLoading, StatusActive, StatusInactive:
		return "", ecode.AlreadyLoaded(rec.name)
	}

	rec.hash = verdict.Hash
	rec.level = verdict.Level
	rec.reason = verdict.Reason

	if !verdict.Trusted() {
		rec.status = StatusUntrusted
		if r.policy.OnlyTrusted || accept != trust.LevelUntrusted {
			rec.lastError = verdict.Reason
			return "", ecode.Untrusted(rec.name, verdict.Reason)
		}
		logger.Warnf(ctx, "loading untrusted plugin %s at operator risk: %s", rec.name, verdict.Reason)
	}

	rec.status = StatusLoading
	rec.lastError = ""
	return key, nil
}

// completeLoad runs the long half of a load outside the lock: launch,
// initialize, clamp, version check, then a re-checked finalize that re-keys
// the record to the declared name and activates it.
func (r *Registry) completeLoad(ctx context.Context, key, path string, verdict *trust.Verdict) (string, error) {
	rt, err := r.launch.Launch(ctx, key, path)
	if err != nil {
		return "", err
	}

	meta, err := rt.Initialize(ctx)
	if err != nil {
		if rerr := rt.Release(ctx); rerr != nil {
			logger.Warnf(ctx, "plugin %s: release after failed init: %v", key, rerr)
		}
		return "", err
	}
	if meta.Name == "" {
		err := ecode.Initialization(key, errors.New("module reports an empty name"))
		r.dismantle(ctx, rt, key)
		return "", err
	}

	// A trusted verdict pins the version the release signature covers; a
	// module that reports a different one about itself does not run.
	if verdict.Trusted() && !verdict.VersionMatches(meta.Version) {
		err := ecode.Untrusted(meta.Name, fmt.Sprintf(
			"declared version %q does not match signed version %q",
			meta.Version, verdict.Entry.DeclaredVersion))
		r.dismantle(ctx, rt, meta.Name)
		return "", err
	}

	limits := meta.Limits.Clamp(r.ceilings())

	r.mu.Lock()
	rec, ok := r.records[key]
	if !ok || rec.status != StatusLoading {
		r.mu.Unlock()
		r.dismantle(ctx, rt, meta.Name)
		return "", ecode.NotFound(key)
	}
	if meta.Name != key {
		if other, taken := r.records[meta.Name]; taken {
			// Same rule as discovery: a live plugin keeps the name, a
			// stale discovery record gives way.
			if other.loaded() || other.status == StatusLoading {
				r.mu.Unlock()
				err := ecode.AlreadyLoaded(meta.Name)
				r.dismantle(ctx, rt, meta.Name)
				return "", err
			}
			delete(r.records, meta.Name)
		}
		delete(r.records, key)
		rec.name = meta.Name
		r.records[meta.Name] = rec
	}
	rec.version = meta.Version
	rec.author = meta.Author
	rec.description = meta.Description
	rec.limits = limits
	rec.tracker = governor.NewTracker(r.conf.Monitor.ViolationThreshold)
	rec.behavior = r.unmountBehavior()
	rec.rt = rt
	rec.sandboxed = rt.Sandboxed()
	rec.status = StatusActive
	rec.loadedAt = time.Now()
	r.mu.Unlock()

	logger.Infof(ctx, "plugin %s loaded (version %s, hash %.12s, trust %s, sandboxed %v)",
		meta.Name, meta.Version, verdict.Hash, verdict.Level, rt.Sandboxed())
	r.bus.Publish(event.PluginLoaded, map[string]any{
		"name":      meta.Name,
		"version":   meta.Version,
		"trust":     string(verdict.Level),
		"sandboxed": rt.Sandboxed(),
	})
	return meta.Name, nil
}

// fail moves the record behind a failed load to Failed and publishes the
// failure. The artifact stays known so the load can be retried.
func (r *Registry) fail(ctx context.Context, key string, cause error) {
	r.mu.Lock()
	rec, ok := r.records[key]
	var name, hash string
	if ok {
		rec.status = StatusFailed
		rec.lastError = cause.Error()
		name = rec.name
		hash = rec.hash
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	logger.Errorf(ctx, "plugin %s failed to load (hash %.12s): %v", name, hash, cause)
	r.bus.Publish(event.PluginFailed, map[string]any{"name": name, "error": cause.Error()})
}

// dismantle tears down a module that initialized but cannot be kept: hooks
// detached, one bounded shutdown attempt, then release.
func (r *Registry) dismantle(ctx context.Context, rt runtime, owner string) {
	grace := r.unmountBehavior().GracePeriod
	_ = r.hooks.Drain(owner, grace)
	r.hooks.UnregisterOwner(owner)

	sctx, cancel := context.WithTimeout(ctx, grace)
	if err := rt.Shutdown(sctx); err != nil {
		logger.Warnf(ctx, "plugin %s: shutdown during dismantle: %v", owner, err)
	}
	cancel()
	if err := rt.Release(ctx); err != nil {
		logger.Warnf(ctx, "plugin %s: release during dismantle: %v", owner, err)
	}
}

// Unload stops the named plugin: in-flight hook dispatch drains, the plugin
// gets a bounded shutdown, the runtime is released and the artifact returns
// to the discovered pool.
func (r *Registry) Unload(ctx context.Context, name string) error {
	return r.unload(ctx, name, true)
}

func (r *Registry) unload(ctx context.Context, name string, callShutdown bool) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok || !rec.loaded() {
		r.mu.Unlock()
		return ecode.NotFound(name)
	}
	rt := rec.rt
	behavior := rec.behavior
	delete(r.records, name)
	r.mu.Unlock()

	grace := behavior.GracePeriod
	if grace <= 0 {
		grace = time.Second
	}

	if err := r.hooks.Drain(name, grace); err != nil {
		logger.Warnf(ctx, "plugin %s: hook drain timed out, unloading anyway", name)
	}
	r.hooks.UnregisterOwner(name)

	if callShutdown && rt != nil {
		sctx, cancel := context.WithTimeout(ctx, grace)
		if err := rt.Shutdown(sctx); err != nil {
			logger.Warnf(ctx, "plugin %s: shutdown: %v", name, err)
		}
		cancel()
	}
	if rt != nil {
		if err := rt.Release(ctx); err != nil {
			logger.Warnf(ctx, "plugin %s: release: %v", name, err)
		}
	}
	r.board.Remove(name)

	// The artifact stays known under its discovery key so it can be loaded
	// again, unless a rescan already claimed the key.
	r.mu.Lock()
	if _, taken := r.records[rec.provisional]; !taken && rec.path != "" {
		avail := &record{
			name:        rec.provisional,
			provisional: rec.provisional,
			path:        rec.path,
			hash:        rec.hash,
			level:       rec.level,
			reason:      rec.reason,
			status:      StatusAvailable,
		}
		if rec.level == trust.LevelUntrusted {
			avail.status = StatusUntrusted
		}
		r.records[rec.provisional] = avail
	}
	r.mu.Unlock()

	logger.Infof(ctx, "plugin %s unloaded", name)
	r.bus.Publish(event.PluginUnloaded, map[string]any{"name": name})
	return nil
}

// UnloadAll unloads every loaded plugin in name order and joins failures.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.records))
	for name, rec := range r.records {
		if rec.loaded() {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.Unload(ctx, name); err != nil && !ecode.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pause gates the named plugin's hooks without unloading it: running
// handlers drain, new dispatches skip the plugin until Resume.
func (r *Registry) Pause(ctx context.Context, name string) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.Unlock()
		return ecode.NotFound(name)
	}
	switch rec.status {
	case StatusActive:
		rec.status = StatusInactive
	case StatusInactive:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		return ecode.NotFound(name)
	}
	behavior := rec.behavior
	r.mu.Unlock()

	if err := r.hooks.Drain(name, behavior.GracePeriod); err != nil {
		logger.Warnf(ctx, "plugin %s: drain on pause timed out", name)
	}
	logger.Infof(ctx, "plugin %s paused", name)
	r.bus.Publish(event.PluginPaused, map[string]any{"name": name})
	return nil
}

// Resume reopens a paused plugin's hooks.
func (r *Registry) Resume(ctx context.Context, name string) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.Unlock()
		return ecode.NotFound(name)
	}
	switch rec.status {
	case StatusInactive:
		rec.status = StatusActive
	case StatusActive:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		return ecode.NotFound(name)
	}
	r.mu.Unlock()

	r.hooks.Restore(name)
	logger.Infof(ctx, "plugin %s resumed", name)
	r.bus.Publish(event.PluginResumed, map[string]any{"name": name})
	return nil
}

// workerFailed handles a worker the ping loop reported dead. The name is
// the spawn-time provisional name, so the lookup falls back to a scan when
// the record has been re-keyed to the declared name.
func (r *Registry) workerFailed(name string, cause error) {
	ctx := context.Background()

	r.mu.Lock()
	rec := r.records[name]
	if rec == nil || rec.rt == nil {
		for _, c := range r.records {
			if c.provisional == name && c.rt != nil {
				rec = c
				break
			}
		}
	}
	if rec == nil || rec.rt == nil {
		r.mu.Unlock()
		return
	}
	rt := rec.rt
	rec.rt = nil
	rec.status = StatusFailed
	rec.lastError = cause.Error()
	failedName := rec.name
	r.mu.Unlock()

	logger.Errorf(ctx, "plugin %s worker failed: %v", failedName, cause)
	_ = r.hooks.Drain(failedName, time.Second)
	r.hooks.UnregisterOwner(failedName)
	if err := rt.Release(ctx); err != nil {
		logger.Warnf(ctx, "plugin %s: release after worker failure: %v", failedName, err)
	}
	r.board.Remove(failedName)
	r.bus.Publish(event.PluginFailed, map[string]any{"name": failedName, "error": cause.Error()})
}
