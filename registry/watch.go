package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orbisys/warden/logging/logger"
)

// watchSettle is the quiet period after the last write before a changed
// artifact is re-verified, so a file is not hashed mid-copy.
const watchSettle = 250 * time.Millisecond

// Watch discovers artifacts dropped into the given directories at runtime
// (the configured plugin directory when none are named). New or rewritten
// .so files are verified after a short settle period; removed files lose
// their discovery record.
func (r *Registry) Watch(ctx context.Context, dirs ...string) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil {
		return fmt.Errorf("registry: watcher already running")
	}
	if len(dirs) == 0 {
		dirs = []string{r.conf.Registry.PluginDir}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: watch: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("registry: watch %s: %w", dir, err)
		}
	}

	r.watcher = w
	r.watchDone = make(chan struct{})
	go r.watchLoop(ctx, w, r.watchDone)
	logger.Infof(ctx, "watching %s for plugin artifacts", strings.Join(dirs, ", "))
	return nil
}

// StopWatch closes the watcher and waits for its loop to exit. Safe to call
// when no watcher runs.
func (r *Registry) StopWatch() {
	r.watchMu.Lock()
	w, done := r.watcher, r.watchDone
	r.watcher, r.watchDone = nil, nil
	r.watchMu.Unlock()
	if w == nil {
		return
	}
	w.Close()
	<-done
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	// One settle timer per path. A timer that already fired stays in the
	// map; Reset re-arms it for the next write burst.
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, pluginExt) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				if !r.nameAllowed(pluginStem(ev.Name)) {
					continue
				}
				path := ev.Name
				if t, armed := pending[path]; armed {
					t.Reset(watchSettle)
					continue
				}
				pending[path] = time.AfterFunc(watchSettle, func() {
					if r.discoverFile(ctx, path) {
						logger.Infof(ctx, "discovered plugin artifact %s", path)
					}
				})
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				// Rename reports the old path; the new one arrives as a
				// separate Create.
				if t, armed := pending[ev.Name]; armed {
					t.Stop()
					delete(pending, ev.Name)
				}
				r.forgetPath(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warnf(ctx, "plugin watcher: %v", err)
		}
	}
}

// forgetPath drops the discovery record for a removed artifact. Loaded
// plugins are left alone; their file going away only matters on reload.
func (r *Registry) forgetPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.records {
		if rec.path != path {
			continue
		}
		switch rec.status {
		case StatusAvailable, StatusUntrusted, StatusFailed:
			delete(r.records, key)
		}
		return
	}
}
