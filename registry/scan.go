package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbisys/warden/concurrency/worker"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/trust"
)

// pluginExt is the artifact suffix discovery looks for.
const pluginExt = ".so"

// pluginStem derives the discovery key from an artifact path.
func pluginStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), pluginExt)
}

// ScanDirectory discovers plugin artifacts under dir without loading them.
// Each candidate is hashed and verified on the worker pool; the verdict
// decides whether the record lands Available or Untrusted. Records for
// loaded plugins are left alone. It returns the number of artifacts the
// scan recorded.
func (r *Registry) ScanDirectory(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("registry: scan %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pluginExt) {
			continue
		}
		if !r.nameAllowed(strings.TrimSuffix(e.Name(), pluginExt)) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return 0, nil
	}

	// Hashing large artifacts dominates a scan, so it runs on the pool.
	// The pool's Stop does not promise queue drainage; the wait group is
	// the completion barrier.
	pool := worker.NewPool(worker.DefaultConfig())
	pool.Start()
	var wg sync.WaitGroup
	var discovered atomic.Int64
	for _, path := range paths {
		path := path
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			if r.discoverFile(ctx, path) {
				discovered.Add(1)
			}
			return nil
		}
		if err := pool.Submit(task); err != nil {
			task() // queue full, verify on the caller's goroutine
		}
	}
	wg.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	pool.Stop(stopCtx)
	cancel()

	logger.Infof(ctx, "scanned %s: recorded %d of %d candidates", dir, discovered.Load(), len(paths))
	return int(discovered.Load()), nil
}

// discoverFile verifies one artifact and upserts its discovery record. It
// reports whether a record was created or refreshed; artifacts occupying a
// live plugin's slot are left untouched.
func (r *Registry) discoverFile(ctx context.Context, path string) bool {
	verdict, err := r.verifier.Verify(ctx, path)
	if err != nil {
		logger.Warnf(ctx, "discover %s: %v", path, err)
		return false
	}

	key := pluginStem(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec := r.findByPathLocked(path); rec != nil {
		switch rec.status {
		case StatusAvailable, StatusUntrusted, StatusFailed:
			rec.hash = verdict.Hash
			rec.level = verdict.Level
			rec.reason = verdict.Reason
			rec.status = statusForVerdict(verdict)
			return true
		default:
			return false // loading or loaded, leave it alone
		}
	}
	if other, taken := r.records[key]; taken {
		if other.loaded() || other.status == StatusLoading {
			return false
		}
		delete(r.records, key)
	}
	r.records[key] = &record{
		name:        key,
		provisional: key,
		path:        path,
		hash:        verdict.Hash,
		level:       verdict.Level,
		reason:      verdict.Reason,
		status:      statusForVerdict(verdict),
	}
	return true
}

func statusForVerdict(vd *trust.Verdict) Status {
	if vd.Trusted() {
		return StatusAvailable
	}
	return StatusUntrusted
}

// nameAllowed applies the configured include/exclude filters to a stem.
func (r *Registry) nameAllowed(stem string) bool {
	rc := r.conf.Registry
	for _, ex := range rc.Excludes {
		if ex == stem {
			return false
		}
	}
	if len(rc.Includes) == 0 {
		return true
	}
	for _, in := range rc.Includes {
		if in == stem {
			return true
		}
	}
	return false
}
