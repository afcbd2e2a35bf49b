package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/event"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/monitor"
	"github.com/orbisys/warden/trust"
)

// loadHog loads a plugin whose declared limits are tiny so a scripted usage
// sample violates its heap cap.
func loadHog(t *testing.T, r *Registry, tt *testTrust, fl *fakeLauncher) (string, *fakeRuntime) {
	t.Helper()
	path := writeArtifact(t, t.TempDir(), "hog")
	tt.pin(t, path, "1.0.0")
	meta := defaultMeta("hog-plugin", "1.0.0")
	meta.Limits.MaxHeapBytes = 1 << 20
	frt := &fakeRuntime{meta: meta}
	frt.setUsage(governor.Usage{
		HeapBytes:       10 << 20,
		CPUTimeMS:       5,
		Threads:         1,
		FileDescriptors: 2,
		Connections:     0,
	})
	fl.add(path, frt)
	name, err := r.Load(context.Background(), path, trust.LevelTrusted)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return name, frt
}

func TestStartResourceMonitorLifecycle(t *testing.T) {
	r := newTestRegistry(t, newTestTrust(t), newFakeLauncher())
	ctx := context.Background()

	if err := r.StartResourceMonitor(ctx, time.Hour); err != nil {
		t.Fatalf("StartResourceMonitor() error = %v", err)
	}
	if err := r.StartResourceMonitor(ctx, time.Hour); !errors.Is(err, ecode.ErrMonitorRunning) {
		t.Fatalf("second start error = %v, want ErrMonitorRunning", err)
	}
	r.StopResourceMonitor()
	if err := r.StartResourceMonitor(ctx, time.Hour); err != nil {
		t.Fatalf("restart after stop error = %v", err)
	}
	r.StopResourceMonitor()
	r.StopResourceMonitor() // idempotent
}

func TestMonitorTickRetiresAfterThreshold(t *testing.T) {
	tt := newTestTrust(t)
	fl := newFakeLauncher()
	r := newTestRegistry(t, tt, fl) // threshold 2
	ctx := context.Background()

	name, frt := loadHog(t, r, tt, fl)
	violations := captureEvent(r, event.PluginViolation)
	retired := captureEvent(r, event.PluginRetired)

	r.monitorTick(ctx)

	sample, ok := r.Usage(name)
	if !ok || sample.Usage.HeapBytes != 10<<20 {
		t.Fatalf("Usage() = %+v, %v, want the scripted sample on the board", sample, ok)
	}
	info, err := r.GetPluginInfo(name)
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if len(info.Violations) != 1 || info.Violations[0].Kind != governor.KindHeapMemory {
		t.Fatalf("Violations = %v, want one heap violation", info.Violations)
	}
	if !r.IsLoaded(name) {
		t.Fatal("plugin retired before crossing the threshold")
	}
	waitEvent(t, violations)

	r.monitorTick(ctx)

	waitEvent(t, retired)
	if r.IsLoaded(name) {
		t.Error("IsLoaded() = true after retirement")
	}
	if sd, rel := frt.counts(); sd != 1 || rel != 1 {
		t.Errorf("shutdowns/releases = %d/%d, want 1/1", sd, rel)
	}
	if _, ok := r.Usage(name); ok {
		t.Error("Usage() still has a sample after retirement")
	}
	if c := r.AvailableCount(); c != 1 {
		t.Errorf("AvailableCount() = %d, want the artifact back in the pool", c)
	}
}

func TestMonitorTickAutoUnmountDisabled(t *testing.T) {
	tt := newTestTrust(t)
	fl := newFakeLauncher()
	conf := testConfig()
	conf.Monitor.AutoUnmount = false
	r := newTestRegistryWith(t, tt, fl, conf)
	ctx := context.Background()

	name, _ := loadHog(t, r, tt, fl)
	retired := captureEvent(r, event.PluginRetired)

	for i := 0; i < 3; i++ {
		r.monitorTick(ctx)
	}
	if !r.IsLoaded(name) {
		t.Fatal("plugin retired with auto-unmount disabled")
	}
	info, err := r.GetPluginInfo(name)
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if len(info.Violations) != 3 {
		t.Errorf("Violations = %d, want every tick recorded", len(info.Violations))
	}
	noEvent(t, retired)

	n, err := r.ResetViolations(name)
	if err != nil || n != 3 {
		t.Fatalf("ResetViolations() = %d, %v, want 3, nil", n, err)
	}
	info, _ = r.GetPluginInfo(name)
	if len(info.Violations) != 0 {
		t.Errorf("Violations = %d after reset, want 0", len(info.Violations))
	}
}

func TestMonitorTickSkipsFailedSamples(t *testing.T) {
	tt := newTestTrust(t)
	fl := newFakeLauncher()
	r := newTestRegistry(t, tt, fl)
	ctx := context.Background()

	name, frt := loadHog(t, r, tt, fl)
	frt.mu.Lock()
	frt.usageErr = errors.New("proc fs entry gone")
	frt.mu.Unlock()

	r.monitorTick(ctx)

	if _, ok := r.Usage(name); ok {
		t.Error("Usage() has a sample from a failed read")
	}
	info, err := r.GetPluginInfo(name)
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if len(info.Violations) != 0 {
		t.Errorf("Violations = %v, want none from a failed read", info.Violations)
	}
	if !r.IsLoaded(name) {
		t.Error("plugin unloaded because sampling failed")
	}
}

func TestMonitorTickReconcilesBoard(t *testing.T) {
	r := newTestRegistry(t, newTestTrust(t), newFakeLauncher())
	r.board.Put("ghost", monitor.Sample{PID: 1, At: time.Now()})

	r.monitorTick(context.Background())

	if _, ok := r.Usage("ghost"); ok {
		t.Error("board kept a sample with no backing record")
	}
}

func TestListingsConsistentUnderMonitorMutation(t *testing.T) {
	tt := newTestTrust(t)
	fl := newFakeLauncher()
	r := newTestRegistry(t, tt, fl) // threshold 2
	ctx := context.Background()

	name, _ := loadHog(t, r, tt, fl)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, info := range r.ListLoadedPlugins() {
					if info.Name == "" || info.Path == "" {
						t.Errorf("listed a half-built record: %+v", info)
					}
					for _, v := range info.Violations {
						if v.Kind == "" {
							t.Errorf("violation without a kind: %+v", v)
						}
					}
				}
				r.GetAvailablePlugins()
				r.IsLoaded(name)
				if r.LoadedCount()+r.AvailableCount() < 0 {
					t.Error("negative counts")
				}
			}
		}()
	}

	// Drive the monitor while the readers hammer the listings; each tick
	// appends a violation and the second one retires the plugin.
	waitFor(t, 2*time.Second, "retirement", func() bool {
		r.monitorTick(ctx)
		return !r.IsLoaded(name)
	})
	close(stop)
	wg.Wait()

	if r.IsLoaded(name) {
		t.Error("IsLoaded() = true after retirement")
	}
	for _, info := range r.ListLoadedPlugins() {
		if info.Name == name {
			t.Errorf("retired plugin %s still listed as loaded", name)
		}
	}
}

func TestResourceMonitorLoopRetires(t *testing.T) {
	tt := newTestTrust(t)
	fl := newFakeLauncher()
	r := newTestRegistry(t, tt, fl)
	ctx := context.Background()

	name, _ := loadHog(t, r, tt, fl)
	retired := captureEvent(r, event.PluginRetired)

	if err := r.StartResourceMonitor(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("StartResourceMonitor() error = %v", err)
	}
	defer r.StopResourceMonitor()

	waitEvent(t, retired)
	waitFor(t, 2*time.Second, "retirement", func() bool { return !r.IsLoaded(name) })
}
