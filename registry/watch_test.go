package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/orbisys/warden/ecode"
)

func TestWatchDiscoversAndForgets(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	r := newTestRegistry(t, tt, newFakeLauncher())
	ctx := context.Background()

	if err := r.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer r.StopWatch()
	if err := r.Watch(ctx, dir); err == nil {
		t.Fatal("second Watch() error = nil, want watcher already running")
	}

	path := writeArtifact(t, dir, "hotdrop")
	waitFor(t, 3*time.Second, "artifact discovery", func() bool {
		return len(r.GetUntrustedPlugins()) == 1
	})
	info, err := r.GetPluginInfo("hotdrop")
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if info.Path != path || info.Hash == "" {
		t.Errorf("discovered record = %+v, want path and hash filled", info)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, "record removal", func() bool {
		_, err := r.GetPluginInfo("hotdrop")
		return ecode.IsNotFound(err)
	})

	r.StopWatch()
	r.StopWatch() // idempotent
}

func TestWatchHonorsFilters(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	conf := testConfig()
	conf.Registry.PluginDir = dir
	conf.Registry.Excludes = []string{"skipme"}
	r := newTestRegistryWith(t, tt, newFakeLauncher(), conf)
	ctx := context.Background()

	// No directories named: the configured plugin dir is watched.
	if err := r.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer r.StopWatch()

	writeArtifact(t, dir, "skipme")
	writeArtifact(t, dir, "keeper")
	waitFor(t, 3*time.Second, "allowed artifact discovery", func() bool {
		_, err := r.GetPluginInfo("keeper")
		return err == nil
	})
	if _, err := r.GetPluginInfo("skipme"); !ecode.IsNotFound(err) {
		t.Errorf("GetPluginInfo(skipme) error = %v, want the excluded name ignored", err)
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	r := newTestRegistry(t, newTestTrust(t), newFakeLauncher())
	if err := r.Watch(context.Background(), "/does/not/exist"); err == nil {
		t.Fatal("Watch() error = nil for a missing directory")
	}
	// The failed start must not leave a half-open watcher behind.
	if err := r.Watch(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Watch() after failed start error = %v", err)
	}
	r.StopWatch()
}
