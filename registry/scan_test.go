package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/trust"
)

func TestScanDirectoryRecordsCandidates(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	alpha := writeArtifact(t, dir, "alpha")
	tt.pin(t, alpha, "1.0.0")
	writeArtifact(t, dir, "beta")
	writeArtifact(t, dir, "omega")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.so"), 0o755); err != nil {
		t.Fatal(err)
	}

	conf := testConfig()
	conf.Registry.Excludes = []string{"omega"}
	r := newTestRegistryWith(t, tt, newFakeLauncher(), conf)

	n, err := r.ScanDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("ScanDirectory() = %d, want alpha and beta recorded", n)
	}

	if c := r.AvailableCount(); c != 1 {
		t.Errorf("AvailableCount() = %d, want 1", c)
	}
	avail := r.GetAvailablePlugins()
	if len(avail) != 1 || avail[0].Name != "alpha" || avail[0].TrustLevel != trust.LevelTrusted {
		t.Errorf("GetAvailablePlugins() = %v, want the pinned artifact", avail)
	}
	if avail[0].Hash == "" {
		t.Error("discovery did not record the content hash")
	}

	unverified := r.GetUntrustedPlugins()
	if len(unverified) != 1 || unverified[0].Name != "beta" {
		t.Fatalf("GetUntrustedPlugins() = %v, want the unpinned artifact", unverified)
	}
	if unverified[0].TrustReason == "" {
		t.Error("untrusted record has no reason")
	}

	for _, name := range []string{"omega", "notes", "nested"} {
		if _, err := r.GetPluginInfo(name); !ecode.IsNotFound(err) {
			t.Errorf("GetPluginInfo(%s) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestScanDirectoryIncludes(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	writeArtifact(t, dir, "alpha")
	writeArtifact(t, dir, "beta")

	conf := testConfig()
	conf.Registry.Includes = []string{"alpha"}
	r := newTestRegistryWith(t, tt, newFakeLauncher(), conf)

	n, err := r.ScanDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ScanDirectory() = %d, want only the included artifact", n)
	}
	if _, err := r.GetPluginInfo("beta"); !ecode.IsNotFound(err) {
		t.Errorf("GetPluginInfo(beta) error = %v, want ErrNotFound", err)
	}
}

func TestScanDirectoryMissing(t *testing.T) {
	r := newTestRegistry(t, newTestTrust(t), newFakeLauncher())
	if _, err := r.ScanDirectory(context.Background(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("ScanDirectory() error = nil for a missing directory")
	}
}

func TestScanDirectoryEmpty(t *testing.T) {
	r := newTestRegistry(t, newTestTrust(t), newFakeLauncher())
	n, err := r.ScanDirectory(context.Background(), t.TempDir())
	if err != nil || n != 0 {
		t.Fatalf("ScanDirectory() = %d, %v, want 0, nil", n, err)
	}
}

func TestScanDoesNotClobberLoaded(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	alpha := writeArtifact(t, dir, "alpha")
	tt.pin(t, alpha, "1.0.0")
	writeArtifact(t, dir, "beta")

	fl := newFakeLauncher()
	fl.add(alpha, &fakeRuntime{meta: defaultMeta("alpha", "1.0.0")})
	r := newTestRegistry(t, tt, fl)

	if _, err := r.Load(context.Background(), alpha, trust.LevelTrusted); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	n, err := r.ScanDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ScanDirectory() = %d, want the loaded artifact skipped", n)
	}
	info, err := r.GetPluginInfo("alpha")
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if info.Status != StatusActive {
		t.Errorf("Status = %v, want the loaded plugin untouched", info.Status)
	}
}

func TestScanRefreshesVerdict(t *testing.T) {
	tt := newTestTrust(t)
	dir := t.TempDir()
	gamma := writeArtifact(t, dir, "gamma")
	r := newTestRegistry(t, tt, newFakeLauncher())
	ctx := context.Background()

	if _, err := r.ScanDirectory(ctx, dir); err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	info, err := r.GetPluginInfo("gamma")
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if info.Status != StatusUntrusted {
		t.Fatalf("Status = %v, want %v before pinning", info.Status, StatusUntrusted)
	}

	tt.pin(t, gamma, "2.0.0")
	if _, err := r.ScanDirectory(ctx, dir); err != nil {
		t.Fatalf("rescan error = %v", err)
	}
	info, err = r.GetPluginInfo("gamma")
	if err != nil {
		t.Fatalf("GetPluginInfo() error = %v", err)
	}
	if info.Status != StatusAvailable || info.TrustLevel != trust.LevelTrusted {
		t.Errorf("Status/TrustLevel = %v/%v, want the verdict refreshed", info.Status, info.TrustLevel)
	}
	if info.TrustReason != "" {
		t.Errorf("TrustReason = %q, want cleared after the artifact was pinned", info.TrustReason)
	}
}
