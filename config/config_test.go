package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(file, []byte("app_name: warden-test\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AppName != "warden-test" {
		t.Errorf("AppName = %q, want warden-test", cfg.AppName)
	}
	if cfg.Monitor.Interval != 10*time.Second {
		t.Errorf("Monitor.Interval = %v, want 10s", cfg.Monitor.Interval)
	}
	if cfg.Monitor.ViolationThreshold != 10 {
		t.Errorf("ViolationThreshold = %d, want 10", cfg.Monitor.ViolationThreshold)
	}
	if !cfg.Trust.OnlyTrusted {
		t.Error("Trust.OnlyTrusted should default to true")
	}
	if cfg.IPC.SocketDir != "/tmp/warden-plugins" {
		t.Errorf("IPC.SocketDir = %q", cfg.IPC.SocketDir)
	}
	if cfg.IPC.MaxFrameBytes != 16<<20 {
		t.Errorf("IPC.MaxFrameBytes = %d, want %d", cfg.IPC.MaxFrameBytes, 16<<20)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "warden.yaml")
	body := `
registry:
  plugin_dir: /opt/plugins
  mode: inprocess
monitor:
  interval: 2s
  auto_unmount: false
  violation_threshold: 3
ipc:
  call_timeout: 5s
`
	if err := os.WriteFile(file, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Registry.PluginDir != "/opt/plugins" {
		t.Errorf("PluginDir = %q", cfg.Registry.PluginDir)
	}
	if cfg.Registry.Mode != "inprocess" {
		t.Errorf("Mode = %q", cfg.Registry.Mode)
	}
	if cfg.Monitor.Interval != 2*time.Second {
		t.Errorf("Interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.AutoUnmount {
		t.Error("AutoUnmount should be overridden to false")
	}
	if cfg.Monitor.ViolationThreshold != 3 {
		t.Errorf("ViolationThreshold = %d", cfg.Monitor.ViolationThreshold)
	}
	if cfg.IPC.CallTimeout != 5*time.Second {
		t.Errorf("CallTimeout = %v", cfg.IPC.CallTimeout)
	}
}

func TestMonitorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Monitor)
		wantErr bool
	}{
		{"valid", func(m *Monitor) {}, false},
		{"zero interval", func(m *Monitor) { m.Interval = 0 }, true},
		{"negative threshold", func(m *Monitor) { m.ViolationThreshold = -1 }, true},
		{"nil ceilings", func(m *Monitor) { m.Ceilings = nil }, true},
		{"zero heap ceiling", func(m *Monitor) { m.Ceilings.MaxHeapBytes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Monitor{
				Interval:           10 * time.Second,
				ViolationThreshold: 10,
				Ceilings: &Ceilings{
					MaxHeapBytes:       1 << 30,
					MaxCPUTimeMS:       300000,
					MaxThreads:         64,
					MaxFileDescriptors: 256,
					MaxConnections:     64,
				},
			}
			tt.mutate(m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
