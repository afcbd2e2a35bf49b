package sandbox

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/orbisys/warden/config"
	"github.com/orbisys/warden/governor"
)

func validConfig() Config {
	return Config{
		Namespaces:    DefaultNamespaces(),
		CgroupParent:  "/sys/fs/cgroup/warden",
		ScratchParent: "/tmp/warden-sandbox",
		Network:       NetworkIsolated,
		Seccomp:       SeccompStandard,
		Capabilities:  DefaultCapabilities(),
		Cgroup: CgroupLimits{
			MemoryMaxBytes:  256 << 20,
			CPUQuotaCores:   1.0,
			CPUPeriodMicros: 100000,
			PidsMax:         16,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero memory", func(c *Config) { c.Cgroup.MemoryMaxBytes = 0 }, true},
		{"zero cpu quota", func(c *Config) { c.Cgroup.CPUQuotaCores = 0 }, true},
		{"zero pids", func(c *Config) { c.Cgroup.PidsMax = 0 }, true},
		{"io weight too high", func(c *Config) { c.Cgroup.IOWeight = 20000 }, true},
		{"io weight in range", func(c *Config) { c.Cgroup.IOWeight = 100 }, false},
		{"missing cgroup parent", func(c *Config) { c.CgroupParent = "" }, true},
		{"missing scratch parent", func(c *Config) { c.ScratchParent = "" }, true},
		{"bogus network mode", func(c *Config) { c.Network = "fast" }, true},
		{"bogus seccomp profile", func(c *Config) { c.Seccomp = "mystery" }, true},
		{"custom profile without syscalls", func(c *Config) { c.Seccomp = SeccompCustom }, true},
		{"custom profile with syscalls", func(c *Config) {
			c.Seccomp = SeccompCustom
			c.CustomSyscalls = []string{"read", "write", "exit_group"}
		}, false},
		{"capability without prefix", func(c *Config) { c.Capabilities = []string{"NET_ADMIN"} }, true},
		{"restricted without allow-list", func(c *Config) { c.Network = NetworkRestricted }, true},
		{"restricted with allow-list", func(c *Config) {
			c.Network = NetworkRestricted
			c.AllowedHosts = []string{"api.internal:443"}
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestFromHost(t *testing.T) {
	sc := &config.Sandbox{
		CgroupParent:  "/sys/fs/cgroup/warden",
		ScratchDir:    "/tmp/warden-sandbox",
		SeccompMode:   "strict",
		NetworkMode:   "restricted",
		AllowedHosts:  []string{"api.internal:443"},
		UserNamespace: true,
	}
	limits := governor.ResourceLimits{
		MaxHeapBytes:       128 << 20,
		MaxCPUTimeMS:       1000,
		MaxThreads:         8,
		MaxFileDescriptors: 32,
		MaxConnections:     8,
	}

	cfg := FromHost(sc, limits)
	if cfg.Cgroup.MemoryMaxBytes != 128<<20 {
		t.Errorf("MemoryMaxBytes = %d, want %d", cfg.Cgroup.MemoryMaxBytes, 128<<20)
	}
	if cfg.Cgroup.PidsMax != 8 {
		t.Errorf("PidsMax = %d, want 8", cfg.Cgroup.PidsMax)
	}
	if !cfg.Namespaces.User {
		t.Errorf("Namespaces.User = false, want true")
	}
	if !cfg.Namespaces.Net {
		t.Errorf("Namespaces.Net = false for restricted mode, want true (fresh netns under the allow-list)")
	}
	if cfg.Seccomp != SeccompStrict {
		t.Errorf("Seccomp = %s, want strict", cfg.Seccomp)
	}
	if len(cfg.AllowedHosts) != 1 || cfg.AllowedHosts[0] != "api.internal:443" {
		t.Errorf("AllowedHosts = %v, want the configured allow-list", cfg.AllowedHosts)
	}

	sc.NetworkMode = "isolated"
	cfg = FromHost(sc, limits)
	if !cfg.Namespaces.Net {
		t.Errorf("Namespaces.Net = false for isolated mode, want true")
	}

	sc.NetworkMode = "unrestricted"
	cfg = FromHost(sc, limits)
	if cfg.Namespaces.Net {
		t.Errorf("Namespaces.Net = true for unrestricted mode, want false (host network)")
	}
}

func TestResolveSyscalls(t *testing.T) {
	strict, err := ResolveSyscalls(SeccompStrict, nil)
	if err != nil {
		t.Fatalf("ResolveSyscalls(strict) error = %v, want nil", err)
	}
	standard, err := ResolveSyscalls(SeccompStandard, nil)
	if err != nil {
		t.Fatalf("ResolveSyscalls(standard) error = %v, want nil", err)
	}
	if len(standard) <= len(strict) {
		t.Errorf("standard list (%d) not larger than strict (%d)", len(standard), len(strict))
	}

	strictSet := make(map[string]bool, len(strict))
	for _, name := range strict {
		strictSet[name] = true
	}
	for _, name := range []string{"openat", "socket", "connect"} {
		if strictSet[name] {
			t.Errorf("strict profile allows %s, want denied", name)
		}
	}
	for _, name := range []string{"read", "futex", "exit_group", "mmap"} {
		if !strictSet[name] {
			t.Errorf("strict profile missing %s", name)
		}
	}

	permissive, err := ResolveSyscalls(SeccompPermissive, nil)
	if err != nil {
		t.Fatalf("ResolveSyscalls(permissive) error = %v, want nil", err)
	}
	if len(permissive) <= len(standard) {
		t.Errorf("permissive list (%d) not larger than standard (%d)", len(permissive), len(standard))
	}

	custom := []string{"read", "write"}
	got, err := ResolveSyscalls(SeccompCustom, custom)
	if err != nil {
		t.Fatalf("ResolveSyscalls(custom) error = %v, want nil", err)
	}
	if !reflect.DeepEqual(got, custom) {
		t.Errorf("ResolveSyscalls(custom) = %v, want %v", got, custom)
	}
	if _, err := ResolveSyscalls(SeccompCustom, nil); err == nil {
		t.Errorf("ResolveSyscalls(custom, nil) error = nil, want error")
	}

	if got, err := ResolveSyscalls(SeccompNone, nil); err != nil || got != nil {
		t.Errorf("ResolveSyscalls(none) = %v, %v, want nil, nil", got, err)
	}
}

func TestParseHelpers(t *testing.T) {
	if _, err := ParseNetworkMode("isolated"); err != nil {
		t.Errorf("ParseNetworkMode(isolated) error = %v, want nil", err)
	}
	if _, err := ParseNetworkMode("wide-open"); err == nil {
		t.Errorf("ParseNetworkMode(wide-open) error = nil, want error")
	}
	if _, err := ParseSeccompProfile("permissive"); err != nil {
		t.Errorf("ParseSeccompProfile(permissive) error = %v, want nil", err)
	}
	if _, err := ParseSeccompProfile("hardened"); err == nil {
		t.Errorf("ParseSeccompProfile(hardened) error = nil, want error")
	}
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"api.internal", "db.internal:5432", "*.metrics.example.com"}
	cases := []struct {
		address string
		want    bool
	}{
		{"api.internal:443", true},
		{"api.internal:80", true},
		{"API.INTERNAL:443", true},
		{"db.internal:5432", true},
		{"db.internal:5433", false},
		{"node1.metrics.example.com:9090", true},
		{"metrics.example.com:9090", false}, // wildcard needs a subdomain
		{"evil.example.com:443", false},
		{"api.internal.evil.com:443", false},
	}
	for _, tc := range cases {
		if got := HostAllowed(allowed, tc.address); got != tc.want {
			t.Errorf("HostAllowed(%q) = %v, want %v", tc.address, got, tc.want)
		}
	}
}

func TestPolicyDialContext(t *testing.T) {
	isolated := NewPolicy(NetworkIsolated, nil)
	if _, err := isolated.DialContext(context.Background(), "tcp", "example.com:443"); err == nil {
		t.Errorf("isolated DialContext(example.com) error = nil, want refusal")
	}

	restricted := NewPolicy(NetworkRestricted, []string{"api.internal"})
	if _, err := restricted.DialContext(context.Background(), "tcp", "other.host:443"); err == nil {
		t.Errorf("restricted DialContext(other.host) error = nil, want refusal")
	}
	if _, err := restricted.DialContext(context.Background(), "tcp", "api.internal:443"); err != nil &&
		strings.Contains(err.Error(), "allowed host list") {
		t.Errorf("restricted DialContext(api.internal) refused by policy: %v", err)
	}
}

func TestEnterSpecRoundTrip(t *testing.T) {
	spec := EnterSpec{
		SandboxID:    "ab12cd34",
		Hostname:     "warden-ab12cd34",
		ScratchDir:   "/tmp/warden-sandbox/demo-ab12cd34/work",
		Capabilities: DefaultCapabilities(),
		Seccomp:      SeccompStandard,
		Syscalls:     []string{"read", "write"},
		Network:      NetworkRestricted,
		AllowedHosts: []string{"api.internal:443"},
		LoopbackUp:   false,
		Filesystem: FilesystemView{
			ReadOnlyPaths: []string{"/usr/share/ca-certificates"},
			Binds:         []BindMount{{Source: "/opt/data", Target: "/data", ReadOnly: true}},
		},
	}

	encoded, err := EncodeEnterSpec(spec)
	if err != nil {
		t.Fatalf("EncodeEnterSpec() error = %v, want nil", err)
	}
	got, err := DecodeEnterSpec(encoded)
	if err != nil {
		t.Fatalf("DecodeEnterSpec() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(got, spec) {
		t.Errorf("round trip = %+v, want %+v", got, spec)
	}

	if _, err := DecodeEnterSpec("{truncated"); err == nil {
		t.Errorf("DecodeEnterSpec(garbage) error = nil, want error")
	}
}

func TestCleanupStackUnwindsInReverse(t *testing.T) {
	var order []int
	var stack cleanupStack
	for i := 1; i <= 3; i++ {
		i := i
		stack.push(func() error {
			order = append(order, i)
			return nil
		})
	}
	if err := stack.unwind(); err != nil {
		t.Fatalf("unwind() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(order, []int{3, 2, 1}) {
		t.Errorf("unwind order = %v, want [3 2 1]", order)
	}
}

func TestCleanupStackReturnsFirstError(t *testing.T) {
	boom := errors.New("rmdir busy")
	var stack cleanupStack
	ran := 0
	stack.push(func() error { ran++; return nil })
	stack.push(func() error { ran++; return boom })
	stack.push(func() error { ran++; return nil })

	if err := stack.unwind(); !errors.Is(err, boom) {
		t.Fatalf("unwind() error = %v, want %v", err, boom)
	}
	if ran != 3 {
		t.Errorf("unwind ran %d steps, want all 3 despite error", ran)
	}
}
