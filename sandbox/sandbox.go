// Package sandbox builds the execution cell a plugin worker runs in:
// namespace isolation, a cgroup v2 resource envelope, a restricted
// filesystem view and a seccomp syscall filter.
//
// Construction is all-or-nothing. Build applies its steps in order and any
// failure unwinds everything already applied; a partially isolated plugin
// never runs. The host side prepares scratch space, the cgroup and the
// clone flags for the worker command; the worker side calls Enter to apply
// the in-process primitives (no-new-privs, capability drop, seccomp) before
// any module code executes.
//
// Only Linux can satisfy the full configuration. Other platforms report
// themselves unsupported through Supported(); callers choose in-process
// loading explicitly rather than getting a silently weaker sandbox.
package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/orbisys/warden/config"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/validation/validator"
)

// NamespaceSet selects the Linux namespaces a sandboxed worker is placed
// into.
type NamespaceSet struct {
	PID   bool `json:"pid"`
	Mount bool `json:"mount"`
	Net   bool `json:"net"`
	IPC   bool `json:"ipc"`
	UTS   bool `json:"uts"`
	User  bool `json:"user"`
}

// DefaultNamespaces isolates everything except the user namespace, which
// needs explicit opt-in because uid mapping changes what the worker may do.
func DefaultNamespaces() NamespaceSet {
	return NamespaceSet{PID: true, Mount: true, Net: true, IPC: true, UTS: true}
}

// CgroupLimits are the cgroup v2 knobs written into the sandbox leaf.
// Memory, CPU and pids are required; IOWeight is written only when set.
type CgroupLimits struct {
	MemoryMaxBytes  int64   `json:"memory_max_bytes" validate:"required,gt=0"`
	CPUQuotaCores   float64 `json:"cpu_quota_cores" validate:"required,gt=0"`
	CPUPeriodMicros int64   `json:"cpu_period_micros" validate:"required,gt=0"`
	PidsMax         int     `json:"pids_max" validate:"required,gt=0"`
	IOWeight        int     `json:"io_weight" validate:"omitempty,gte=1,lte=10000"`
}

// BindMount maps a host path into the sandbox filesystem view.
type BindMount struct {
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required"`
	ReadOnly bool   `json:"read_only"`
}

// FilesystemView describes what the worker may see: a writable scratch
// directory plus explicitly declared binds.
type FilesystemView struct {
	// ReadOnlyPaths are remounted read-only inside the mount namespace.
	ReadOnlyPaths []string `json:"read_only_paths,omitempty"`
	// Binds are extra mappings into the view.
	Binds []BindMount `json:"binds,omitempty" validate:"dive"`
}

// Config is the full sandbox recipe for one plugin.
type Config struct {
	Namespaces NamespaceSet   `json:"namespaces"`
	Cgroup     CgroupLimits   `json:"cgroup"`
	Filesystem FilesystemView `json:"filesystem"`

	// CgroupParent is the cgroup v2 directory the sandbox leaf is created
	// under.
	CgroupParent string `json:"cgroup_parent" validate:"required"`
	// ScratchParent is the directory per-sandbox scratch roots live in.
	ScratchParent string `json:"scratch_parent" validate:"required"`

	// Network selects reachability for the worker.
	Network NetworkMode `json:"network" validate:"required,oneof=isolated restricted unrestricted"`
	// AllowedHosts is the restricted-mode allow-list (host or host:port,
	// leading *. wildcards match subdomains).
	AllowedHosts []string `json:"allowed_hosts,omitempty"`

	// Seccomp selects the syscall filter profile.
	Seccomp SeccompProfile `json:"seccomp" validate:"required,oneof=strict standard permissive custom none"`
	// CustomSyscalls is the allow-list for the custom profile.
	CustomSyscalls []string `json:"custom_syscalls,omitempty"`

	// Capabilities kept in the worker's bounding set. Everything else is
	// dropped. Names use the CAP_ prefix.
	Capabilities []string `json:"capabilities,omitempty"`

	// Hostname set inside the UTS namespace. Defaults to the sandbox ID.
	Hostname string `json:"hostname,omitempty"`
}

// FromHost assembles a sandbox config from the host configuration and a
// plugin's clamped limits.
func FromHost(sc *config.Sandbox, limits governor.ResourceLimits) Config {
	cfg := Config{
		Namespaces:    DefaultNamespaces(),
		CgroupParent:  sc.CgroupParent,
		ScratchParent: sc.ScratchDir,
		Network:       NetworkMode(sc.NetworkMode),
		AllowedHosts:  sc.AllowedHosts,
		Seccomp:       SeccompProfile(sc.SeccompMode),
		Capabilities:  DefaultCapabilities(),
		Cgroup: CgroupLimits{
			MemoryMaxBytes:  limits.MaxHeapBytes,
			CPUQuotaCores:   1.0,
			CPUPeriodMicros: 100000,
			PidsMax:         limits.MaxThreads,
		},
	}
	cfg.Namespaces.User = sc.UserNamespace
	if cfg.Network == NetworkUnrestricted {
		// unrestricted workers share the host network; isolated and
		// restricted modes both get a fresh netns.
		cfg.Namespaces.Net = false
	}
	return cfg
}

// Validate rejects configs that cannot be built.
func (c *Config) Validate() error {
	if problems := validator.ValidateStruct(c); len(problems) > 0 {
		for field, msg := range problems {
			return fmt.Errorf("sandbox: config field %s: %s", field, msg)
		}
	}
	if c.Seccomp == SeccompCustom && len(c.CustomSyscalls) == 0 {
		return fmt.Errorf("sandbox: custom seccomp profile without syscalls")
	}
	for _, name := range c.Capabilities {
		if !strings.HasPrefix(name, "CAP_") {
			return fmt.Errorf("sandbox: capability %q must use the CAP_ prefix", name)
		}
	}
	if c.Network == NetworkRestricted && len(c.AllowedHosts) == 0 {
		return fmt.Errorf("sandbox: restricted network without allowed hosts")
	}
	return nil
}

// DefaultCapabilities is the bounding set a sandboxed worker keeps: binding
// low ports and reading mounted content, nothing that changes the system.
func DefaultCapabilities() []string {
	return []string{"CAP_NET_BIND_SERVICE", "CAP_DAC_OVERRIDE"}
}

// newID returns a short unique sandbox identifier.
func newID() string {
	return uuid.NewString()[:8]
}

// EnterSpec is the worker-side slice of the sandbox recipe: the primitives
// that must be applied inside the worker process itself, serialized onto
// the worker command line.
type EnterSpec struct {
	SandboxID    string         `json:"sandbox_id"`
	Hostname     string         `json:"hostname,omitempty"`
	ScratchDir   string         `json:"scratch_dir,omitempty"`
	Filesystem   FilesystemView `json:"filesystem"`
	Capabilities []string       `json:"capabilities"`
	Seccomp      SeccompProfile `json:"seccomp"`
	Syscalls     []string       `json:"syscalls,omitempty"`
	Network      NetworkMode    `json:"network"`
	AllowedHosts []string       `json:"allowed_hosts,omitempty"`
	LoopbackUp   bool           `json:"loopback_up,omitempty"`
}

// EncodeEnterSpec renders the spec for a command-line argument.
func EncodeEnterSpec(spec EnterSpec) (string, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("sandbox: encode enter spec: %w", err)
	}
	return string(raw), nil
}

// DecodeEnterSpec parses a spec produced by EncodeEnterSpec.
func DecodeEnterSpec(arg string) (EnterSpec, error) {
	var spec EnterSpec
	if err := json.Unmarshal([]byte(arg), &spec); err != nil {
		return EnterSpec{}, fmt.Errorf("sandbox: decode enter spec: %w", err)
	}
	return spec, nil
}

// cleanupStack unwinds applied build steps in reverse order.
type cleanupStack struct {
	steps []func() error
}

func (s *cleanupStack) push(fn func() error) {
	s.steps = append(s.steps, fn)
}

// unwind runs the recorded steps last-first and returns the first error.
func (s *cleanupStack) unwind() error {
	var first error
	for i := len(s.steps) - 1; i >= 0; i-- {
		if err := s.steps[i](); err != nil && first == nil {
			first = err
		}
	}
	s.steps = nil
	return first
}
