//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gosimple/slug"
	"golang.org/x/sys/unix"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/logging/logger"
)

// Sandbox is one plugin's built execution cell on the host side.
type Sandbox struct {
	ID   string
	Name string

	// Root is the per-sandbox scratch root; WorkDir the writable area the
	// worker gets as its working directory and TMPDIR.
	Root    string
	WorkDir string

	cfg        Config
	cgroupDir  string
	cgroupFD   int
	cloneFlags uintptr

	cleanup  cleanupStack
	torndown atomic.Bool
}

// Build constructs the cell: scratch area, cgroup leaf and clone flags.
// Steps apply in order; the first failure unwinds everything already done
// and the error names the failing primitive.
func Build(ctx context.Context, name string, cfg Config) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Sandbox{
		ID:       newID(),
		Name:     name,
		cfg:      cfg,
		cgroupFD: -1,
	}
	cell := fmt.Sprintf("%s-%s", slug.Make(name), s.ID)

	if err := s.buildScratch(cell); err != nil {
		s.cleanup.unwind()
		return nil, err
	}
	if err := s.buildCgroup(cell); err != nil {
		s.cleanup.unwind()
		return nil, err
	}
	s.cloneFlags = cloneFlags(cfg.Namespaces)

	logger.Infof(ctx, "sandbox %s built for plugin %s (cgroup %s)", s.ID, name, s.cgroupDir)
	return s, nil
}

func (s *Sandbox) buildScratch(cell string) error {
	s.Root = filepath.Join(s.cfg.ScratchParent, cell)
	s.WorkDir = filepath.Join(s.Root, "work")
	if err := os.MkdirAll(s.WorkDir, 0o700); err != nil {
		return ecode.Sandbox("scratch", err)
	}
	s.cleanup.push(func() error { return os.RemoveAll(s.Root) })
	return nil
}

func (s *Sandbox) buildCgroup(cell string) error {
	if err := os.MkdirAll(s.cfg.CgroupParent, 0o755); err != nil {
		return ecode.Sandbox("cgroup", err)
	}
	// Delegate the controllers the knobs below need. Failure surfaces at
	// the knob write when a controller is genuinely missing.
	subtree := filepath.Join(s.cfg.CgroupParent, "cgroup.subtree_control")
	_ = os.WriteFile(subtree, []byte("+cpu +memory +pids +io"), 0o644)

	s.cgroupDir = filepath.Join(s.cfg.CgroupParent, cell)
	if err := os.Mkdir(s.cgroupDir, 0o755); err != nil {
		return ecode.Sandbox("cgroup", err)
	}
	s.cleanup.push(s.removeCgroup)

	limits := s.cfg.Cgroup
	quota := int64(limits.CPUQuotaCores * float64(limits.CPUPeriodMicros))
	knobs := []struct {
		file  string
		value string
	}{
		{"memory.max", strconv.FormatInt(limits.MemoryMaxBytes, 10)},
		{"memory.high", strconv.FormatInt(limits.MemoryMaxBytes*9/10, 10)},
		{"cpu.max", fmt.Sprintf("%d %d", quota, limits.CPUPeriodMicros)},
		{"pids.max", strconv.Itoa(limits.PidsMax)},
	}
	if limits.IOWeight > 0 {
		knobs = append(knobs, struct {
			file  string
			value string
		}{"io.weight", strconv.Itoa(limits.IOWeight)})
	}
	for _, knob := range knobs {
		path := filepath.Join(s.cgroupDir, knob.file)
		if err := os.WriteFile(path, []byte(knob.value), 0o644); err != nil {
			return ecode.Sandbox("cgroup", fmt.Errorf("write %s=%s: %v", knob.file, knob.value, err))
		}
	}

	fd, err := unix.Open(s.cgroupDir, unix.O_RDONLY|unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
	if err != nil {
		return ecode.Sandbox("cgroup", fmt.Errorf("open leaf: %v", err))
	}
	s.cgroupFD = fd
	s.cleanup.push(func() error {
		if s.cgroupFD >= 0 {
			unix.Close(s.cgroupFD)
			s.cgroupFD = -1
		}
		return nil
	})
	return nil
}

// removeCgroup kills whatever still lives in the leaf, then retires the
// directory. rmdir reports EBUSY until the kernel reaps the members, so the
// removal retries briefly.
func (s *Sandbox) removeCgroup() error {
	_ = os.WriteFile(filepath.Join(s.cgroupDir, "cgroup.kill"), []byte("1"), 0o644)

	rm := func() error {
		err := unix.Rmdir(s.cgroupDir)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 20)
	if err := backoff.Retry(rm, policy); err != nil {
		return ecode.Sandbox("cgroup", fmt.Errorf("remove leaf %s: %v", s.cgroupDir, err))
	}
	return nil
}

func cloneFlags(ns NamespaceSet) uintptr {
	var flags uintptr
	if ns.PID {
		flags |= unix.CLONE_NEWPID
	}
	if ns.Mount {
		flags |= unix.CLONE_NEWNS
	}
	if ns.Net {
		flags |= unix.CLONE_NEWNET
	}
	if ns.IPC {
		flags |= unix.CLONE_NEWIPC
	}
	if ns.UTS {
		flags |= unix.CLONE_NEWUTS
	}
	if ns.User {
		flags |= unix.CLONE_NEWUSER
	}
	return flags
}

// Command builds the worker command: namespaces via clone flags, started
// directly inside the cgroup leaf (CLONE_INTO_CGROUP, kernel 5.7+), killed
// if the host dies, environment cut down to the scratch view.
func (s *Sandbox) Command(ctx context.Context, workerPath string, args ...string) (*exec.Cmd, error) {
	if s.torndown.Load() {
		return nil, ecode.Sandbox("command", fmt.Errorf("sandbox %s is torn down", s.ID))
	}

	cmd := exec.CommandContext(ctx, workerPath, args...)
	cmd.Dir = s.WorkDir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TMPDIR=" + s.WorkDir,
		"HOME=" + s.WorkDir,
	}

	attr := &syscall.SysProcAttr{
		Cloneflags:  s.cloneFlags,
		Pdeathsig:   syscall.SIGKILL,
		UseCgroupFD: true,
		CgroupFD:    s.cgroupFD,
	}
	if s.cfg.Namespaces.User {
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	cmd.SysProcAttr = attr
	return cmd, nil
}

// EnterSpec returns the worker-side slice of this sandbox's recipe.
func (s *Sandbox) EnterSpec() EnterSpec {
	syscalls, _ := ResolveSyscalls(s.cfg.Seccomp, s.cfg.CustomSyscalls)
	hostname := s.cfg.Hostname
	if hostname == "" {
		hostname = fmt.Sprintf("warden-%s", s.ID)
	}
	return EnterSpec{
		SandboxID:    s.ID,
		Hostname:     hostname,
		ScratchDir:   s.WorkDir,
		Filesystem:   s.cfg.Filesystem,
		Capabilities: s.cfg.Capabilities,
		Seccomp:      s.cfg.Seccomp,
		Syscalls:     syscalls,
		Network:      s.cfg.Network,
		AllowedHosts: s.cfg.AllowedHosts,
		LoopbackUp:   s.cfg.Namespaces.Net,
	}
}

// AddProcess moves an already-running process into the cgroup leaf. The
// normal path starts workers inside the leaf; this covers adopted helpers.
func (s *Sandbox) AddProcess(pid int) error {
	path := filepath.Join(s.cgroupDir, "cgroup.procs")
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return ecode.Sandbox("cgroup", fmt.Errorf("add pid %d: %v", pid, err))
	}
	return nil
}

// Usage reads the cgroup accounting files. It sees the whole cell,
// including short-lived children the per-PID sampler misses.
func (s *Sandbox) Usage() (governor.Usage, error) {
	if s.torndown.Load() {
		return governor.Usage{}, ecode.Sandbox("usage", fmt.Errorf("sandbox %s is torn down", s.ID))
	}
	u := governor.Usage{
		HeapBytes:       -1,
		CPUTimeMS:       -1,
		Threads:         -1,
		FileDescriptors: -1,
		Connections:     -1,
		Degraded:        true,
	}

	if raw, err := os.ReadFile(filepath.Join(s.cgroupDir, "memory.current")); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); err == nil {
			u.HeapBytes = v
		}
	}
	if raw, err := os.ReadFile(filepath.Join(s.cgroupDir, "cpu.stat")); err == nil {
		if usec, ok := parseCPUStatUsage(raw); ok {
			u.CPUTimeMS = usec / 1000
		}
	}
	if raw, err := os.ReadFile(filepath.Join(s.cgroupDir, "pids.current")); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			u.Threads = v
		}
	}

	if u.HeapBytes < 0 && u.CPUTimeMS < 0 && u.Threads < 0 {
		return governor.Usage{}, ecode.Sandbox("usage", fmt.Errorf("no accounting file readable in %s", s.cgroupDir))
	}
	return u, nil
}

// Teardown destroys the cell: kills the process tree through the cgroup,
// removes the leaf and the scratch area. Idempotent.
func (s *Sandbox) Teardown(ctx context.Context) error {
	if !s.torndown.CompareAndSwap(false, true) {
		return nil
	}
	err := s.cleanup.unwind()
	if err != nil {
		logger.Warnf(ctx, "sandbox %s teardown left residue: %v", s.ID, err)
		return err
	}
	logger.Infof(ctx, "sandbox %s torn down", s.ID)
	return nil
}

// parseCPUStatUsage extracts usage_usec from a cpu.stat blob.
func parseCPUStatUsage(raw []byte) (int64, bool) {
	for _, line := range strings.Split(string(raw), "\n") {
		value, found := strings.CutPrefix(line, "usage_usec ")
		if !found {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
