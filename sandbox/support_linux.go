//go:build linux

package sandbox

import (
	"os"
	"strings"
)

// Supported probes the kernel surface the builder depends on. The probes
// are reads, not trial constructions; Build can still fail on permissions.
func Supported() SupportReport {
	r := SupportReport{Capabilities: true}

	r.Namespaces = probeNamespaces()
	if !r.Namespaces {
		r.Reason = "namespace files missing under /proc/self/ns"
	}
	r.UserNamespaces = probeUserNamespaces()

	r.Cgroups = probeCgroupV2()
	if !r.Cgroups && r.Reason == "" {
		r.Reason = "cgroup v2 controllers (cpu, memory, pids) unavailable"
	}

	r.Seccomp = probeSeccomp()
	if !r.Seccomp && r.Reason == "" {
		r.Reason = "seccomp filter mode unavailable"
	}

	r.Available = r.Namespaces && r.Cgroups && r.Seccomp
	return r
}

func probeNamespaces() bool {
	for _, ns := range []string{"pid", "mnt", "net", "ipc", "uts"} {
		if _, err := os.Stat("/proc/self/ns/" + ns); err != nil {
			return false
		}
	}
	return true
}

func probeUserNamespaces() bool {
	if _, err := os.Stat("/proc/self/ns/user"); err != nil {
		return false
	}
	// Debian-family kernels gate unprivileged user namespaces behind a
	// sysctl; absence of the file means no gate.
	raw, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(raw)) != "0" || os.Geteuid() == 0
}

func probeCgroupV2() bool {
	raw, err := os.ReadFile("/sys/fs/cgroup/cgroup.controllers")
	if err != nil {
		return false
	}
	controllers := string(raw)
	for _, want := range []string{"cpu", "memory", "pids"} {
		if !containsWord(controllers, want) {
			return false
		}
	}
	return true
}

func probeSeccomp() bool {
	raw, err := os.ReadFile("/proc/sys/kernel/seccomp/actions_avail")
	if err != nil {
		return false
	}
	return strings.Contains(string(raw), "allow")
}

func containsWord(haystack, word string) bool {
	for _, field := range strings.Fields(haystack) {
		if field == word {
			return true
		}
	}
	return false
}
