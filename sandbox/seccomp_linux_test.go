//go:build linux

package sandbox

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestResolveSyscallNumbers(t *testing.T) {
	numbers := resolveSyscallNumbers([]string{"read", "write", "read", "no_such_syscall"})
	if len(numbers) != 2 {
		t.Fatalf("resolved %d numbers, want 2 (dedup + drop unknown)", len(numbers))
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i-1] >= numbers[i] {
			t.Fatalf("numbers not sorted: %v", numbers)
		}
	}
}

func TestBuildFilterShape(t *testing.T) {
	numbers := resolveSyscallNumbers([]string{"read", "write", "exit_group"})
	filter := buildFilter(numbers, seccompDefaultKill)

	wantLen := 4 + 2*len(numbers) + 1
	if len(filter) != wantLen {
		t.Fatalf("filter length = %d, want %d", len(filter), wantLen)
	}

	// Prologue: load arch, compare, kill on mismatch, load syscall nr.
	if filter[0].Code != uint16(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS) || filter[0].K != seccompDataArch {
		t.Errorf("insn 0 = %+v, want load of seccomp_data.arch", filter[0])
	}
	if filter[1].K != auditArch || filter[1].Jt != 1 || filter[1].Jf != 0 {
		t.Errorf("insn 1 = %+v, want jeq auditArch skip-1", filter[1])
	}
	if filter[2].K != unix.SECCOMP_RET_KILL_PROCESS {
		t.Errorf("insn 2 K = %#x, want SECCOMP_RET_KILL_PROCESS", filter[2].K)
	}
	if filter[3].K != seccompDataNr {
		t.Errorf("insn 3 = %+v, want load of seccomp_data.nr", filter[3])
	}

	// Each allowed number compiles to a jeq + ret ALLOW pair.
	for i, nr := range numbers {
		jeq := filter[4+2*i]
		ret := filter[5+2*i]
		if jeq.K != nr || jeq.Jt != 0 || jeq.Jf != 1 {
			t.Errorf("rule %d jeq = %+v, want K=%d Jt=0 Jf=1", i, jeq, nr)
		}
		if ret.K != unix.SECCOMP_RET_ALLOW {
			t.Errorf("rule %d ret K = %#x, want SECCOMP_RET_ALLOW", i, ret.K)
		}
	}

	if tail := filter[len(filter)-1]; tail.K != unix.SECCOMP_RET_KILL_PROCESS {
		t.Errorf("tail K = %#x, want default action", tail.K)
	}

	logging := buildFilter(numbers, seccompDefaultLog)
	if tail := logging[len(logging)-1]; tail.K != unix.SECCOMP_RET_LOG {
		t.Errorf("permissive tail K = %#x, want SECCOMP_RET_LOG", tail.K)
	}
}

func TestProfileNamesResolveOnThisArch(t *testing.T) {
	if auditArch == 0 {
		t.Skip("no syscall table for this architecture")
	}
	for _, profile := range []SeccompProfile{SeccompStrict, SeccompStandard, SeccompPermissive} {
		names, err := ResolveSyscalls(profile, nil)
		if err != nil {
			t.Fatalf("ResolveSyscalls(%s) error = %v", profile, err)
		}
		numbers := resolveSyscallNumbers(names)
		if len(numbers) == 0 {
			t.Errorf("profile %s resolved to no syscalls", profile)
		}
		// The runtime set must survive per-arch filtering or nothing runs.
		for _, essential := range []string{"read", "write", "mmap", "futex", "exit_group", "rt_sigreturn"} {
			if _, ok := syscallNumbers[essential]; !ok {
				t.Errorf("essential syscall %s missing from arch table", essential)
			}
		}
	}
}
