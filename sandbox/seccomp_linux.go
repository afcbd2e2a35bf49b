//go:build linux

package sandbox

import (
	"fmt"
	"sort"
	"unsafe"

	"golang.org/x/sys/unix"
)

type seccompAction uint32

const (
	seccompDefaultKill seccompAction = unix.SECCOMP_RET_KILL_PROCESS
	seccompDefaultLog  seccompAction = unix.SECCOMP_RET_LOG
)

// seccomp_data field offsets (struct seccomp_data in linux/seccomp.h).
const (
	seccompDataNr   = 0
	seccompDataArch = 4
)

// installSeccomp builds and loads a classic-BPF allow-list filter. Names
// the architecture has no syscall for are dropped, so one canonical list
// serves amd64 and arm64. Requires no-new-privs to already be set.
func installSeccomp(names []string, defaultAction seccompAction) error {
	if auditArch == 0 {
		return fmt.Errorf("seccomp filter tables not built for this architecture")
	}
	numbers := resolveSyscallNumbers(names)
	if len(numbers) == 0 {
		return fmt.Errorf("allow-list resolved to no syscalls")
	}

	filter := buildFilter(numbers, defaultAction)
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return fmt.Errorf("load filter: %w", err)
	}
	return nil
}

// resolveSyscallNumbers maps names through the per-arch table, dropping
// unknown names and duplicates.
func resolveSyscallNumbers(names []string) []uint32 {
	seen := make(map[uint32]bool, len(names))
	out := make([]uint32, 0, len(names))
	for _, name := range names {
		nr, ok := syscallNumbers[name]
		if !ok || seen[nr] {
			continue
		}
		seen[nr] = true
		out = append(out, nr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildFilter assembles: check the audit arch, load the syscall number,
// return ALLOW on any listed number, fall through to the default action.
func buildFilter(numbers []uint32, defaultAction seccompAction) []unix.SockFilter {
	filter := make([]unix.SockFilter, 0, 4+2*len(numbers)+1)
	filter = append(filter,
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataArch),
		bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, auditArch, 1, 0),
		bpfStmt(unix.BPF_RET|unix.BPF_K, unix.SECCOMP_RET_KILL_PROCESS),
		bpfStmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, seccompDataNr),
	)
	for _, nr := range numbers {
		filter = append(filter,
			bpfJump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nr, 0, 1),
			bpfStmt(unix.BPF_RET|unix.BPF_K, unix.SECCOMP_RET_ALLOW),
		)
	}
	filter = append(filter, bpfStmt(unix.BPF_RET|unix.BPF_K, uint32(defaultAction)))
	return filter
}

func bpfStmt(code int, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: uint16(code), K: k}
}

func bpfJump(code int, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: uint16(code), Jt: jt, Jf: jf, K: k}
}
