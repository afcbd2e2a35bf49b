package sandbox

import "fmt"

// SeccompProfile names a canned syscall filter.
type SeccompProfile string

const (
	// SeccompStrict allows computation, memory management and traffic on
	// already-open descriptors. No file opens, no new sockets.
	SeccompStrict SeccompProfile = "strict"
	// SeccompStandard adds file and socket syscalls for plugins that do
	// real I/O. This is the default.
	SeccompStandard SeccompProfile = "standard"
	// SeccompPermissive installs the standard list with a logging default
	// action: unknown syscalls are allowed but audited.
	SeccompPermissive SeccompProfile = "permissive"
	// SeccompCustom uses the operator-supplied syscall list.
	SeccompCustom SeccompProfile = "custom"
	// SeccompNone installs no filter.
	SeccompNone SeccompProfile = "none"
)

// ParseSeccompProfile validates a profile string from configuration.
func ParseSeccompProfile(s string) (SeccompProfile, error) {
	switch SeccompProfile(s) {
	case SeccompStrict, SeccompStandard, SeccompPermissive, SeccompCustom, SeccompNone:
		return SeccompProfile(s), nil
	default:
		return "", fmt.Errorf("sandbox: unknown seccomp profile %q", s)
	}
}

// Profile lists carry canonical syscall names for every supported
// architecture; the per-arch number table drops names the architecture
// does not have (open vs openat and the like).

// strictSyscalls keeps a runtime alive: threads, memory, signals, timers
// and traffic on descriptors inherited at exec.
var strictSyscalls = []string{
	"read", "write", "readv", "writev", "pread64", "pwrite64",
	"preadv", "pwritev", "preadv2", "pwritev2",
	"close", "lseek", "fstat", "newfstatat", "fstatat", "statx",
	"mmap", "mprotect", "munmap", "mremap", "madvise", "brk",
	"mincore", "mlock", "munlock", "msync",
	"futex", "set_robust_list", "get_robust_list", "rseq", "membarrier",
	"set_tid_address", "clone",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigtimedwait",
	"sigaltstack", "tgkill", "tkill",
	"sched_yield", "sched_getaffinity",
	"nanosleep", "clock_nanosleep", "clock_gettime", "clock_getres",
	"gettimeofday", "setitimer", "getitimer",
	"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "ppoll",
	"pipe2", "dup", "dup3", "fcntl", "ioctl",
	"sendto", "recvfrom", "sendmsg", "recvmsg", "shutdown",
	"getsockname", "getpeername", "getsockopt", "setsockopt",
	"getpid", "gettid", "getppid",
	"getuid", "geteuid", "getgid", "getegid", "getgroups",
	"getrandom", "getrusage", "prlimit64", "sysinfo", "times", "uname",
	"exit", "exit_group", "restart_syscall",
	"arch_prctl", "prctl",
	"eventfd2", "timerfd_create", "timerfd_settime", "timerfd_gettime",
}

// standardFileSyscalls opens the filesystem to the mount-namespace view.
var standardFileSyscalls = []string{
	"open", "openat", "openat2", "creat", "access", "faccessat", "faccessat2",
	"stat", "lstat", "getdents64", "getcwd", "chdir", "fchdir",
	"mkdir", "mkdirat", "rmdir", "rename", "renameat", "renameat2",
	"link", "linkat", "unlink", "unlinkat", "symlink", "symlinkat",
	"readlink", "readlinkat",
	"chmod", "fchmod", "fchmodat", "chown", "fchown", "fchownat",
	"truncate", "ftruncate", "fallocate", "fadvise64",
	"fsync", "fdatasync", "flock", "umask", "utimensat",
	"copy_file_range", "splice", "tee", "sendfile",
	"memfd_create", "signalfd4",
	"inotify_init1", "inotify_add_watch", "inotify_rm_watch",
	"poll", "select", "pselect6", "pipe", "dup2",
	"setxattr", "getxattr", "listxattr", "fgetxattr", "flistxattr",
}

// standardNetSyscalls lets a plugin create its own connections, still
// subject to the network mode.
var standardNetSyscalls = []string{
	"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
}

// standardProcessSyscalls rounds out process management short of exec.
var standardProcessSyscalls = []string{
	"wait4", "waitid", "kill", "getrlimit", "alarm", "pause", "time", "getpgrp",
}

// permissiveExtraSyscalls are only in the logging profile.
var permissiveExtraSyscalls = []string{
	"execve", "execveat", "fork", "vfork", "clone3",
}

// ResolveSyscalls returns the canonical allow-list for a profile.
func ResolveSyscalls(profile SeccompProfile, custom []string) ([]string, error) {
	switch profile {
	case SeccompStrict:
		return strictSyscalls, nil
	case SeccompStandard:
		return standardList(), nil
	case SeccompPermissive:
		return append(standardList(), permissiveExtraSyscalls...), nil
	case SeccompCustom:
		if len(custom) == 0 {
			return nil, fmt.Errorf("sandbox: custom seccomp profile without syscalls")
		}
		return custom, nil
	case SeccompNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("sandbox: unknown seccomp profile %q", profile)
	}
}

func standardList() []string {
	out := make([]string, 0,
		len(strictSyscalls)+len(standardFileSyscalls)+len(standardNetSyscalls)+len(standardProcessSyscalls))
	out = append(out, strictSyscalls...)
	out = append(out, standardFileSyscalls...)
	out = append(out, standardNetSyscalls...)
	out = append(out, standardProcessSyscalls...)
	return out
}
