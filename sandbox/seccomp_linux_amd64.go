//go:build linux && amd64

package sandbox

import "golang.org/x/sys/unix"

const auditArch = unix.AUDIT_ARCH_X86_64

// syscallNumbers carries every canonical allow-list name this architecture
// has. Names absent here (arm64-only spellings) are skipped at resolve
// time.
var syscallNumbers = map[string]uint32{
	"read":              unix.SYS_READ,
	"write":             unix.SYS_WRITE,
	"readv":             unix.SYS_READV,
	"writev":            unix.SYS_WRITEV,
	"pread64":           unix.SYS_PREAD64,
	"pwrite64":          unix.SYS_PWRITE64,
	"preadv":            unix.SYS_PREADV,
	"pwritev":           unix.SYS_PWRITEV,
	"preadv2":           unix.SYS_PREADV2,
	"pwritev2":          unix.SYS_PWRITEV2,
	"open":              unix.SYS_OPEN,
	"openat":            unix.SYS_OPENAT,
	"openat2":           unix.SYS_OPENAT2,
	"creat":             unix.SYS_CREAT,
	"close":             unix.SYS_CLOSE,
	"lseek":             unix.SYS_LSEEK,
	"stat":              unix.SYS_STAT,
	"fstat":             unix.SYS_FSTAT,
	"lstat":             unix.SYS_LSTAT,
	"newfstatat":        unix.SYS_NEWFSTATAT,
	"statx":             unix.SYS_STATX,
	"access":            unix.SYS_ACCESS,
	"faccessat":         unix.SYS_FACCESSAT,
	"faccessat2":        unix.SYS_FACCESSAT2,
	"mmap":              unix.SYS_MMAP,
	"mprotect":          unix.SYS_MPROTECT,
	"munmap":            unix.SYS_MUNMAP,
	"mremap":            unix.SYS_MREMAP,
	"madvise":           unix.SYS_MADVISE,
	"brk":               unix.SYS_BRK,
	"mincore":           unix.SYS_MINCORE,
	"mlock":             unix.SYS_MLOCK,
	"munlock":           unix.SYS_MUNLOCK,
	"msync":             unix.SYS_MSYNC,
	"futex":             unix.SYS_FUTEX,
	"set_robust_list":   unix.SYS_SET_ROBUST_LIST,
	"get_robust_list":   unix.SYS_GET_ROBUST_LIST,
	"rseq":              unix.SYS_RSEQ,
	"membarrier":        unix.SYS_MEMBARRIER,
	"set_tid_address":   unix.SYS_SET_TID_ADDRESS,
	"clone":             unix.SYS_CLONE,
	"clone3":            unix.SYS_CLONE3,
	"fork":              unix.SYS_FORK,
	"vfork":             unix.SYS_VFORK,
	"execve":            unix.SYS_EXECVE,
	"execveat":          unix.SYS_EXECVEAT,
	"rt_sigaction":      unix.SYS_RT_SIGACTION,
	"rt_sigprocmask":    unix.SYS_RT_SIGPROCMASK,
	"rt_sigreturn":      unix.SYS_RT_SIGRETURN,
	"rt_sigtimedwait":   unix.SYS_RT_SIGTIMEDWAIT,
	"sigaltstack":       unix.SYS_SIGALTSTACK,
	"kill":              unix.SYS_KILL,
	"tkill":             unix.SYS_TKILL,
	"tgkill":            unix.SYS_TGKILL,
	"sched_yield":       unix.SYS_SCHED_YIELD,
	"sched_getaffinity": unix.SYS_SCHED_GETAFFINITY,
	"nanosleep":         unix.SYS_NANOSLEEP,
	"clock_nanosleep":   unix.SYS_CLOCK_NANOSLEEP,
	"clock_gettime":     unix.SYS_CLOCK_GETTIME,
	"clock_getres":      unix.SYS_CLOCK_GETRES,
	"gettimeofday":      unix.SYS_GETTIMEOFDAY,
	"time":              unix.SYS_TIME,
	"setitimer":         unix.SYS_SETITIMER,
	"getitimer":         unix.SYS_GETITIMER,
	"alarm":             unix.SYS_ALARM,
	"pause":             unix.SYS_PAUSE,
	"epoll_create1":     unix.SYS_EPOLL_CREATE1,
	"epoll_ctl":         unix.SYS_EPOLL_CTL,
	"epoll_wait":        unix.SYS_EPOLL_WAIT,
	"epoll_pwait":       unix.SYS_EPOLL_PWAIT,
	"poll":              unix.SYS_POLL,
	"ppoll":             unix.SYS_PPOLL,
	"select":            unix.SYS_SELECT,
	"pselect6":          unix.SYS_PSELECT6,
	"pipe":              unix.SYS_PIPE,
	"pipe2":             unix.SYS_PIPE2,
	"dup":               unix.SYS_DUP,
	"dup2":              unix.SYS_DUP2,
	"dup3":              unix.SYS_DUP3,
	"fcntl":             unix.SYS_FCNTL,
	"ioctl":             unix.SYS_IOCTL,
	"socket":            unix.SYS_SOCKET,
	"socketpair":        unix.SYS_SOCKETPAIR,
	"connect":           unix.SYS_CONNECT,
	"bind":              unix.SYS_BIND,
	"listen":            unix.SYS_LISTEN,
	"accept":            unix.SYS_ACCEPT,
	"accept4":           unix.SYS_ACCEPT4,
	"sendto":            unix.SYS_SENDTO,
	"recvfrom":          unix.SYS_RECVFROM,
	"sendmsg":           unix.SYS_SENDMSG,
	"recvmsg":           unix.SYS_RECVMSG,
	"shutdown":          unix.SYS_SHUTDOWN,
	"getsockname":       unix.SYS_GETSOCKNAME,
	"getpeername":       unix.SYS_GETPEERNAME,
	"getsockopt":        unix.SYS_GETSOCKOPT,
	"setsockopt":        unix.SYS_SETSOCKOPT,
	"getpid":            unix.SYS_GETPID,
	"gettid":            unix.SYS_GETTID,
	"getppid":           unix.SYS_GETPPID,
	"getpgrp":           unix.SYS_GETPGRP,
	"getuid":            unix.SYS_GETUID,
	"geteuid":           unix.SYS_GETEUID,
	"getgid":            unix.SYS_GETGID,
	"getegid":           unix.SYS_GETEGID,
	"getgroups":         unix.SYS_GETGROUPS,
	"getrandom":         unix.SYS_GETRANDOM,
	"getrusage":         unix.SYS_GETRUSAGE,
	"getrlimit":         unix.SYS_GETRLIMIT,
	"prlimit64":         unix.SYS_PRLIMIT64,
	"sysinfo":           unix.SYS_SYSINFO,
	"times":             unix.SYS_TIMES,
	"uname":             unix.SYS_UNAME,
	"exit":              unix.SYS_EXIT,
	"exit_group":        unix.SYS_EXIT_GROUP,
	"restart_syscall":   unix.SYS_RESTART_SYSCALL,
	"wait4":             unix.SYS_WAIT4,
	"waitid":            unix.SYS_WAITID,
	"arch_prctl":        unix.SYS_ARCH_PRCTL,
	"prctl":             unix.SYS_PRCTL,
	"getdents64":        unix.SYS_GETDENTS64,
	"getcwd":            unix.SYS_GETCWD,
	"chdir":             unix.SYS_CHDIR,
	"fchdir":            unix.SYS_FCHDIR,
	"mkdir":             unix.SYS_MKDIR,
	"mkdirat":           unix.SYS_MKDIRAT,
	"rmdir":             unix.SYS_RMDIR,
	"rename":            unix.SYS_RENAME,
	"renameat":          unix.SYS_RENAMEAT,
	"renameat2":         unix.SYS_RENAMEAT2,
	"link":              unix.SYS_LINK,
	"linkat":            unix.SYS_LINKAT,
	"unlink":            unix.SYS_UNLINK,
	"unlinkat":          unix.SYS_UNLINKAT,
	"symlink":           unix.SYS_SYMLINK,
	"symlinkat":         unix.SYS_SYMLINKAT,
	"readlink":          unix.SYS_READLINK,
	"readlinkat":        unix.SYS_READLINKAT,
	"chmod":             unix.SYS_CHMOD,
	"fchmod":            unix.SYS_FCHMOD,
	"fchmodat":          unix.SYS_FCHMODAT,
	"chown":             unix.SYS_CHOWN,
	"fchown":            unix.SYS_FCHOWN,
	"fchownat":          unix.SYS_FCHOWNAT,
	"truncate":          unix.SYS_TRUNCATE,
	"ftruncate":         unix.SYS_FTRUNCATE,
	"fallocate":         unix.SYS_FALLOCATE,
	"fadvise64":         unix.SYS_FADVISE64,
	"fsync":             unix.SYS_FSYNC,
	"fdatasync":         unix.SYS_FDATASYNC,
	"flock":             unix.SYS_FLOCK,
	"umask":             unix.SYS_UMASK,
	"utimensat":         unix.SYS_UTIMENSAT,
	"copy_file_range":   unix.SYS_COPY_FILE_RANGE,
	"splice":            unix.SYS_SPLICE,
	"tee":               unix.SYS_TEE,
	"sendfile":          unix.SYS_SENDFILE,
	"memfd_create":      unix.SYS_MEMFD_CREATE,
	"eventfd2":          unix.SYS_EVENTFD2,
	"timerfd_create":    unix.SYS_TIMERFD_CREATE,
	"timerfd_settime":   unix.SYS_TIMERFD_SETTIME,
	"timerfd_gettime":   unix.SYS_TIMERFD_GETTIME,
	"signalfd4":         unix.SYS_SIGNALFD4,
	"inotify_init1":     unix.SYS_INOTIFY_INIT1,
	"inotify_add_watch": unix.SYS_INOTIFY_ADD_WATCH,
	"inotify_rm_watch":  unix.SYS_INOTIFY_RM_WATCH,
	"setxattr":          unix.SYS_SETXATTR,
	"getxattr":          unix.SYS_GETXATTR,
	"listxattr":         unix.SYS_LISTXATTR,
	"fgetxattr":         unix.SYS_FGETXATTR,
	"flistxattr":        unix.SYS_FLISTXATTR,
}
