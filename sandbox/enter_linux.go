//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/orbisys/warden/ecode"
)

// Enter applies the worker-side isolation primitives, in order: filesystem
// view, hostname, loopback, no-new-privs, capability drop, seccomp. The
// seccomp filter goes last so the earlier steps can still use syscalls the
// filter denies. Must run before any module code; any failure means the
// worker exits instead of running half-sandboxed.
func Enter(spec EnterSpec) error {
	if err := applyFilesystem(spec.Filesystem); err != nil {
		return err
	}
	if spec.Hostname != "" {
		if err := unix.Sethostname([]byte(spec.Hostname)); err != nil {
			return ecode.Sandbox("hostname", err)
		}
	}
	if spec.LoopbackUp {
		if err := bringUpLoopback(); err != nil {
			return ecode.Sandbox("network", err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return ecode.Sandbox("no_new_privs", err)
	}
	if err := applyCapabilities(spec.Capabilities); err != nil {
		return ecode.Sandbox("capabilities", err)
	}
	if spec.Seccomp != SeccompNone {
		defaultAction := seccompDefaultKill
		if spec.Seccomp == SeccompPermissive {
			defaultAction = seccompDefaultLog
		}
		if err := installSeccomp(spec.Syscalls, defaultAction); err != nil {
			return ecode.Sandbox("seccomp", err)
		}
	}
	return nil
}

// applyFilesystem materializes the mount view inside the worker's mount
// namespace: private propagation, declared binds, read-only remounts.
func applyFilesystem(view FilesystemView) error {
	if len(view.Binds) == 0 && len(view.ReadOnlyPaths) == 0 {
		return nil
	}

	// Without private propagation the binds would leak to the host table.
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return ecode.Sandbox("filesystem", fmt.Errorf("private propagation: %v", err))
	}

	for _, bind := range view.Binds {
		if err := mountBind(bind); err != nil {
			return err
		}
	}
	for _, path := range view.ReadOnlyPaths {
		ro := BindMount{Source: path, Target: path, ReadOnly: true}
		if err := mountBind(ro); err != nil {
			return err
		}
	}
	return nil
}

func mountBind(bind BindMount) error {
	info, err := os.Stat(bind.Source)
	if err != nil {
		return ecode.Sandbox("filesystem", fmt.Errorf("bind source %s: %v", bind.Source, err))
	}
	if info.IsDir() {
		if err := os.MkdirAll(bind.Target, 0o755); err != nil {
			return ecode.Sandbox("filesystem", fmt.Errorf("bind target %s: %v", bind.Target, err))
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(bind.Target), 0o755); err != nil {
			return ecode.Sandbox("filesystem", fmt.Errorf("bind target dir: %v", err))
		}
		if f, err := os.OpenFile(bind.Target, os.O_CREATE, 0o644); err == nil {
			f.Close()
		}
	}

	if err := unix.Mount(bind.Source, bind.Target, "", unix.MS_BIND, ""); err != nil {
		return ecode.Sandbox("filesystem", fmt.Errorf("bind %s -> %s: %v", bind.Source, bind.Target, err))
	}
	if bind.ReadOnly {
		flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
		if err := unix.Mount("", bind.Target, "", flags, ""); err != nil {
			return ecode.Sandbox("filesystem", fmt.Errorf("remount ro %s: %v", bind.Target, err))
		}
	}
	return nil
}

// bringUpLoopback raises lo inside a fresh network namespace so local
// sockets work even when nothing else does.
func bringUpLoopback() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("control socket: %v", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq("lo")
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("get lo flags: %v", err)
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP | unix.IFF_RUNNING)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("set lo up: %v", err)
	}
	return nil
}
