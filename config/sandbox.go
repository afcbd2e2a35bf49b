package config

import "github.com/spf13/viper"

// Sandbox sandbox defaults config struct
type Sandbox struct {
	CgroupParent  string   // cgroup v2 directory new sandbox groups are created under
	ScratchDir    string   // parent directory for per-sandbox writable scratch areas
	SeccompMode   string   // default syscall filter profile
	NetworkMode   string   // default network reachability
	AllowedHosts  []string // outbound allow-list for restricted network mode
	UserNamespace bool     // remap to an unprivileged user namespace when available
	WorkerPath    string   // warden-worker binary, looked up on PATH when empty
}

// getSandboxConfig returns the sandbox config
func getSandboxConfig(v *viper.Viper) *Sandbox {
	return &Sandbox{
		CgroupParent:  getStringOrDefault(v, "sandbox.cgroup_parent", "/sys/fs/cgroup/warden"),
		ScratchDir:    getStringOrDefault(v, "sandbox.scratch_dir", "/tmp/warden-sandbox"),
		SeccompMode:   getStringOrDefault(v, "sandbox.seccomp_mode", "standard"),
		NetworkMode:   getStringOrDefault(v, "sandbox.network_mode", "isolated"),
		AllowedHosts:  v.GetStringSlice("sandbox.allowed_hosts"),
		UserNamespace: getBoolOrDefault(v, "sandbox.user_namespace", false),
		WorkerPath:    v.GetString("sandbox.worker_path"),
	}
}
