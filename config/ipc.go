package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// IPC transport config struct
type IPC struct {
	SocketDir      string        // unix socket directory, one socket per plugin
	MaxFrameBytes  int           // upper bound on a single framed message
	CallTimeout    time.Duration // default round-trip bound
	StartupTimeout time.Duration // worker spawn to first connection
	ShutdownGrace  time.Duration // shutdown request to forced kill
	PingInterval   time.Duration // health check cadence
}

// getIPCConfig returns the ipc config
func getIPCConfig(v *viper.Viper) *IPC {
	return &IPC{
		SocketDir:      getStringOrDefault(v, "ipc.socket_dir", "/tmp/warden-plugins"),
		MaxFrameBytes:  getIntOrDefault(v, "ipc.max_frame_bytes", 16<<20),
		CallTimeout:    getDurationOrDefault(v, "ipc.call_timeout", 30*time.Second),
		StartupTimeout: getDurationOrDefault(v, "ipc.startup_timeout", 10*time.Second),
		ShutdownGrace:  getDurationOrDefault(v, "ipc.shutdown_grace", 5*time.Second),
		PingInterval:   getDurationOrDefault(v, "ipc.ping_interval", 5*time.Second),
	}
}

// Validate checks the ipc section.
func (i *IPC) Validate() error {
	if i.SocketDir == "" {
		return fmt.Errorf("socket directory must not be empty")
	}
	if i.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", i.MaxFrameBytes)
	}
	if i.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %v", i.CallTimeout)
	}
	return nil
}
