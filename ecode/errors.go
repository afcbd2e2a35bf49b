package ecode

import (
	"errors"
	"fmt"
)

// Error kinds for plugin verification, loading and isolation. Callers match
// with errors.Is; constructors attach the plugin identity and cause.
var (
	// ErrNotFound indicates the named plugin has no record
	ErrNotFound = errors.New("plugin not found")
	// ErrAlreadyLoaded indicates a load for a name that is already active
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	// ErrUntrusted indicates verification failed; no side effects were taken
	ErrUntrusted = errors.New("plugin is not trusted")
	// ErrLoad indicates file, format or symbol resolution failure
	ErrLoad = errors.New("plugin load failed")
	// ErrInitialization indicates the plugin's init entry point failed
	ErrInitialization = errors.New("plugin initialization failed")
	// ErrSandbox indicates an isolation primitive failed to apply
	ErrSandbox = errors.New("sandbox construction failed")
	// ErrChannel indicates the IPC channel is broken or timed out
	ErrChannel = errors.New("ipc channel failure")
	// ErrTimeout indicates a bounded operation did not finish in time
	ErrTimeout = errors.New("operation timed out")
	// ErrProtocol indicates a malformed or oversized IPC frame
	ErrProtocol = errors.New("ipc protocol violation")
	// ErrMonitorRunning indicates a second resource monitor start
	ErrMonitorRunning = errors.New("resource monitor already running")
	// ErrUnsupported indicates the platform lacks the requested isolation
	ErrUnsupported = errors.New("not supported on this platform")
	// ErrSealed indicates the trust store blob could not be opened
	ErrSealed = errors.New("trust store cannot be opened")
	// ErrHook indicates a hook handler failed or panicked
	ErrHook = errors.New("hook execution failed")
)

// NotFound returns an ErrNotFound for the named plugin
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// AlreadyLoaded returns an ErrAlreadyLoaded for the named plugin
func AlreadyLoaded(name string) error {
	return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
}

// Untrusted returns an ErrUntrusted with the verification reason
func Untrusted(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrUntrusted, name, reason)
}

// Load returns an ErrLoad wrapping the cause
func Load(path string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrLoad, path, cause)
}

// Initialization returns an ErrInitialization wrapping the cause
func Initialization(name string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrInitialization, name, cause)
}

// Sandbox returns an ErrSandbox naming the failing primitive
func Sandbox(primitive string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrSandbox, primitive, cause)
}

// Channel returns an ErrChannel wrapping the cause
func Channel(cause error) error {
	return fmt.Errorf("%w: %v", ErrChannel, cause)
}

// Timeout returns an ErrTimeout for the given operation
func Timeout(op string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, op)
}

// Protocol returns an ErrProtocol with detail
func Protocol(detail string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, detail)
}

// Hook returns an ErrHook for the named hook wrapping the cause
func Hook(name string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrHook, name, cause)
}

// IsUntrusted reports whether err classifies as a verification failure
func IsUntrusted(err error) bool { return errors.Is(err, ErrUntrusted) }

// IsNotFound reports whether err classifies as a missing record
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsChannel reports whether err classifies as an IPC failure
func IsChannel(err error) bool { return errors.Is(err, ErrChannel) || errors.Is(err, ErrTimeout) }

// IsSandbox reports whether err classifies as a sandbox construction failure
func IsSandbox(err error) bool { return errors.Is(err, ErrSandbox) }

// IsSealed reports whether err classifies as an unopenable trust store
func IsSealed(err error) bool { return errors.Is(err, ErrSealed) }
