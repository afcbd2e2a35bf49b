package registry

import "fmt"

// Status is a plugin record's lifecycle state.
type Status int

const (
	// StatusAvailable marks a discovered, verified artifact that is not
	// loaded.
	StatusAvailable Status = iota
	// StatusUntrusted marks an artifact that failed verification. It can
	// leave this state only through a fresh verification.
	StatusUntrusted
	// StatusLoading marks a load in progress.
	StatusLoading
	// StatusActive marks a loaded plugin whose hooks dispatch.
	StatusActive
	// StatusInactive marks a paused plugin: loaded, hooks gated.
	StatusInactive
	// StatusFailed marks a load or runtime failure. A retry may leave it.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUntrusted:
		return "untrusted"
	case StatusLoading:
		return "loading"
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name, so Info serializes readably.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
