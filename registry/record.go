package registry

import (
	"time"

	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/trust"
)

// record is one plugin's entry in the arena. Records are keyed by plugin
// name; until a module declares its real name at initialization the key is
// the artifact's file stem, kept in provisional so a worker failure reported
// under the spawn-time name still finds the re-keyed record.
type record struct {
	name        string
	provisional string
	path        string

	hash   string
	level  trust.Level
	reason string

	status Status

	version     string
	author      string
	description string

	limits   governor.ResourceLimits
	tracker  *governor.Tracker
	behavior governor.UnmountBehavior

	rt        runtime
	sandboxed bool

	loadedAt  time.Time
	lastError string
}

// Info is the exportable copy of a record returned by queries.
type Info struct {
	Name        string                  `json:"name"`
	Path        string                  `json:"path"`
	Version     string                  `json:"version,omitempty"`
	Author      string                  `json:"author,omitempty"`
	Description string                  `json:"description,omitempty"`
	Hash        string                  `json:"hash,omitempty"`
	TrustLevel  trust.Level             `json:"trust_level"`
	TrustReason string                  `json:"trust_reason,omitempty"`
	Status      Status                  `json:"status"`
	Limits      governor.ResourceLimits `json:"limits"`
	Violations  []governor.Record       `json:"violations,omitempty"`
	LoadedAt    time.Time               `json:"loaded_at"`
	Sandboxed   bool                    `json:"sandboxed"`
	PID         int                     `json:"pid,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
}

// info snapshots the record. Caller holds at least a read lock.
func (rec *record) info() Info {
	out := Info{
		Name:        rec.name,
		Path:        rec.path,
		Version:     rec.version,
		Author:      rec.author,
		Description: rec.description,
		Hash:        rec.hash,
		TrustLevel:  rec.level,
		TrustReason: rec.reason,
		Status:      rec.status,
		Limits:      rec.limits,
		LoadedAt:    rec.loadedAt,
		Sandboxed:   rec.sandboxed,
		LastError:   rec.lastError,
	}
	if rec.rt != nil {
		out.PID = rec.rt.PID()
	}
	if rec.tracker != nil {
		out.Violations = rec.tracker.Snapshot()
	}
	return out
}

// loaded reports whether the record holds a live runtime.
func (rec *record) loaded() bool {
	return rec.status == StatusActive || rec.status == StatusInactive
}
