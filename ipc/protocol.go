// Package ipc carries the host ↔ worker protocol for sandboxed plugins.
//
// Transport is a unix domain socket per plugin. Each frame is a 4-byte
// big-endian length followed by a JSON message envelope; frames above the
// configured bound are a protocol violation and break the channel. The
// host drives the conversation: every request expects exactly one response,
// with worker-initiated log frames allowed to interleave between them.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/nanoid"
)

// Type discriminates message payloads.
type Type string

// Host → worker requests.
const (
	TypeInitialize    Type = "initialize"
	TypeExecuteHook   Type = "execute_hook"
	TypeRegisterHooks Type = "register_hooks"
	TypeGetMetrics    Type = "get_metrics"
	TypePing          Type = "ping"
	TypeShutdown      Type = "shutdown"
)

// Worker → host responses.
const (
	TypeOK          Type = "ok"
	TypeError       Type = "error"
	TypeHookResult  Type = "hook_result"
	TypeHookTable   Type = "hook_table"
	TypeMetrics     Type = "metrics"
	TypePong        Type = "pong"
	TypeShutdownAck Type = "shutdown_ack"
)

// TypeLog is the one worker-initiated message: a log record forwarded to
// the host logger. It may arrive between any request and its response.
const TypeLog Type = "log"

// Message is the wire envelope. Payload holds the JSON encoding of the
// payload struct matching Type, or nothing for bare signals such as ping.
type Message struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message with a fresh ID. A nil payload produces a bare
// envelope.
func New(t Type, payload any) (Message, error) {
	m := Message{ID: nanoid.String(12), Type: t}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("ipc: encode %s payload: %w", t, err)
	}
	m.Payload = raw
	return m, nil
}

// Reply builds a response carrying the request's ID so the caller can
// correlate it.
func Reply(req Message, t Type, payload any) (Message, error) {
	m, err := New(t, payload)
	if err != nil {
		return Message{}, err
	}
	m.ID = req.ID
	return m, nil
}

// Decode unmarshals the payload into dst.
func (m Message) Decode(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("ipc: %s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("ipc: decode %s payload: %w", m.Type, err)
	}
	return nil
}

// IsAsync reports whether the message is worker-initiated rather than a
// response to a pending request.
func (m Message) IsAsync() bool { return m.Type == TypeLog }

// InitializePayload carries everything a worker needs to bring a plugin up.
type InitializePayload struct {
	PluginName string `json:"plugin_name"`
	PluginPath string `json:"plugin_path"`
	// Context is the host context exported for the sandboxed plugin.
	Context map[string]json.RawMessage `json:"context,omitempty"`
	// AllowedHosts lists the reachable endpoints under restricted network
	// mode. Empty means the mode's default applies.
	AllowedHosts []string `json:"allowed_hosts,omitempty"`
}

// InitializedPayload answers initialize with the plugin's self-declared
// metadata and resource limits. The host clamps the limits to its ceilings;
// the worker only reports them.
type InitializedPayload struct {
	Name        string                  `json:"name"`
	Version     string                  `json:"version,omitempty"`
	Author      string                  `json:"author,omitempty"`
	Description string                  `json:"description,omitempty"`
	Limits      governor.ResourceLimits `json:"limits"`
}

// ExecuteHookPayload asks the worker to dispatch one hook invocation.
type ExecuteHookPayload struct {
	Hook      string `json:"hook"`
	Data      []byte `json:"data,omitempty"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// HookResultPayload returns the payload after the plugin's handler chain.
type HookResultPayload struct {
	Data []byte `json:"data,omitempty"`
}

// HookTablePayload lists the hooks the plugin attached during init. The
// host mirrors them into its own registry as forwarding handlers.
type HookTablePayload struct {
	Hooks []HookAttachment `json:"hooks"`
}

// HookAttachment describes one hook registration made inside the worker.
type HookAttachment struct {
	Hook      string `json:"hook"`
	Priority  int    `json:"priority"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// MetricsPayload reports the worker's self-sampled resource usage.
type MetricsPayload struct {
	Usage governor.Usage `json:"usage"`
}

// ShutdownPayload requests plugin shutdown within the grace period.
type ShutdownPayload struct {
	GraceMS int64 `json:"grace_ms"`
}

// ErrorPayload carries a worker-side failure for the pending request.
type ErrorPayload struct {
	Message string `json:"message"`
}

// LogPayload is a worker log record forwarded to the host logger.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Plugin  string `json:"plugin,omitempty"`
}

// DecodeError extracts the error message from an error response, or
// synthesizes one when the payload itself is broken.
func DecodeError(m Message) error {
	var p ErrorPayload
	if err := m.Decode(&p); err != nil {
		return fmt.Errorf("ipc: worker error with unreadable payload")
	}
	return fmt.Errorf("ipc: worker error: %s", p.Message)
}
