// Package hostctx provides the typed key/value store the host hands to a
// plugin at initialization.
//
// The host populates the context before init and passes it by reference;
// the runtime passes it through unmodified. For sandboxed plugins the
// context crosses the process boundary as a JSON snapshot, so values that
// must be visible to isolated plugins need to be JSON-encodable.
package hostctx

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Well-known context keys the host populates.
const (
	KeyConfiguration = "configuration"
	KeyEventBus      = "event_bus"
	KeyCache         = "cache"
	KeyMetrics       = "metrics"
	// KeyNetworkPolicy holds the *sandbox.Policy a sandboxed plugin must
	// dial through. Only set inside workers.
	KeyNetworkPolicy = "network_policy"
)

// Context is a concurrency-safe key/value store shared with plugins.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns an empty context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// Set stores value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Delete removes key. It reports whether a value was present.
func (c *Context) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	delete(c.values, key)
	return ok
}

// Len returns the number of stored keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Keys returns all keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.values))
	for k := range c.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetString returns the string under key, or "" when absent or not a string.
func (c *Context) GetString(key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt64 returns the int64 under key, accepting any integer type.
func (c *Context) GetInt64(key string) (int64, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// GetBool returns the bool under key.
func (c *Context) GetBool(key string) (bool, bool) {
	if v, ok := c.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// Decode unmarshals the value under key into dst. It handles both native
// values (re-encoded through JSON) and raw JSON received across a process
// boundary.
func (c *Context) Decode(key string, dst any) error {
	v, ok := c.Get(key)
	if !ok {
		return fmt.Errorf("hostctx: key %q not set", key)
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("hostctx: encode %q: %w", key, err)
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("hostctx: decode %q: %w", key, err)
	}
	return nil
}

// Snapshot returns a shallow copy of the stored values.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Export serializes every JSON-encodable value for transfer to a sandboxed
// plugin. Values that cannot be marshaled (live handles, channels) are
// skipped: they only make sense in-process.
func (c *Context) Export() map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(c.values))
	for k, v := range c.values {
		if raw, ok := v.(json.RawMessage); ok {
			out[k] = raw
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = encoded
	}
	return out
}

// Import builds a context from an exported snapshot. Values stay raw until
// a caller decodes them with Decode.
func Import(raw map[string]json.RawMessage) *Context {
	c := New()
	for k, v := range raw {
		c.values[k] = v
	}
	return c
}
