// Package cache provides the shared scratch store the host seeds into the
// plugin context. Plugins loaded in the host process use it to share
// computed state across hook invocations without owning their own
// synchronization; entries may carry a TTL so stale state ages out.
//
// Live services never cross the process boundary: the context snapshot
// handed to sandboxed workers skips them.
package cache

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// entry pairs a value with its expiry; a zero expiresAt means no TTL.
type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a concurrency-safe in-process key/value store with lazy
// expiry: stale entries are dropped when touched, so there is no janitor
// goroutine to own or stop.
type Memory struct {
	items cmap.ConcurrentMap[string, entry]
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{items: cmap.New[entry]()}
}

// Set stores a value without expiry.
func (m *Memory) Set(key string, value any) {
	m.items.Set(key, entry{value: value})
}

// SetTTL stores a value that expires after ttl. A non-positive ttl stores
// it without expiry.
func (m *Memory) SetTTL(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.items.Set(key, e)
}

// Get returns the live value under key. An expired entry is a miss and is
// dropped, unless a concurrent Set already replaced it.
func (m *Memory) Get(key string) (any, bool) {
	e, ok := m.items.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		m.items.RemoveCb(key, func(_ string, cur entry, exists bool) bool {
			return exists && cur.expired(time.Now())
		})
		return nil, false
	}
	return e.value, true
}

// Delete removes key, reporting whether a live entry was present.
func (m *Memory) Delete(key string) bool {
	e, present := m.items.Pop(key)
	return present && !e.expired(time.Now())
}

// Len counts live entries, sweeping expired ones out on the way.
func (m *Memory) Len() int {
	now := time.Now()
	n := 0
	for kv := range m.items.IterBuffered() {
		if kv.Val.expired(now) {
			m.items.RemoveCb(kv.Key, func(_ string, cur entry, exists bool) bool {
				return exists && cur.expired(now)
			})
			continue
		}
		n++
	}
	return n
}

// Purge drops every entry.
func (m *Memory) Purge() {
	m.items.Clear()
}
