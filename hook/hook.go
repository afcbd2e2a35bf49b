// Package hook implements the named extension points plugins attach to.
//
// Handlers register under a hook name with a priority; dispatch runs the
// matching handlers from highest to lowest priority and chains each
// handler's output into the next one's input. A panicking handler is
// contained and surfaces as an error instead of taking the host down.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orbisys/warden/ecode"
)

// Priority bounds and the conventional levels. Higher priorities run first.
const (
	PriorityLowest  = 0
	PriorityLow     = 25
	PriorityNormal  = 50
	PriorityHigh    = 75
	PriorityHighest = 100

	priorityMax = 255
)

// Handler processes a hook dispatch. The returned bytes replace the payload
// for the next handler in the chain; returning nil keeps the payload as is.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// HandleID identifies a single registration for later removal.
type HandleID uint64

// Registration describes a handler attachment.
type Registration struct {
	Hook     string        // hook name, e.g. "content.created"
	Owner    string        // plugin the handler belongs to
	Priority int           // 0..255, higher runs earlier
	Timeout  time.Duration // per-invocation budget, 0 inherits the caller's
	Handler  Handler
}

// Info is the exportable view of a registration.
type Info struct {
	ID       HandleID
	Hook     string
	Owner    string
	Priority int
	Timeout  time.Duration
}

type entry struct {
	id       HandleID
	owner    string
	priority int
	timeout  time.Duration
	seq      uint64
	handler  Handler
	gate     *ownerGate
}

// ownerGate tracks in-flight handler calls for one owner so unload can
// retire the owner and wait for running handlers to finish.
type ownerGate struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	retired bool
}

func (g *ownerGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retired {
		return false
	}
	g.wg.Add(1)
	return true
}

func (g *ownerGate) retire() {
	g.mu.Lock()
	g.retired = true
	g.mu.Unlock()
}

func (g *ownerGate) restore() {
	g.mu.Lock()
	g.retired = false
	g.mu.Unlock()
}

func (g *ownerGate) isRetired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retired
}

// Registry holds hook registrations and dispatches events through them.
type Registry struct {
	mu     sync.RWMutex
	hooks  map[string][]*entry
	gates  map[string]*ownerGate
	nextID HandleID
	seq    uint64
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[string][]*entry),
		gates: make(map[string]*ownerGate),
	}
}

// Register attaches reg's handler to its hook. The returned HandleID can be
// passed to Unregister.
func (r *Registry) Register(reg Registration) (HandleID, error) {
	if reg.Hook == "" {
		return 0, errors.New("hook: empty hook name")
	}
	if reg.Owner == "" {
		return 0, errors.New("hook: empty owner")
	}
	if reg.Handler == nil {
		return 0, fmt.Errorf("hook: nil handler for %s", reg.Hook)
	}
	if reg.Priority < PriorityLowest || reg.Priority > priorityMax {
		return 0, fmt.Errorf("hook: priority %d out of range [0,%d]", reg.Priority, priorityMax)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	gate, ok := r.gates[reg.Owner]
	if !ok || gate.isRetired() {
		gate = &ownerGate{}
		r.gates[reg.Owner] = gate
	}

	r.nextID++
	r.seq++
	e := &entry{
		id:       r.nextID,
		owner:    reg.Owner,
		priority: reg.Priority,
		timeout:  reg.Timeout,
		seq:      r.seq,
		handler:  reg.Handler,
		gate:     gate,
	}

	chain := append(r.hooks[reg.Hook], e)
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority > chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
	r.hooks[reg.Hook] = chain
	return e.id, nil
}

// Unregister removes a single registration. It reports whether the handle
// was found.
func (r *Registry) Unregister(id HandleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, chain := range r.hooks {
		for i, e := range chain {
			if e.id == id {
				r.hooks[name] = append(chain[:i:i], chain[i+1:]...)
				if len(r.hooks[name]) == 0 {
					delete(r.hooks, name)
				}
				return true
			}
		}
	}
	return false
}

// UnregisterOwner removes every registration the owner holds and returns
// the number removed.
func (r *Registry) UnregisterOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, chain := range r.hooks {
		kept := chain[:0]
		for _, e := range chain {
			if e.owner == owner {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.hooks, name)
		} else {
			r.hooks[name] = kept
		}
	}
	delete(r.gates, owner)
	return removed
}

// Drain retires an owner: new dispatches skip its handlers immediately, and
// Drain blocks until handlers already running return, or until wait elapses.
func (r *Registry) Drain(owner string, wait time.Duration) error {
	r.mu.RLock()
	gate := r.gates[owner]
	r.mu.RUnlock()
	if gate == nil {
		return nil
	}
	gate.retire()

	done := make(chan struct{})
	go func() {
		gate.wg.Wait()
		close(done)
	}()
	if wait <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(wait):
		return ecode.Timeout(fmt.Sprintf("drain hooks for %s", owner))
	}
}

// Restore reopens a retired owner so its handlers run again. Drain followed
// by Restore is the pause/resume pair: handlers stay registered throughout,
// only the gate flips.
func (r *Registry) Restore(owner string) {
	r.mu.RLock()
	gate := r.gates[owner]
	r.mu.RUnlock()
	if gate != nil {
		gate.restore()
	}
}

// Dispatch runs every handler registered for the named hook in priority
// order and returns the payload after the last handler. A handler error or
// panic aborts the chain.
func (r *Registry) Dispatch(ctx context.Context, name string, data []byte) ([]byte, error) {
	r.mu.RLock()
	chain := make([]*entry, len(r.hooks[name]))
	copy(chain, r.hooks[name])
	r.mu.RUnlock()

	for _, e := range chain {
		if err := ctx.Err(); err != nil {
			return nil, ecode.Hook(name, err)
		}
		if !e.gate.enter() {
			continue // owner is being unloaded
		}
		out, err := runHandler(ctx, name, e, data)
		e.gate.wg.Done()
		if err != nil {
			return nil, err
		}
		if out != nil {
			data = out
		}
	}
	return data, nil
}

// runHandler invokes one handler under its timeout with panic containment.
func runHandler(ctx context.Context, name string, e *entry, data []byte) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{nil, fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		out, err := e.handler(ctx, data)
		ch <- result{out, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, ecode.Hook(name, res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		return nil, ecode.Hook(name, ctx.Err())
	}
}

// Hooks returns the names that currently have at least one handler, sorted.
func (r *Registry) Hooks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandlerCount returns the number of handlers attached to a hook.
func (r *Registry) HandlerCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[name])
}

// Registrations returns the owner's registrations ordered by hook name then
// priority. Used to export a plugin's attachments across the IPC boundary.
func (r *Registry) Registrations(owner string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for name, chain := range r.hooks {
		for _, e := range chain {
			if e.owner != owner {
				continue
			}
			out = append(out, Info{
				ID:       e.id,
				Hook:     name,
				Owner:    owner,
				Priority: e.priority,
				Timeout:  e.timeout,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hook != out[j].Hook {
			return out[i].Hook < out[j].Hook
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// All returns every registration regardless of owner, ordered by hook name
// then priority.
func (r *Registry) All() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for name, chain := range r.hooks {
		for _, e := range chain {
			out = append(out, Info{
				ID:       e.id,
				Hook:     name,
				Owner:    e.owner,
				Priority: e.priority,
				Timeout:  e.timeout,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hook != out[j].Hook {
			return out[i].Hook < out[j].Hook
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}
