package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbisys/warden/logging/logger"
)

// Registry lifecycle event names.
const (
	PluginLoaded    = "plugin.loaded"
	PluginUnloaded  = "plugin.unloaded"
	PluginFailed    = "plugin.failed"
	PluginViolation = "plugin.violation"
	PluginRetired   = "plugin.retired"
	PluginPaused    = "plugin.paused"
	PluginResumed   = "plugin.resumed"
)

// Data wraps an event payload with its origin.
type Data struct {
	Time      time.Time `json:"time"`
	Source    string    `json:"source"`
	EventType string    `json:"event_type"`
	Data      any       `json:"data"`
}

// Bus represents a simple event bus for host notification
type Bus struct {
	subscribers map[string][]func(Data)
	mu          sync.RWMutex
	metrics     struct {
		processed     atomic.Int64
		failed        atomic.Int64
		lastEventTime atomic.Value
	}
}

// NewBus creates a new Bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]func(Data)),
	}
}

// GetMetrics returns metrics
func (b *Bus) GetMetrics() map[string]any {
	return map[string]any{
		"processed_events": b.metrics.processed.Load(),
		"failed_events":    b.metrics.failed.Load(),
		"last_event_time":  b.metrics.lastEventTime.Load(),
	}
}

// Subscribe adds a subscriber for a specific event
func (b *Bus) Subscribe(eventName string, handler func(Data)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handler == nil {
		return
	}

	b.subscribers[eventName] = append(b.subscribers[eventName], handler)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(eventName string, data any) {
	b.mu.RLock()
	handlers, exists := b.subscribers[eventName]
	b.mu.RUnlock()

	if !exists {
		return
	}

	eventData := Data{
		Time:      time.Now(),
		Source:    "registry",
		EventType: eventName,
		Data:      data,
	}
	b.metrics.lastEventTime.Store(eventData.Time)

	for _, handler := range handlers {
		go func(h func(Data)) {
			defer func() {
				if r := recover(); r != nil {
					b.metrics.failed.Add(1)
					logger.Errorf(context.Background(), "event handler panic: %v", r)
				}
			}()

			h(eventData)
			b.metrics.processed.Add(1)
		}(handler)
	}
}

// PublishSync delivers an event on the calling goroutine, recovering per handler.
// Used where the publisher must know every subscriber observed the event.
func (b *Bus) PublishSync(eventName string, data any) error {
	b.mu.RLock()
	handlers, exists := b.subscribers[eventName]
	b.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handlers for event: %s", eventName)
	}

	eventData := Data{
		Time:      time.Now(),
		Source:    "registry",
		EventType: eventName,
		Data:      data,
	}
	b.metrics.lastEventTime.Store(eventData.Time)

	for _, handler := range handlers {
		func(h func(Data)) {
			defer func() {
				if r := recover(); r != nil {
					b.metrics.failed.Add(1)
					logger.Errorf(context.Background(), "event handler panic: %v", r)
				}
			}()

			h(eventData)
			b.metrics.processed.Add(1)
		}(handler)
	}

	return nil
}
