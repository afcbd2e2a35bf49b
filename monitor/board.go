package monitor

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/orbisys/warden/governor"
)

// Sample is one usage observation for a plugin.
type Sample struct {
	Usage governor.Usage `json:"usage"`
	PID   int            `json:"pid,omitempty"`
	At    time.Time      `json:"at"`
}

// Board holds the latest usage sample per plugin. It is a concurrent map so
// status queries read it without touching the registry lock.
type Board struct {
	samples cmap.ConcurrentMap[string, Sample]
}

// NewBoard returns an empty usage board.
func NewBoard() *Board {
	return &Board{samples: cmap.New[Sample]()}
}

// Put records the latest sample for a plugin.
func (b *Board) Put(name string, s Sample) {
	b.samples.Set(name, s)
}

// Get returns the latest sample for a plugin.
func (b *Board) Get(name string) (Sample, bool) {
	return b.samples.Get(name)
}

// Remove drops a plugin's sample, typically on unload.
func (b *Board) Remove(name string) {
	b.samples.Remove(name)
}

// Snapshot copies the whole board.
func (b *Board) Snapshot() map[string]Sample {
	return b.samples.Items()
}

// Len returns the number of plugins with a recorded sample.
func (b *Board) Len() int {
	return b.samples.Count()
}
