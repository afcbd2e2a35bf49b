package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/orbisys/warden/ecode"
)

// DefaultInterval is the sampling cadence when the operator configures
// nothing.
const DefaultInterval = 10 * time.Second

// TickFunc is invoked once per interval. The context is the monitor's; it
// is cancelled when the monitor stops.
type TickFunc func(ctx context.Context)

// Monitor runs a periodic sampling tick on its own goroutine. Exactly one
// loop may run at a time; a second Start is rejected rather than stacked.
type Monitor struct {
	interval time.Duration
	tick     TickFunc

	enabled atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a monitor. A non-positive interval falls back to
// DefaultInterval.
func New(ctx context.Context, interval time.Duration, tick TickFunc) (*Monitor, error) {
	if tick == nil {
		return nil, fmt.Errorf("monitor: nil tick function")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	return &Monitor{
		interval: interval,
		tick:     tick,
		ctx:      monitorCtx,
		cancel:   cancel,
	}, nil
}

// Start launches the sampling loop. A monitor that is already running
// returns ErrMonitorRunning; a stopped monitor cannot be restarted.
func (m *Monitor) Start() error {
	if err := m.ctx.Err(); err != nil {
		return fmt.Errorf("monitor: stopped: %w", err)
	}
	if !m.enabled.CompareAndSwap(false, true) {
		return ecode.ErrMonitorRunning
	}
	go m.loop()
	return nil
}

// Stop cancels the loop. Safe to call more than once; the final tick in
// flight finishes before the goroutine exits.
func (m *Monitor) Stop() {
	m.enabled.Store(false)
	m.cancel()
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	return m.enabled.Load() && m.ctx.Err() == nil
}

// Interval returns the configured cadence.
func (m *Monitor) Interval() time.Duration { return m.interval }

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.enabled.Load() {
				return
			}
			m.tick(m.ctx)
		}
	}
}
