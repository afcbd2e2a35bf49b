package registry

import (
	"context"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/event"
	"github.com/orbisys/warden/governor"
	"github.com/orbisys/warden/logging/logger"
	"github.com/orbisys/warden/monitor"
)

// StartResourceMonitor begins periodic usage sampling and limit checks. A
// non-positive interval uses the configured one. A second start while the
// monitor runs returns ErrMonitorRunning.
func (r *Registry) StartResourceMonitor(ctx context.Context, interval time.Duration) error {
	r.monMu.Lock()
	defer r.monMu.Unlock()

	if r.mon != nil && r.mon.Running() {
		return ecode.ErrMonitorRunning
	}
	if interval <= 0 {
		interval = r.conf.Monitor.Interval
	}
	// A stopped monitor cannot be restarted, so every start builds a
	// fresh one.
	mon, err := monitor.New(ctx, interval, r.monitorTick)
	if err != nil {
		return err
	}
	if err := mon.Start(); err != nil {
		return err
	}
	r.mon = mon
	logger.Infof(ctx, "resource monitor started, interval %s", mon.Interval())
	return nil
}

// StopResourceMonitor cancels the sampling loop. A tick in flight finishes
// on its own goroutine; Stop does not wait for it.
func (r *Registry) StopResourceMonitor() {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	if r.mon != nil {
		r.mon.Stop()
		r.mon = nil
	}
}

// monitorTarget is the snapshot of one loaded plugin a tick works from, so
// sampling never runs under the registry lock.
type monitorTarget struct {
	name     string
	rt       runtime
	pid      int
	limits   governor.ResourceLimits
	tracker  *governor.Tracker
	behavior governor.UnmountBehavior
}

// monitorTick samples every loaded plugin, appends violations and retires
// plugins that crossed the threshold. It also reconciles the usage board so
// samples for plugins that disappeared between ticks are dropped.
func (r *Registry) monitorTick(ctx context.Context) {
	r.mu.RLock()
	targets := make([]monitorTarget, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.loaded() || rec.rt == nil || rec.tracker == nil {
			continue
		}
		targets = append(targets, monitorTarget{
			name:     rec.name,
			rt:       rec.rt,
			pid:      rec.rt.PID(),
			limits:   rec.limits,
			tracker:  rec.tracker,
			behavior: rec.behavior,
		})
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, t := range targets {
		usage, err := t.rt.Usage(ctx)
		if err != nil {
			logger.Warnf(ctx, "sample %s: %v", t.name, err)
			continue
		}
		r.board.Put(t.name, monitor.Sample{Usage: usage, PID: t.pid, At: now})

		violations := t.limits.Check(usage, now)
		if len(violations) == 0 {
			continue
		}
		count := t.tracker.Append(violations...)
		if t.behavior.LogViolations {
			for _, v := range violations {
				logViolation(ctx, t.name, v)
			}
		}
		r.bus.Publish(event.PluginViolation, map[string]any{
			"name":       t.name,
			"violations": violations,
			"count":      count,
		})

		if t.behavior.AutoUnmount && t.tracker.Exceeded() {
			logger.Errorf(ctx, "plugin %s crossed the violation threshold (%d), retiring", t.name, t.tracker.Threshold())
			r.bus.Publish(event.PluginRetired, map[string]any{"name": t.name, "count": count})
			if err := r.unload(ctx, t.name, t.behavior.CallShutdown); err != nil && !ecode.IsNotFound(err) {
				logger.Errorf(ctx, "retire %s: %v", t.name, err)
			}
		}
	}

	for name := range r.board.Snapshot() {
		r.mu.RLock()
		rec, ok := r.records[name]
		alive := ok && rec.loaded()
		r.mu.RUnlock()
		if !alive {
			r.board.Remove(name)
		}
	}
}

// logViolation picks the log level from the violation's severity.
func logViolation(ctx context.Context, name string, v governor.Record) {
	switch v.Kind.Severity() {
	case governor.SeverityCritical, governor.SeverityHigh:
		logger.Errorf(ctx, "plugin %s violation: %s", name, v)
	default:
		logger.Warnf(ctx, "plugin %s violation: %s", name, v)
	}
}
