// Package worker provides the bounded task pool behind parallel artifact
// discovery. Work that overflows the queue is refused rather than buffered
// without bound; the caller decides whether to run a refused task inline.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull reports backpressure: the task buffer is at capacity.
	ErrQueueFull = errors.New("worker: task queue full")
	// ErrStopped reports a submit after the pool shut down.
	ErrStopped = errors.New("worker: pool stopped")
)

// Task is one unit of pool work. A non-nil return counts as a failure;
// a panic is contained and counted, never propagated to the pool.
type Task func() error

// Config sizes a pool.
type Config struct {
	Workers int // goroutines draining the queue
	Queue   int // buffered tasks; Submit refuses beyond this
}

// DefaultConfig suits short filesystem-bound tasks such as hashing.
func DefaultConfig() *Config {
	return &Config{Workers: 4, Queue: 256}
}

// Validate rejects sizes the pool cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Workers < 1 {
		return errors.New("worker: need at least one worker")
	}
	if cfg.Queue < 1 {
		return errors.New("worker: need at least one queue slot")
	}
	return nil
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Completed int64
	Failed    int64
	Panicked  int64
	Pending   int
}

// Pool runs tasks over a fixed set of goroutines.
//
// Stop interrupts idle workers immediately and lets busy ones finish the
// task in hand; tasks still queued may be dropped. It is a shutdown valve,
// not a completion barrier; callers needing one carry their own WaitGroup.
type Pool struct {
	workers int
	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopped   atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// NewPool builds a pool; a nil config means DefaultConfig. Start launches it.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: cfg.Workers,
		tasks:   make(chan Task, cfg.Queue),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.drain()
	}
}

// Submit queues one task without blocking.
func (p *Pool) Submit(t Task) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop shuts the pool down, waiting for busy workers until ctx expires.
// Safe to call more than once.
func (p *Pool) Stop(ctx context.Context) {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (p *Pool) drain() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.failed.Add(1)
		}
	}()
	if err := t(); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Pending:   len(p.tasks),
	}
}
