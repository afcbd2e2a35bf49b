package process

import (
	"context"
	"fmt"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/ipc"
	"github.com/orbisys/warden/logging/logger"
)

// startPing launches the background health loop. It runs until Release or
// until the worker misses enough checks to be reported unhealthy.
func (p *Proc) startPing() {
	ctx, cancel := context.WithCancel(context.Background())
	p.pingCancel = cancel
	p.pingDone = make(chan struct{})
	go p.pingLoop(ctx)
}

func (p *Proc) pingLoop(ctx context.Context) {
	defer close(p.pingDone)

	interval := p.cfg.PingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		// A worker that already exited has nothing left to answer with.
		if !p.Alive() {
			p.reportUnhealthy(ctx, fmt.Errorf("worker exited: %v", p.exitErr))
			return
		}

		// An application call in flight is proof enough of a live channel;
		// do not queue a ping behind a long hook execution.
		if !p.callGate.TryLock() {
			missed = 0
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := p.pingLocked(pingCtx)
		cancel()
		p.callGate.Unlock()

		if err == nil {
			missed = 0
			continue
		}
		if ctx.Err() != nil {
			// Release raced the ping; the failure is ours, not the worker's.
			return
		}
		missed++
		logger.Warnf(ctx, "plugin %s missed health check %d/%d: %v", p.name, missed, pingMissLimit, err)
		if missed >= pingMissLimit {
			p.reportUnhealthy(ctx, err)
			return
		}
	}
}

// pingLocked is Ping without the call gate; the loop already holds it.
func (p *Proc) pingLocked(ctx context.Context) error {
	req, err := ipc.New(ipc.TypePing, nil)
	if err != nil {
		return err
	}
	resp, err := p.ch.Call(ctx, req)
	if err != nil {
		return err
	}
	if resp.Type != ipc.TypePong {
		return ecode.Protocol(fmt.Sprintf("unexpected %s response to ping", resp.Type))
	}
	return nil
}

func (p *Proc) reportUnhealthy(ctx context.Context, cause error) {
	logger.Errorf(ctx, "plugin %s worker is unhealthy: %v", p.name, cause)
	if p.onUnhealthy != nil {
		// The callback is free to call Release, and Release waits for this
		// loop to exit. It must not run on the loop goroutine.
		go p.onUnhealthy(p.name, cause)
	}
}
