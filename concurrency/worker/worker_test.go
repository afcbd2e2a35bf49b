package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func stopPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.Stop(ctx)
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(&Config{Workers: 2, Queue: 8})
	pool.Start()

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		if err := pool.Submit(func() error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for ran.Load() != 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopPool(t, pool)

	if got := ran.Load(); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
	if got := pool.Stats().Completed; got != 5 {
		t.Errorf("Stats().Completed = %d, want 5", got)
	}
}

func TestPoolRefusesWhenQueueFull(t *testing.T) {
	pool := NewPool(&Config{Workers: 1, Queue: 1})
	// Not started, so the single queue slot fills and the second submit
	// must be refused.

	if err := pool.Submit(func() error { return nil }); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := pool.Submit(func() error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second submit error = %v, want ErrQueueFull", err)
	}
}

func TestPoolRefusesAfterStop(t *testing.T) {
	pool := NewPool(&Config{Workers: 1, Queue: 1})
	pool.Start()
	stopPool(t, pool)

	if err := pool.Submit(func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("submit after stop error = %v, want ErrStopped", err)
	}
	// A second stop is a no-op, not a hang or a panic.
	stopPool(t, pool)
}

func TestPoolCountsFailures(t *testing.T) {
	pool := NewPool(&Config{Workers: 1, Queue: 4})
	pool.Start()

	_ = pool.Submit(func() error { return errors.New("boom") })

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().Failed != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopPool(t, pool)

	if got := pool.Stats().Failed; got != 1 {
		t.Errorf("Stats().Failed = %d, want 1", got)
	}
}

func TestPoolContainsPanics(t *testing.T) {
	pool := NewPool(&Config{Workers: 1, Queue: 4})
	pool.Start()

	var after atomic.Bool
	_ = pool.Submit(func() error { panic("broken artifact") })
	_ = pool.Submit(func() error {
		after.Store(true)
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for !after.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stopPool(t, pool)

	if !after.Load() {
		t.Fatal("task after the panic never ran; worker died")
	}
	st := pool.Stats()
	if st.Panicked != 1 || st.Failed != 1 {
		t.Errorf("Stats() = %+v, want Panicked 1 and Failed 1", st)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Workers: 1, Queue: 1}, false},
		{"zero workers", Config{Workers: 0, Queue: 1}, true},
		{"zero queue", Config{Workers: 1, Queue: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
