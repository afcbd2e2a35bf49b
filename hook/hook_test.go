package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orbisys/warden/ecode"
)

func appendHandler(tag string) Handler {
	return func(_ context.Context, data []byte) ([]byte, error) {
		return append(data, []byte(tag)...), nil
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		name string
		reg  Registration
	}{
		{"empty hook", Registration{Owner: "p", Handler: appendHandler("x")}},
		{"empty owner", Registration{Hook: "h", Handler: appendHandler("x")}},
		{"nil handler", Registration{Hook: "h", Owner: "p"}},
		{"priority too high", Registration{Hook: "h", Owner: "p", Priority: 300, Handler: appendHandler("x")}},
		{"priority negative", Registration{Hook: "h", Owner: "p", Priority: -1, Handler: appendHandler("x")}},
	}
	for _, tc := range cases {
		if _, err := r.Register(tc.reg); err == nil {
			t.Errorf("Register(%s) error = nil, want error", tc.name)
		}
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	r := NewRegistry()
	regs := []Registration{
		{Hook: "content.created", Owner: "low", Priority: PriorityLow, Handler: appendHandler("c")},
		{Hook: "content.created", Owner: "high", Priority: PriorityHighest, Handler: appendHandler("a")},
		{Hook: "content.created", Owner: "mid", Priority: PriorityNormal, Handler: appendHandler("b")},
	}
	for _, reg := range regs {
		if _, err := r.Register(reg); err != nil {
			t.Fatalf("Register() error = %v, want nil", err)
		}
	}

	out, err := r.Dispatch(context.Background(), "content.created", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if string(out) != "abc" {
		t.Errorf("Dispatch() = %q, want abc (highest priority first)", out)
	}
}

func TestDispatchStableWithinPriority(t *testing.T) {
	r := NewRegistry()
	for _, tag := range []string{"1", "2", "3"} {
		if _, err := r.Register(Registration{
			Hook: "h", Owner: "p", Priority: PriorityNormal, Handler: appendHandler(tag),
		}); err != nil {
			t.Fatalf("Register() error = %v, want nil", err)
		}
	}
	out, err := r.Dispatch(context.Background(), "h", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if string(out) != "123" {
		t.Errorf("Dispatch() = %q, want registration order 123", out)
	}
}

func TestDispatchNilResultKeepsPayload(t *testing.T) {
	r := NewRegistry()
	observed := ""
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityHigh,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			observed = string(data)
			return nil, nil
		},
	})
	mustRegister(t, r, Registration{Hook: "h", Owner: "p", Priority: PriorityLow, Handler: appendHandler("!")})

	out, err := r.Dispatch(context.Background(), "h", []byte("in"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if observed != "in" {
		t.Errorf("observer saw %q, want in", observed)
	}
	if string(out) != "in!" {
		t.Errorf("Dispatch() = %q, want in!", out)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityHigh,
		Handler: func(context.Context, []byte) ([]byte, error) {
			return nil, errors.New("boom")
		},
	})
	ran := false
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityLow,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			ran = true
			return data, nil
		},
	})

	if _, err := r.Dispatch(context.Background(), "h", nil); !errors.Is(err, ecode.ErrHook) {
		t.Fatalf("Dispatch() error = %v, want ErrHook", err)
	}
	if ran {
		t.Errorf("handler after failing one still ran")
	}
}

func TestDispatchContainsPanic(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal,
		Handler: func(context.Context, []byte) ([]byte, error) {
			panic("handler exploded")
		},
	})
	_, err := r.Dispatch(context.Background(), "h", nil)
	if !errors.Is(err, ecode.ErrHook) {
		t.Fatalf("Dispatch() error = %v, want ErrHook", err)
	}
}

func TestDispatchHandlerTimeout(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	defer close(release)
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal, Timeout: 20 * time.Millisecond,
		Handler: func(context.Context, []byte) ([]byte, error) {
			<-release
			return nil, nil
		},
	})
	_, err := r.Dispatch(context.Background(), "h", nil)
	if !errors.Is(err, ecode.ErrHook) {
		t.Fatalf("Dispatch() error = %v, want ErrHook on timeout", err)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register(Registration{Hook: "h", Owner: "p", Handler: appendHandler("x")})
	if err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if !r.Unregister(id) {
		t.Fatalf("Unregister() = false, want true")
	}
	if r.Unregister(id) {
		t.Errorf("Unregister() twice = true, want false")
	}
	if n := r.HandlerCount("h"); n != 0 {
		t.Errorf("HandlerCount() = %d, want 0", n)
	}
}

func TestUnregisterOwner(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{Hook: "a", Owner: "p1", Handler: appendHandler("x")})
	mustRegister(t, r, Registration{Hook: "b", Owner: "p1", Handler: appendHandler("y")})
	mustRegister(t, r, Registration{Hook: "a", Owner: "p2", Handler: appendHandler("z")})

	if n := r.UnregisterOwner("p1"); n != 2 {
		t.Fatalf("UnregisterOwner(p1) = %d, want 2", n)
	}
	if got := r.Hooks(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Hooks() = %v, want [a]", got)
	}
	if n := r.HandlerCount("a"); n != 1 {
		t.Errorf("HandlerCount(a) = %d, want 1", n)
	}
}

func TestDrainSkipsRetiredOwner(t *testing.T) {
	r := NewRegistry()
	calls := 0
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			calls++
			return data, nil
		},
	})

	if err := r.Drain("p", time.Second); err != nil {
		t.Fatalf("Drain() error = %v, want nil", err)
	}
	if _, err := r.Dispatch(context.Background(), "h", nil); err != nil {
		t.Fatalf("Dispatch() after drain error = %v, want nil", err)
	}
	if calls != 0 {
		t.Errorf("retired handler ran %d times, want 0", calls)
	}
}

func TestRestoreReopensDrainedOwner(t *testing.T) {
	r := NewRegistry()
	calls := 0
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			calls++
			return data, nil
		},
	})

	if err := r.Drain("p", time.Second); err != nil {
		t.Fatalf("Drain() error = %v, want nil", err)
	}
	r.Restore("p")
	if _, err := r.Dispatch(context.Background(), "h", nil); err != nil {
		t.Fatalf("Dispatch() after restore error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("restored handler ran %d times, want 1", calls)
	}

	// Restoring an owner that was never registered is a no-op.
	r.Restore("ghost")
}

func TestDrainWaitsForInflight(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			close(started)
			<-release
			return data, nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Dispatch(context.Background(), "h", nil)
	}()
	<-started

	drained := make(chan error, 1)
	go func() { drained <- r.Drain("p", time.Second) }()

	select {
	case <-drained:
		t.Fatalf("Drain() returned while handler still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	if err := <-drained; err != nil {
		t.Fatalf("Drain() error = %v, want nil", err)
	}
	wg.Wait()
}

func TestDrainTimeout(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	mustRegister(t, r, Registration{
		Hook: "h", Owner: "p", Priority: PriorityNormal,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			close(started)
			<-release
			return data, nil
		},
	})
	go r.Dispatch(context.Background(), "h", nil)
	<-started

	if err := r.Drain("p", 20*time.Millisecond); !errors.Is(err, ecode.ErrTimeout) {
		t.Fatalf("Drain() error = %v, want ErrTimeout", err)
	}
}

func TestRegistrations(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{Hook: "b", Owner: "p", Priority: PriorityLow, Handler: appendHandler("x")})
	mustRegister(t, r, Registration{Hook: "a", Owner: "p", Priority: PriorityHigh, Handler: appendHandler("y")})
	mustRegister(t, r, Registration{Hook: "a", Owner: "other", Priority: PriorityNormal, Handler: appendHandler("z")})

	infos := r.Registrations("p")
	if len(infos) != 2 {
		t.Fatalf("Registrations() returned %d entries, want 2", len(infos))
	}
	if infos[0].Hook != "a" || infos[1].Hook != "b" {
		t.Errorf("Registrations() order = %s,%s, want a,b", infos[0].Hook, infos[1].Hook)
	}
	for i, info := range infos {
		if info.Owner != "p" {
			t.Errorf("Registrations()[%d].Owner = %q, want p", i, info.Owner)
		}
	}
}

func TestAllSpansOwners(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{Hook: "b", Owner: "p", Priority: PriorityNormal, Handler: appendHandler("1")})
	mustRegister(t, r, Registration{Hook: "a", Owner: "q", Priority: PriorityLow, Handler: appendHandler("2")})
	mustRegister(t, r, Registration{Hook: "a", Owner: "p", Priority: PriorityHigh, Handler: appendHandler("3")})

	infos := r.All()
	if len(infos) != 3 {
		t.Fatalf("All() returned %d entries, want 3", len(infos))
	}
	got := make([]string, len(infos))
	for i, info := range infos {
		got[i] = fmt.Sprintf("%s/%s", info.Hook, info.Owner)
	}
	want := []string{"a/p", "a/q", "b/p"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All() order = %v, want %v (hook asc, priority desc)", got, want)
		}
	}
}

func TestRegisterAfterDrainGetsNewGate(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Registration{Hook: "h", Owner: "p", Handler: appendHandler("old")})
	if err := r.Drain("p", time.Second); err != nil {
		t.Fatalf("Drain() error = %v, want nil", err)
	}
	r.UnregisterOwner("p")

	mustRegister(t, r, Registration{Hook: "h", Owner: "p", Handler: appendHandler("new")})
	out, err := r.Dispatch(context.Background(), "h", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if string(out) != "new" {
		t.Errorf("Dispatch() = %q, want new (re-registered owner must run)", out)
	}
}

func mustRegister(t *testing.T, r *Registry, reg Registration) HandleID {
	t.Helper()
	if reg.Priority == 0 && reg.Hook != "" {
		reg.Priority = PriorityNormal
	}
	id, err := r.Register(reg)
	if err != nil {
		t.Fatalf("Register(%s) error = %v, want nil", reg.Hook, err)
	}
	return id
}

func ExampleRegistry_Dispatch() {
	r := NewRegistry()
	r.Register(Registration{
		Hook: "greeting", Owner: "sample", Priority: PriorityNormal,
		Handler: func(_ context.Context, data []byte) ([]byte, error) {
			return append(data, " world"...), nil
		},
	})
	out, _ := r.Dispatch(context.Background(), "greeting", []byte("hello"))
	fmt.Println(string(out))
	// Output: hello world
}
