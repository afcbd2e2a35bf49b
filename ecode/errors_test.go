package ecode

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds_Classification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", NotFound("markdown"), ErrNotFound},
		{"already loaded", AlreadyLoaded("markdown"), ErrAlreadyLoaded},
		{"untrusted", Untrusted("markdown", "hash not in trust store"), ErrUntrusted},
		{"load", Load("/plugins/x.so", errors.New("missing symbol")), ErrLoad},
		{"initialization", Initialization("markdown", errors.New("boom")), ErrInitialization},
		{"sandbox", Sandbox("cgroup", errors.New("permission denied")), ErrSandbox},
		{"channel", Channel(errors.New("connection reset")), ErrChannel},
		{"timeout", Timeout("execute_hook"), ErrTimeout},
		{"protocol", Protocol("frame exceeds maximum size"), ErrProtocol},
		{"hook", Hook("on_save", errors.New("panic")), ErrHook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.target)
			}
		})
	}
}

func TestErrorKinds_WrappedChain(t *testing.T) {
	inner := Sandbox("seccomp", errors.New("EPERM"))
	outer := fmt.Errorf("loading plugin markdown: %w", inner)

	if !IsSandbox(outer) {
		t.Error("wrapped sandbox error not classified")
	}
	if IsUntrusted(outer) {
		t.Error("sandbox error misclassified as untrusted")
	}
}

func TestIsChannel_CoversTimeout(t *testing.T) {
	if !IsChannel(Timeout("call")) {
		t.Error("timeout should classify as channel failure")
	}
	if !IsChannel(Channel(errors.New("eof"))) {
		t.Error("channel error should classify as channel failure")
	}
	if IsChannel(NotFound("x")) {
		t.Error("not-found should not classify as channel failure")
	}
}

func TestUntrusted_MessageCarriesIdentity(t *testing.T) {
	err := Untrusted("markdown", "signature mismatch")
	want := "plugin is not trusted: markdown: signature mismatch"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}
