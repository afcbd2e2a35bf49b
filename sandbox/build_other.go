//go:build !linux

package sandbox

import (
	"context"
	"os/exec"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/governor"
)

// Sandbox is a placeholder off Linux so callers compile; Build never
// produces one.
type Sandbox struct {
	ID      string
	Name    string
	Root    string
	WorkDir string
}

// Build always fails off Linux. Callers are expected to consult
// Supported() first and fall back to in-process loading deliberately.
func Build(context.Context, string, Config) (*Sandbox, error) {
	return nil, ecode.ErrUnsupported
}

func (s *Sandbox) Command(context.Context, string, ...string) (*exec.Cmd, error) {
	return nil, ecode.ErrUnsupported
}

func (s *Sandbox) EnterSpec() EnterSpec { return EnterSpec{} }

func (s *Sandbox) AddProcess(int) error { return ecode.ErrUnsupported }

func (s *Sandbox) Usage() (governor.Usage, error) {
	return governor.Usage{}, ecode.ErrUnsupported
}

func (s *Sandbox) Teardown(context.Context) error { return nil }
