package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gosimple/slug"

	"github.com/orbisys/warden/ecode"
)

// Listener owns one plugin's unix socket on the host side. The socket file
// is created on Listen and removed on Close.
type Listener struct {
	ln   *net.UnixListener
	path string
	opts []ChannelOption
}

// SocketPath returns the endpoint path for a plugin under dir. Plugin names
// are slugged so arbitrary names cannot escape the socket directory.
func SocketPath(dir, pluginName string) string {
	return filepath.Join(dir, fmt.Sprintf("plugin-%s.sock", slug.Make(pluginName)))
}

// Listen creates the plugin's socket. A stale socket file from a previous
// run is removed first; a live one would fail the bind and surface here.
func Listen(dir, pluginName string, opts ...ChannelOption) (*Listener, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ecode.Channel(fmt.Errorf("create socket dir %s: %v", dir, err))
	}
	path := SocketPath(dir, pluginName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, ecode.Channel(fmt.Errorf("remove stale socket %s: %v", path, err))
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, ecode.Channel(err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, ecode.Channel(fmt.Errorf("listen %s: %v", path, err))
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, ecode.Channel(fmt.Errorf("restrict socket %s: %v", path, err))
	}
	return &Listener{ln: ln, path: path, opts: opts}, nil
}

// Endpoint returns the socket path workers are told to dial.
func (l *Listener) Endpoint() string { return l.path }

// Accept waits for the worker to connect, bounded by the context deadline.
// The startup window for a spawned worker is enforced here.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := l.ln.SetDeadline(deadline); err != nil {
			return nil, ecode.Channel(err)
		}
	}
	conn, err := l.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ecode.Timeout("accept worker connection")
		}
		return nil, ecode.Channel(fmt.Errorf("accept: %v", err))
	}
	return NewChannel(conn, l.opts...), nil
}

// Close stops listening and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// Dial connects to a plugin endpoint from the worker side. The host may
// still be between fork and listen when the worker starts, so the dial
// retries with a constant backoff until the context expires.
func Dial(ctx context.Context, endpoint string, opts ...ChannelOption) (*Channel, error) {
	var conn net.Conn
	connect := func() error {
		var err error
		conn, err = net.DialTimeout("unix", endpoint, time.Second)
		return err
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, ecode.Channel(fmt.Errorf("dial %s: %v", endpoint, err))
	}
	return NewChannel(conn, opts...), nil
}
