package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbisys/warden/ecode"
)

// Channel is a framed message connection to one peer.
//
// Writes are serialized internally so response frames and asynchronous log
// frames never interleave. Call additionally serializes whole round trips:
// the protocol has no pipelining, one request is in flight at a time.
type Channel struct {
	conn        net.Conn
	maxBytes    int
	callTimeout time.Duration
	onAsync     func(Message)

	wmu    sync.Mutex // guards frame writes
	callmu sync.Mutex // guards request/response sequences
	closed atomic.Bool
}

// ChannelOption adjusts a channel at construction.
type ChannelOption func(*Channel)

// WithMaxFrameBytes overrides the frame size bound.
func WithMaxFrameBytes(n int) ChannelOption {
	return func(c *Channel) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithCallTimeout overrides the default round-trip bound used by Call when
// the caller's context carries no deadline.
func WithCallTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithAsyncHandler installs the callback invoked for worker-initiated
// messages that arrive while Call waits for a response.
func WithAsyncHandler(fn func(Message)) ChannelOption {
	return func(c *Channel) { c.onAsync = fn }
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn, opts ...ChannelOption) *Channel {
	c := &Channel{
		conn:        conn,
		maxBytes:    DefaultMaxFrameBytes,
		callTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes one message. The context's deadline, when present, bounds the
// write; otherwise the write blocks until the kernel accepts the frame.
func (c *Channel) Send(ctx context.Context, m Message) error {
	if c.closed.Load() {
		return ecode.Channel(errors.New("send on closed channel"))
	}
	body, err := encodeMessage(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.classify("send", err)
	}
	if err := writeFrame(c.conn, body, c.maxBytes); err != nil {
		return c.classify("send", err)
	}
	return nil
}

// Recv reads the next message. The context's deadline, when present, bounds
// the read.
func (c *Channel) Recv(ctx context.Context) (Message, error) {
	if c.closed.Load() {
		return Message{}, ecode.Channel(errors.New("recv on closed channel"))
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, c.classify("recv", err)
	}
	body, err := readFrame(c.conn, c.maxBytes)
	if err != nil {
		return Message{}, c.classify("recv", err)
	}
	return decodeMessage(body)
}

// Call sends a request and waits for its response. Asynchronous messages
// arriving in between are handed to the async handler and skipped. Any
// failure tears the channel down: after an error the connection state is
// unknown and no further traffic is possible.
func (c *Channel) Call(ctx context.Context, req Message) (Message, error) {
	c.callmu.Lock()
	defer c.callmu.Unlock()

	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	if err := c.Send(ctx, req); err != nil {
		c.Close()
		return Message{}, err
	}
	for {
		resp, err := c.Recv(ctx)
		if err != nil {
			c.Close()
			return Message{}, err
		}
		if resp.IsAsync() {
			if c.onAsync != nil {
				c.onAsync(resp)
			}
			continue
		}
		if resp.ID != req.ID {
			c.Close()
			return Message{}, ecode.Protocol(fmt.Sprintf("response id %s does not match request %s", resp.ID, req.ID))
		}
		return resp, nil
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether the channel has been torn down.
func (c *Channel) Closed() bool { return c.closed.Load() }

// classify maps transport errors onto the channel error kinds callers
// match on.
func (c *Channel) classify(op string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, ecode.ErrProtocol):
		return err
	case errors.As(err, &ne) && ne.Timeout():
		return ecode.Timeout(op)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ecode.Channel(fmt.Errorf("%s: peer closed connection", op))
	default:
		return ecode.Channel(fmt.Errorf("%s: %v", op, err))
	}
}
