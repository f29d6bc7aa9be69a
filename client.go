// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/z5labs/bastion/internal/peer"
)

// Client is the server-side handle for an accepted connection. It wraps
// the socket together with the collaborators a protocol driver needs to
// run requests: the responder, the error handler and the logger.
//
// Client implements [io.ReadWriteCloser] over the underlying socket and
// renews the connection's idle timeout on every byte of progress, so
// drivers which read and write through it never touch timeout
// bookkeeping directly.
type Client struct {
	id   uint64
	conn net.Conn

	remote    net.Addr
	networkID string
	unix      bool
	loopback  bool

	log        *slog.Logger
	responder  Responder
	errHandler ErrorHandler

	tracker     *connTracker
	counted     bool
	peerCounted bool

	closeOnce sync.Once
}

func newClient(id uint64, conn net.Conn, s *Supervisor) *Client {
	remote := conn.RemoteAddr()
	return &Client{
		id:         id,
		conn:       conn,
		remote:     remote,
		networkID:  peer.NetworkID(remote),
		unix:       peer.Unix(remote),
		loopback:   peer.Loopback(remote),
		log:        s.log,
		responder:  s.responder,
		errHandler: s.errHandler,
		tracker:    s.conns,
	}
}

// ID returns the process-local unique connection id.
func (c *Client) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer's address.
func (c *Client) RemoteAddr() net.Addr {
	return c.remote
}

// NetworkID returns the admission grouping key for the peer.
func (c *Client) NetworkID() string {
	return c.networkID
}

// Unix reports whether the peer is a unix domain socket.
func (c *Client) Unix() bool {
	return c.unix
}

// Logger returns the supervisor's logger.
func (c *Client) Logger() *slog.Logger {
	return c.log
}

// Responder returns the request handler, or nil if none is configured.
func (c *Client) Responder() Responder {
	return c.responder
}

// ErrorHandler returns the error page renderer.
func (c *Client) ErrorHandler() ErrorHandler {
	return c.errHandler
}

// Touch renews the connection's idle timeout entry. Reading or writing
// through the Client touches implicitly.
func (c *Client) Touch() {
	c.tracker.touch(c.id)
}

// Read implements the [io.Reader] interface.
func (c *Client) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n > 0 {
		c.Touch()
	}
	return n, err
}

// Write implements the [io.Writer] interface.
func (c *Client) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	if n > 0 {
		c.Touch()
	}
	return n, err
}

// Close closes the underlying socket and releases the connection from
// the supervisor's registries. It is safe to call multiple times; the
// release runs exactly once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		c.tracker.release(c)
	})
	return err
}

func (c *Client) start(ctx context.Context, f DriverFactory) {
	d := f.NewDriver(c)
	go func() {
		defer c.Close()
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			c.log.ErrorContext(ctx, "recovered from driver panic",
				slog.Uint64("conn_id", c.id),
				slog.Any("panic", r),
			)
		}()

		err := d.Serve(ctx)
		if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		}
		c.log.DebugContext(ctx, "driver finished with error",
			slog.Uint64("conn_id", c.id),
			slog.Any("error", err),
		)
	}()
}
