// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"log/slog"
	"time"
)

// Options are the supervisor settings which remain immutable for its
// entire lifetime. A copy is returned by [Supervisor.Options].
type Options struct {
	// ConnectionTimeout is how long a connection may sit without making
	// any read or write progress before it is closed.
	ConnectionTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits for the shutdown
	// sequence before returning a ShutdownTimeoutError.
	ShutdownTimeout time.Duration

	// MaxConnections caps the total number of concurrent connections.
	// Zero means unlimited.
	MaxConnections int

	// MaxConnectionsPerPeer caps the number of concurrent connections
	// per network id. Zero means unlimited. Loopback and unix domain
	// peers are exempt from this cap but still count toward
	// MaxConnections.
	MaxConnectionsPerPeer int
}

type config struct {
	opts Options

	listeners     []BoundListener
	logHandler    slog.Handler
	driverFactory DriverFactory
	responder     Responder
	errHandler    ErrorHandler
}

// Option are options for configuring a Supervisor.
type Option func(*config)

// Listeners configures the already-bound listeners the supervisor will
// accept connections from. Binding the sockets is the caller's concern.
func Listeners(ls ...BoundListener) Option {
	return func(c *config) {
		c.listeners = append(c.listeners, ls...)
	}
}

// ConnectionTimeout configures the idle timeout applied to every
// connection. Timeout bookkeeping has a resolution of one second.
//
// Default is 120 seconds.
func ConnectionTimeout(d time.Duration) Option {
	return func(c *config) {
		c.opts.ConnectionTimeout = d
	}
}

// ShutdownTimeout configures the deadline [Supervisor.Stop] waits for
// the shutdown sequence to complete.
//
// Default is 15 seconds.
func ShutdownTimeout(d time.Duration) Option {
	return func(c *config) {
		c.opts.ShutdownTimeout = d
	}
}

// MaxConnections configures the global connection cap. The cap is exact:
// with MaxConnections(n) the n+1-th concurrent connection is refused.
//
// Default is unlimited.
func MaxConnections(n int) Option {
	return func(c *config) {
		c.opts.MaxConnections = n
	}
}

// MaxConnectionsPerPeer configures the per-peer connection cap. Peers are
// grouped by network id: the IPv4 address, the /56 prefix of an IPv6
// address, or "unix" for unix domain sockets.
//
// Default is unlimited.
func MaxConnectionsPerPeer(n int) Option {
	return func(c *config) {
		c.opts.MaxConnectionsPerPeer = n
	}
}

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(c *config) {
		c.logHandler = h
	}
}

// WithDriverFactory configures the factory producing protocol drivers for
// accepted connections. The default factory produces a minimal HTTP/1.1
// driver.
func WithDriverFactory(f DriverFactory) Option {
	return func(c *config) {
		c.driverFactory = f
	}
}

// WithResponder configures the request handler drivers hand parsed
// requests to.
func WithResponder(r Responder) Option {
	return func(c *config) {
		c.responder = r
	}
}

// WithErrorHandler configures the error page renderer. The default
// handler writes plain text status pages.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		c.errHandler = h
	}
}

type noopLogHandler struct{}

func (noopLogHandler) Enabled(_ context.Context, _ slog.Level) bool  { return false }
func (noopLogHandler) Handle(_ context.Context, _ slog.Record) error { return nil }
func (h noopLogHandler) WithAttrs(_ []slog.Attr) slog.Handler        { return h }
func (h noopLogHandler) WithGroup(_ string) slog.Handler             { return h }
