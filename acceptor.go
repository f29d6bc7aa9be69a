// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"errors"
	"log/slog"
	"net"
)

// serve accepts connections from a single listener until the watcher is
// cancelled. A fatal accept error closes just this listener; the
// supervisor keeps serving the remaining ones. Losing every listener
// does not stop the server, that policy belongs to the operator.
func (s *Supervisor) serve(ctx context.Context, ln net.Listener) {
	defer s.accepting.Done()

	addr := slog.String("addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Spurious wakeup, the watcher re-fires.
				continue
			}

			s.log.ErrorContext(ctx, "closing listener after fatal accept error", addr, slog.Any("error", err))
			ln.Close()
			return
		}

		s.admit(ctx, conn)
	}
}

// admit runs the accepted connection through admission control and, if
// it is allowed, registers it and hands it to the driver factory.
//
// Both caps use the pre-increment-then-compare pattern: the counter is
// incremented first and the connection rejected if the new value exceeds
// the cap. Closing a rejected client balances the counters it
// incremented, so the net change of a rejection is zero.
func (s *Supervisor) admit(ctx context.Context, conn net.Conn) {
	c := newClient(s.nextID.Add(1), conn, s)
	t := s.conns

	t.accepted.Add(ctx, 1)

	c.counted = true
	if n, max := t.incTotal(), s.opts.MaxConnections; max > 0 && n > max {
		s.log.DebugContext(ctx, "too many existing connections",
			slog.Uint64("conn_id", c.id),
			slog.String("network_id", c.networkID),
		)
		t.rejected.Add(ctx, 1, rejectReason("max_connections"))
		c.Close()
		return
	}

	// Loopback and unix domain peers still count toward their bucket,
	// they are only exempt from the cap.
	c.peerCounted = true
	n := t.incPeer(c.networkID)
	if max := s.opts.MaxConnectionsPerPeer; max > 0 && n > max && !c.unix && !c.loopback {
		s.log.DebugContext(ctx, "too many existing connections from peer",
			slog.Uint64("conn_id", c.id),
			slog.String("network_id", c.networkID),
		)
		t.rejected.Add(ctx, 1, rejectReason("max_connections_per_peer"))
		c.Close()
		return
	}

	t.register(c)
	t.active.Add(ctx, 1)

	c.start(ctx, s.driverFactory)
}
