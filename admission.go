// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/z5labs/bastion/internal/timecache"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// connTracker is the admission controller and connection registry. It
// owns the concurrent connection counters, the per-peer counters, the
// id to client map and the idle timeout cache.
//
// Invariant: every client in the registry is counted exactly once in
// total and exactly once in its peer bucket. A client rejected by
// admission is never registered, and closing it balances whichever
// counters its acceptance had already incremented.
type connTracker struct {
	log   *slog.Logger
	clock *TimeReference
	ttl   int64 // connection timeout, whole seconds

	accepted metric.Int64Counter
	rejected metric.Int64Counter
	active   metric.Int64UpDownCounter

	mu      sync.Mutex
	total   int
	perPeer map[string]int
	clients map[uint64]*Client
	expiry  *timecache.Cache
}

func newConnTracker(log *slog.Logger, clock *TimeReference, ttl int64) (*connTracker, error) {
	meter := otel.Meter("github.com/z5labs/bastion")

	accepted, err := meter.Int64Counter("bastion.connections.accepted")
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("bastion.connections.rejected")
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("bastion.connections.active")
	if err != nil {
		return nil, err
	}

	return &connTracker{
		log:      log,
		clock:    clock,
		ttl:      ttl,
		accepted: accepted,
		rejected: rejected,
		active:   active,
		perPeer:  make(map[string]int),
		clients:  make(map[uint64]*Client),
		expiry:   timecache.New(),
	}, nil
}

// incTotal pre-increments the global connection count and returns the
// new value. The caller compares it against the cap: with a cap of n
// the caller rejects when the new value exceeds n, so the effective
// ceiling is exactly n.
func (t *connTracker) incTotal() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	return t.total
}

// incPeer pre-increments the peer bucket and returns the new value.
func (t *connTracker) incPeer(networkID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perPeer[networkID]++
	return t.perPeer[networkID]
}

// register inserts the client into the registry and seeds its idle
// timeout entry. Drivers renew the entry from here on.
func (t *connTracker) register(c *Client) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.id] = c
	t.expiry.Renew(c.id, now+t.ttl)
}

// touch renews the idle timeout entry for id, if it is still registered.
func (t *connTracker) touch(id uint64) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[id]; !ok {
		return
	}
	t.expiry.Renew(id, now+t.ttl)
}

// release undoes everything admission and registration did for c. It
// runs exactly once per client, from the client's close path.
func (t *connTracker) release(c *Client) {
	t.mu.Lock()
	_, registered := t.clients[c.id]
	delete(t.clients, c.id)
	t.expiry.Clear(c.id)
	if c.counted {
		t.total--
	}
	if c.peerCounted {
		t.perPeer[c.networkID]--
		if t.perPeer[c.networkID] <= 0 {
			delete(t.perPeer, c.networkID)
		}
	}
	t.mu.Unlock()

	if registered {
		t.active.Add(context.Background(), -1)
	}
}

// sweep closes every client whose idle timeout has expired at now.
// Entries are ordered by renewal time, so the scan stops at the first
// entry which has not expired yet.
func (t *connTracker) sweep(now int64) {
	var expired []*Client

	t.mu.Lock()
	t.expiry.Iterate(func(id uint64, expiresAt int64) bool {
		if now < expiresAt {
			return false
		}
		if c, ok := t.clients[id]; ok {
			expired = append(expired, c)
		}
		return true
	})
	t.mu.Unlock()

	for _, c := range expired {
		t.log.Debug("closing idle connection",
			slog.Uint64("conn_id", c.id),
			slog.String("network_id", c.networkID),
		)
		c.Close()
	}
}

// closeAll closes every registered client.
func (t *connTracker) closeAll() {
	t.mu.Lock()
	clients := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// snapshot returns the registry size, the global count and a copy of
// the per-peer counts.
func (t *connTracker) snapshot() (registered, total int, perPeer map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	perPeer = make(map[string]int, len(t.perPeer))
	for k, v := range t.perPeer {
		perPeer[k] = v
	}
	return len(t.clients), t.total, perPeer
}

func rejectReason(reason string) metric.AddOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}
