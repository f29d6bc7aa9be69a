// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"crypto/tls"
	"net"
)

// BoundListener couples an already-bound listener with the TLS
// configuration, if any, it should serve with. The TLS handshake is
// performed by the supervisor once accept watchers are installed, so
// ALPN protocols negotiated during startup are honored.
type BoundListener struct {
	ln  net.Listener
	tls *tls.Config
}

// NewListener wraps a plaintext listener.
func NewListener(ln net.Listener) BoundListener {
	return BoundListener{ln: ln}
}

// NewTLSListener wraps a listener which should serve TLS with the given
// config. The config is cloned so later mutations by the caller do not
// race with the supervisor.
func NewTLSListener(ln net.Listener, cfg *tls.Config) BoundListener {
	return BoundListener{ln: ln, tls: cfg.Clone()}
}

// Addr returns the listener's bound address.
func (bl BoundListener) Addr() net.Addr {
	if bl.ln == nil {
		return nil
	}
	return bl.ln.Addr()
}

// TLSConfig returns the TLS config this listener serves with,
// or nil for plaintext listeners.
func (bl BoundListener) TLSConfig() *tls.Config {
	return bl.tls
}
