// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package bastion implements the lifecycle core of a concurrent HTTP server.
//
// The package is built around a single supervisor which owns a set of
// already-bound listeners and everything required to turn accepted sockets
// into live connections:
//
//   - Supervisor: a strict four-state lifecycle (Stopped, Starting, Started,
//     Stopping) driving startup and shutdown of pluggable subsystems
//   - Observer: a subsystem receiving OnStart/OnStop callbacks around the
//     supervisor's lifecycle transitions
//   - Client: the server-side handle for an accepted connection, handed off
//     to a protocol driver for request processing
//   - TimeReference: a coarse monotonic clock shared by all connections for
//     idle timeout bookkeeping
//
// The supervisor never parses HTTP itself. Wire handling is delegated to a
// Driver produced by a DriverFactory, and request handling to a Responder.
// A minimal HTTP/1.1 driver factory is used when none is configured.
//
// # Basic Usage
//
// Bind a listener, construct a supervisor and start it:
//
//	ln, err := net.Listen("tcp", "127.0.0.1:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sup, err := bastion.New(
//	    bastion.Listeners(bastion.NewListener(ln)),
//	    bastion.WithResponder(bastion.ResponderFunc(handle)),
//	    bastion.MaxConnections(10000),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := sup.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// Stopping is bounded by the configured shutdown timeout. If the bound trips
// the call returns a ShutdownTimeoutError while the shutdown itself continues
// in the background until the supervisor reaches Stopped.
package bastion
