// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"fmt"
	"time"
)

// InvalidStateError is returned by operations which require the Supervisor
// to be in a specific lifecycle state.
type InvalidStateError struct {
	// Op is the operation which was attempted.
	Op string

	// State is the lifecycle state the supervisor was in at the time.
	State State
}

// Error implements the [builtin.error] interface.
func (e InvalidStateError) Error() string {
	return fmt.Sprintf("bastion: %s is not allowed while the supervisor is %s", e.Op, e.State)
}

// StartupError is returned by [Supervisor.Start] when one or more observers
// failed to start. The full shutdown sequence has already been executed by
// the time the caller observes this error.
type StartupError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e StartupError) Error() string {
	return fmt.Sprintf("bastion: failed to start observers: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e StartupError) Unwrap() error {
	return e.Cause
}

// ShutdownError is returned by [Supervisor.Stop] when one or more observers
// failed to stop. All clients have still been closed and the supervisor has
// still reached the Stopped state.
type ShutdownError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ShutdownError) Error() string {
	return fmt.Sprintf("bastion: failed to stop observers: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ShutdownError) Unwrap() error {
	return e.Cause
}

// ShutdownTimeoutError is returned by [Supervisor.Stop] when the shutdown
// sequence did not complete within the configured shutdown timeout. The
// shutdown continues in the background until the supervisor reaches Stopped.
type ShutdownTimeoutError struct {
	Duration time.Duration
}

// Error implements the [builtin.error] interface.
func (e ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("bastion: shutdown did not complete within %s", e.Duration)
}

// Timeout reports this error as a timeout to callers which only
// inspect for the common net-style Timeout behaviour.
func (e ShutdownTimeoutError) Timeout() bool {
	return true
}
