// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

// State represents the lifecycle state of a Supervisor.
//
// States advance in a strict sequence per start/stop cycle:
// Stopped, Starting, Started, Stopping and back to Stopped.
type State int32

const (
	// Stopped is the initial state. Observers may only be attached
	// and collaborators replaced while the supervisor is Stopped.
	Stopped State = iota

	// Starting is the state while observer OnStart callbacks are in flight.
	Starting

	// Started is the state in which listeners are being served.
	Started

	// Stopping is the state while the shutdown sequence is in flight.
	Stopping
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}
