package events

import "time"

// Kind identifies the type of an event.
type Kind string

const (
	// KindLine is one line of captured output.
	KindLine Kind = "line"

	// KindExit is the terminal event of a one-shot unit.
	KindExit Kind = "exit"

	// KindState is a supervisor state transition.
	KindState Kind = "state"

	// KindSpawn is emitted each time a process is spawned for a unit.
	KindSpawn Kind = "spawn"

	// KindRestart is emitted when a unit is torn down for respawn.
	KindRestart Kind = "restart"
)

// Event is a single supervision event tagged with its unit.
type Event struct {
	Kind Kind `json:"kind"`

	// Source is the registry the unit belongs to ("logcat", "runs", "services").
	Source string `json:"source"`

	// Key is the unit key within its registry (device id, run id, service name).
	Key string `json:"key"`

	Time time.Time `json:"time"`

	// Line and Stream are set for KindLine.
	Line   string `json:"line,omitempty"`
	Stream string `json:"stream,omitempty"`

	// ExitCode and Status are set for KindExit.
	ExitCode *int   `json:"exit_code,omitempty"`
	Status   string `json:"status,omitempty"`

	// State is set for KindState.
	State string `json:"state,omitempty"`

	// PID is set for KindSpawn.
	PID int `json:"pid,omitempty"`

	// Reason explains KindRestart and KindExit.
	Reason string `json:"reason,omitempty"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
