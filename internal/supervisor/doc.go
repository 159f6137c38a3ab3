// Package supervisor runs the restart loop of one supervision unit.
//
// A Supervisor owns at most one process.Handle at a time. It resolves the
// unit's target (if filtered), spawns the process, starts one output relay
// per captured stream and hands liveness/identity decisions to a
// monitor.Monitor. On a restart verdict the current handle is terminated
// and dropped before the next one is spawned.
//
// State machine:
//
//	Idle -> Resolving -> Running -> Restarting -> Resolving ...
//	Resolving/Running/Restarting -> Stopped (terminal)
//
// Two kinds of units exist. Long-lived units (logcat capture, services)
// are respawned forever until stopped; spawn failures are retried after a
// backoff. One-shot units (test runs) are spawned synchronously once and
// end with a terminal exit event after their output has been drained.
package supervisor
