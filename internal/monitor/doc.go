// Package monitor decides when a supervised process must be restarted or
// terminated.
//
// A Monitor samples two things on a fixed interval: whether the current
// process is still alive, and (for filtered units) whether the target it
// was spawned for still resolves to the same identity. It knows nothing
// about adb or logcat; identity lookups go through the Resolver interface.
package monitor
