// Package history persists test-run records and unit transitions to the
// SQLite database.
//
// The supervision core keeps no durable state; this package sits beside
// it. The runs service inserts a run row before spawning, and Recorder
// consumes supervision events from the bus to append spawn, restart and
// exit transitions and to finish run rows when their exit event arrives.
package history
