// Package output buffers and relays the text output of supervised processes.
//
// A Buffer is a bounded, append-only line sequence addressed by absolute
// offsets, so pollers can resume where they stopped even after old lines
// were evicted. A Relay reads one process stream line by line and fans each
// line out to an optional Mirror file, the Buffer and an event Publisher.
package output
