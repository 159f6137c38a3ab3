// Package adb builds Android Debug Bridge commands for droidpanel units
// and resolves on-device process identities.
//
// Only the pieces the supervision core consumes live here: the logcat
// command line, the logcat buffer clear, and the pidof/oom_score_adj lookup
// that backs the logcat unit's identity filter. Lookups run through a
// Runner so tests can script adb responses.
package adb
