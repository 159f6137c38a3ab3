// Package logcat runs per-device logcat capture units.
//
// One unit exists per device serial. A unit started with a package filter
// resolves the package to a pid through adb and restarts its capture
// whenever the process dies, is replaced or goes to the cached state. A
// unit without a filter streams the whole device log and is respawned if
// adb exits.
package logcat
