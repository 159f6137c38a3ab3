// Package registry maps unit keys (device ids, run ids, service names) to
// live supervisors.
//
// A Registry is the single admission point for its units: Start performs
// an atomic check-and-insert so that at most one supervisor exists per key.
// Each application component owns its own Registry, created in the
// composition root and passed by reference; there are no package-level
// registries.
package registry
