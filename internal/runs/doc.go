// Package runs launches one-shot test runs (robot, maestro, maven or any
// allowed executable) as supervised units.
//
// Each run gets an output directory holding the mirrored console output
// and a metadata.json describing the run. When a history repository is
// attached the run is recorded before it is spawned; the history recorder
// completes the row from the unit's exit event.
package runs
