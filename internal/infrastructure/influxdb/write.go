package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementUnitEvents = "unit_events"
	MeasurementUnitOutput = "unit_output"
	MeasurementRunResults = "run_results"
)

// WriteSpawn records a process spawn for a unit.
func (c *Client) WriteSpawn(registry, key string, pid int, at time.Time) {
	c.writePoint(MeasurementUnitEvents,
		map[string]string{"registry": registry, "key": key, "event": "spawn"},
		map[string]any{"pid": pid},
		at)
}

// WriteRestart records a teardown-for-respawn with its reason.
func (c *Client) WriteRestart(registry, key, reason string, at time.Time) {
	c.writePoint(MeasurementUnitEvents,
		map[string]string{"registry": registry, "key": key, "event": "restart", "reason": reason},
		map[string]any{"count": 1},
		at)
}

// WriteExit records the terminal status of a one-shot unit. duration is
// zero when the spawn time is unknown.
func (c *Client) WriteExit(registry, key, status string, exitCode *int, duration time.Duration, at time.Time) {
	fields := map[string]any{"duration_s": duration.Seconds()}
	if exitCode != nil {
		fields["exit_code"] = *exitCode
	}
	c.writePoint(MeasurementRunResults,
		map[string]string{"registry": registry, "key": key, "status": status},
		fields,
		at)
}

// WriteOutputLines records how many lines a unit relayed in one interval.
func (c *Client) WriteOutputLines(registry, key string, lines int, at time.Time) {
	c.writePoint(MeasurementUnitOutput,
		map[string]string{"registry": registry, "key": key},
		map[string]any{"lines": lines},
		at)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields, time.Now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
