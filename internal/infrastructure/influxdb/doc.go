// Package influxdb records droidpanel unit telemetry in InfluxDB v2.
//
// Telemetry subscribes to supervision events and writes:
//
//   - unit_events: one point per spawn and per restart (tag reason)
//   - run_results: exit status, exit code and duration of one-shot units
//   - unit_output: lines relayed per unit per interval
//
// Every point carries registry and key tags, plus a panel default tag.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Panel.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	telemetry := influxdb.NewTelemetry(client)
//	go telemetry.Run(ctx, influxdb.DefaultOutputInterval)
//	// pass telemetry as an events.Publisher
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write failures reach the SetOnError callback.
package influxdb
