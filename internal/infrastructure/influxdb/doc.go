// Package influxdb records automation activity as time series.
//
// Two measurements are written:
//   - automation_runs: one point per execution log entry, tagged with the
//     automation ID and outcome (success, failed, skipped, cancelled)
//   - evaluation_cycles: counts from each scheduled evaluation
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry.OnExecution(client.WriteAutomationRun)
//
// Writes never block a run: points are batched according to batch_size
// and flush_interval in config.yaml, and failures arrive through
// SetOnError.
package influxdb
