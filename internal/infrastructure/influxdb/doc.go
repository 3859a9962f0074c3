// Package influxdb is the timeseries sink for drone telemetry.
//
// It wraps the official influxdb-client-go v2 library. Telemetry points go
// through the batched, non-blocking write API: WritePoint never blocks the
// caller and failures are reported to the SetOnError callback. The startup
// self-test uses WriteCanary and ReadCanary, which go through the blocking
// write API and the Flux query API for a real round trip.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("telemetry write failed", "error", err) })
//	client.WritePoint("drone_telemetry", tags, fields, ts)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
