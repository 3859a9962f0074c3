package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint queues one point for the batched writer and returns at once.
// Failures surface through the SetOnError callback and are never retried
// synchronously. Points with no fields are not written.
//
//	sink.WritePoint("drone_telemetry",
//	    map[string]string{"drone_id": "SN-001"},
//	    map[string]any{"battery_level": 87.5, "flight_mode": "AUTO"},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// writePointBlocking writes one point and waits for the server to accept it.
func (c *Client) writePointBlocking(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.writeBlocking.WritePoint(ctx, write.NewPoint(measurement, tags, fields, ts)); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
