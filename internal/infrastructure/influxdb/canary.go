package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Canary layout used by the startup self-test.
const (
	CanaryMeasurement = "selftest_canary"
	canaryTag         = "probe_id"
	canaryField       = "value"

	// canaryLookback bounds the query range for the read-back (Flux duration).
	canaryLookback = "10m"
)

// WriteCanary writes a self-test marker point tagged with probeID and waits
// for the server to accept it.
func (c *Client) WriteCanary(ctx context.Context, probeID string, ts time.Time) error {
	return c.writePointBlocking(ctx, CanaryMeasurement,
		map[string]string{canaryTag: probeID},
		map[string]any{canaryField: int64(1)},
		ts,
	)
}

// ReadCanary reports whether the marker point for probeID can be read back
// through the query API.
func (c *Client) ReadCanary(ctx context.Context, probeID string) (bool, error) {
	if !c.IsConnected() {
		return false, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, canaryQuery(c.cfg.Bucket, probeID))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // read-only result

	found := false
	for result.Next() {
		if result.Record().ValueByKey(canaryTag) == probeID {
			found = true
		}
	}
	if err := result.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return found, nil
}

// canaryQuery builds the Flux read-back for one probe.
func canaryQuery(bucket, probeID string) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s)
  |> limit(n: 1)`,
		strconv.Quote(bucket),
		canaryLookback,
		strconv.Quote(CanaryMeasurement),
		canaryTag,
		strconv.Quote(probeID),
	)
}
