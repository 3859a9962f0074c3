package mqtt

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/observability"
)

const meterName = "github.com/nerrad567/dronefleet-core/mqtt"

// bridgeMetrics holds the bridge counters.
type bridgeMetrics struct {
	messages   metric.Int64Counter
	publishes  metric.Int64Counter
	reconnects metric.Int64Counter
	lost       metric.Int64Counter
}

func newBridgeMetrics() *bridgeMetrics {
	meter := observability.Meter(meterName)
	return &bridgeMetrics{
		messages:   observability.Int64Counter(meter, "bridge.messages.received", "Inbound messages delivered to handlers"),
		publishes:  observability.Int64Counter(meter, "bridge.publishes", "Publish attempts by result"),
		reconnects: observability.Int64Counter(meter, "bridge.reconnect.attempts", "Reconnect attempts by trigger"),
		lost:       observability.Int64Counter(meter, "bridge.connection.lost", "Lost broker connections"),
	}
}

func (b *bridgeMetrics) received(ctx context.Context) {
	b.messages.Add(ctx, 1)
}

func (b *bridgeMetrics) published(ctx context.Context, err error) {
	b.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", publishResult(err))))
}

func (b *bridgeMetrics) reconnectAttempt(ctx context.Context, trigger string) {
	b.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (b *bridgeMetrics) connectionLost(ctx context.Context) {
	b.lost.Add(ctx, 1)
}

func publishResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrSerialization):
		return "serialization"
	default:
		return "rejected"
	}
}
