package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/observability"
)

const meterName = "github.com/nerrad567/dronefleet-core/telemetry"

type routerMetrics struct {
	routedMsgs  metric.Int64Counter
	droppedMsgs metric.Int64Counter
	skipped     metric.Int64Counter
}

func newRouterMetrics() *routerMetrics {
	meter := observability.Meter(meterName)
	return &routerMetrics{
		routedMsgs:  observability.Int64Counter(meter, "router.messages.routed", "Inbound messages routed by kind"),
		droppedMsgs: observability.Int64Counter(meter, "router.messages.dropped", "Inbound messages dropped by reason"),
		skipped:     observability.Int64Counter(meter, "router.heartbeat.skipped", "Heartbeat updates not applied by reason"),
	}
}

func (m *routerMetrics) routed(ctx context.Context, kind string) {
	m.routedMsgs.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *routerMetrics) dropped(ctx context.Context, reason string) {
	m.droppedMsgs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *routerMetrics) heartbeatSkipped(ctx context.Context, reason string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
