// Package observe holds the OpenTelemetry instruments of the relay and the
// call controller. Metrics are exported for Prometheus scraping through
// [InitProvider]. Tests should build their own [Metrics] with [NewMetrics]
// on a ManualReader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dkeye/matchcall"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	// RelayConnections tracks live relay WebSocket connections.
	RelayConnections metric.Int64UpDownCounter

	// RelayPublished counts frames accepted for publishing.
	RelayPublished metric.Int64Counter

	// RelayDelivered counts frames queued to a subscriber.
	RelayDelivered metric.Int64Counter

	// RelayDropped counts frames lost to a full send queue.
	RelayDropped metric.Int64Counter

	// RelayRejected counts refused client frames. Use with attribute:
	//   attribute.String("reason", ...)
	RelayRejected metric.Int64Counter

	// CallTransitions counts controller phase changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	CallTransitions metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RelayConnections, err = m.Int64UpDownCounter("matchcall.relay.connections",
		metric.WithDescription("Number of live relay connections."),
	); err != nil {
		return nil, err
	}
	if met.RelayPublished, err = m.Int64Counter("matchcall.relay.published",
		metric.WithDescription("Total frames published through the relay."),
	); err != nil {
		return nil, err
	}
	if met.RelayDelivered, err = m.Int64Counter("matchcall.relay.delivered",
		metric.WithDescription("Total frames queued to subscribers."),
	); err != nil {
		return nil, err
	}
	if met.RelayDropped, err = m.Int64Counter("matchcall.relay.dropped",
		metric.WithDescription("Total frames dropped on full send queues."),
	); err != nil {
		return nil, err
	}
	if met.RelayRejected, err = m.Int64Counter("matchcall.relay.rejected",
		metric.WithDescription("Total client frames refused by reason."),
	); err != nil {
		return nil, err
	}
	if met.CallTransitions, err = m.Int64Counter("matchcall.call.transitions",
		metric.WithDescription("Total call phase transitions by from and to phase."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) ConnOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayConnections.Add(ctx, 1)
}

func (m *Metrics) ConnClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayConnections.Add(ctx, -1)
}

func (m *Metrics) Published(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayPublished.Add(ctx, 1)
}

func (m *Metrics) Delivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayDelivered.Add(ctx, 1)
}

func (m *Metrics) Dropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.RelayDropped.Add(ctx, 1)
}

func (m *Metrics) Rejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.RelayRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.CallTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
