package http

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/shapestone/shape-h1/pkg/http"

// Metrics records connection and transaction counters. A nil *Metrics
// records nothing.
type Metrics struct {
	active       metric.Int64UpDownCounter
	accepted     metric.Int64Counter
	transactions metric.Int64Counter
	decodeErrors metric.Int64Counter
	upgrades     metric.Int64Counter
	handoffs     metric.Int64Counter
}

// NewMetrics creates the instruments from mp, or from the global provider
// when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	m := &Metrics{}
	var err error
	if m.active, err = meter.Int64UpDownCounter("h1.connections.active",
		metric.WithDescription("Open HTTP/1.x connections"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.accepted, err = meter.Int64Counter("h1.connections.accepted",
		metric.WithDescription("Accepted HTTP/1.x connections"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.transactions, err = meter.Int64Counter("h1.transactions",
		metric.WithDescription("Completed request/response exchanges"),
		metric.WithUnit("{transaction}")); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = meter.Int64Counter("h1.decode.errors",
		metric.WithDescription("Requests rejected while decoding"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.upgrades, err = meter.Int64Counter("h1.upgrades",
		metric.WithDescription("Connections switched to another protocol"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.handoffs, err = meter.Int64Counter("h1.h2.handoffs",
		metric.WithDescription("Connections handed to HTTP/2"),
		metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) connOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.accepted.Add(ctx, 1)
	m.active.Add(ctx, 1)
}

func (m *Metrics) connClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.active.Add(ctx, -1)
}

func (m *Metrics) transaction(ctx context.Context, method string, status int) {
	if m == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.response.status_class", strconv.Itoa(status/100)+"xx"),
	))
}

func (m *Metrics) decodeError(ctx context.Context, kind ErrorKind) {
	if m == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *Metrics) upgrade(ctx context.Context, protocol string) {
	if m == nil {
		return
	}
	m.upgrades.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
}

func (m *Metrics) h2Handoff(ctx context.Context) {
	if m == nil {
		return
	}
	m.handoffs.Add(ctx, 1)
}
