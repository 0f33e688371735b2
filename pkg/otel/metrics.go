package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bookMetrics     *orderBookMetrics
	bookMetricsOnce sync.Once
)

// orderBookMetrics holds counters for book activity. Instruments are
// created against whatever meter provider is global at first use.
type orderBookMetrics struct {
	ordersTotal metric.Int64Counter
	tradedTotal metric.Int64Counter
}

func getBookMetrics() *orderBookMetrics {
	bookMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)
		m := &orderBookMetrics{}

		ordersTotal, err := meter.Int64Counter(
			"orderbook.orders.total",
			metric.WithDescription("Total number of orders processed"),
			metric.WithUnit("{order}"),
		)
		if err == nil {
			m.ordersTotal = ordersTotal
		}

		tradedTotal, err := meter.Int64Counter(
			"orderbook.traded_volume.total",
			metric.WithDescription("Total volume traded across all fills"),
			metric.WithUnit("{share}"),
		)
		if err == nil {
			m.tradedTotal = tradedTotal
		}

		bookMetrics = m
	})
	return bookMetrics
}

// RecordOrder increments the processed order counter
func RecordOrder(ctx context.Context, orderKind string) {
	m := getBookMetrics()
	if m.ordersTotal == nil {
		return
	}
	m.ordersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order.kind", orderKind),
	))
}

// RecordTrade adds one fill leg's volume to the traded counter
func RecordTrade(ctx context.Context, symbol string, quantity int64) {
	m := getBookMetrics()
	if m.tradedTotal == nil {
		return
	}
	m.tradedTotal.Add(ctx, quantity, metric.WithAttributes(
		attribute.String("symbol", symbol),
	))
}
