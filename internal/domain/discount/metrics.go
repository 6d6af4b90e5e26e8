package discount

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/xenking/kart-discounts/internal/domain/discount"

// Lookup outcomes recorded on the lookups counter.
const (
	lookupFound   = "found"
	lookupMissing = "missing"
	lookupError   = "error"
)

// Metrics records coupon resolution counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	lookups   metric.Int64Counter
	cacheHits metric.Int64Counter
}

// NewMetrics registers the formatter instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	lookups, err := meter.Int64Counter("discount.coupon.lookups",
		metric.WithDescription("Coupon repository lookups by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create lookups counter")
	}
	cacheHits, err := meter.Int64Counter("discount.coupon.cache_hits",
		metric.WithDescription("Coupon resolutions served from the request cache"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cache hits counter")
	}

	return &Metrics{lookups: lookups, cacheHits: cacheHits}, nil
}

func (m *Metrics) lookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) cacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}
