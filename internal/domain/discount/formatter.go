package discount

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Option configures a Formatter.
type Option func(*Formatter)

// WithDefaultLabel overrides the label used for discounts without one.
func WithDefaultLabel(label string) Option {
	return func(f *Formatter) {
		if label != "" {
			f.defaultLabel = label
		}
	}
}

// WithMissCaching makes the formatter remember codes that matched no coupon,
// so repeated resolutions of an unknown code hit the repository only once
// between resets.
func WithMissCaching(enabled bool) Option {
	return func(f *Formatter) { f.cacheMisses = enabled }
}

// WithMetrics attaches lookup counters.
func WithMetrics(m *Metrics) Option {
	return func(f *Formatter) { f.metrics = m }
}

// WithTracerProvider sets the provider used for Format spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Formatter) {
		if tp != nil {
			f.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// Formatter renders applied discounts for display and ties each one to the
// coupon that triggered it.
//
// A Formatter memoizes coupon lookups by code until Reset is called. It is not
// safe for concurrent use: hand each request its own instance, typically via
// FormatterPool, so coupon associations never outlive the request.
type Formatter struct {
	lookup       CouponLookup
	defaultLabel string
	cacheMisses  bool
	metrics      *Metrics
	tracer       trace.Tracer

	// couponsByCode holds resolved coupons. A nil value is a remembered miss
	// and is only stored when cacheMisses is set.
	couponsByCode map[string]*Coupon
}

// NewFormatter creates a Formatter backed by the given lookup.
func NewFormatter(lookup CouponLookup, opts ...Option) *Formatter {
	f := &Formatter{
		lookup:        lookup,
		defaultLabel:  DefaultLabel,
		tracer:        noop.NewTracerProvider().Tracer(instrumentationName),
		couponsByCode: make(map[string]*Coupon),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format renders discounts in input order, one entry per record. It returns
// nil when discounts is empty, meaning discounts do not apply to the cart;
// a non-empty input always yields a non-empty result.
//
// A lookup failure is returned unchanged and no entries are produced.
func (f *Formatter) Format(ctx context.Context, cart Cart, discounts []Record) ([]Formatted, error) {
	if len(discounts) == 0 {
		return nil, nil
	}

	ctx, span := f.tracer.Start(ctx, "discount.Format",
		trace.WithAttributes(
			attribute.Int("discount.count", len(discounts)),
			attribute.String("cart.currency", cart.CurrencyCode),
		),
	)
	defer span.End()

	coupon, err := f.ResolveCoupon(ctx, cart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve coupon")
		return nil, err
	}

	out := make([]Formatted, len(discounts))
	for i, d := range discounts {
		label := d.Label
		if label == "" {
			label = f.defaultLabel
		}
		out[i] = Formatted{
			Label:     label,
			AppliedTo: d.AppliedTo,
			Amount: Amount{
				Value:    d.Amount,
				Currency: cart.CurrencyCode,
			},
			Coupon: FormatCoupon(coupon, d.RuleID),
		}
	}
	return out, nil
}

// FormatCoupon returns a reference to coupon only when it belongs to the rule
// identified by ruleID. Coupons without an owning rule never match.
func FormatCoupon(coupon *Coupon, ruleID int64) *CouponRef {
	if coupon == nil || coupon.RuleID == 0 || coupon.RuleID != ruleID {
		return nil
	}
	return &CouponRef{Code: coupon.Code}
}

// ResolveCoupon returns the coupon applied to cart, or nil when the cart has
// no coupon code or the code matches nothing. The first match is cached by
// code until Reset.
func (f *Formatter) ResolveCoupon(ctx context.Context, cart Cart) (*Coupon, error) {
	code := cart.CouponCode
	if code == "" {
		return nil, nil
	}
	if c, ok := f.couponsByCode[code]; ok {
		f.metrics.cacheHit(ctx)
		return c, nil
	}

	coupons, err := f.lookup.FindByCode(ctx, code)
	if err != nil {
		f.metrics.lookup(ctx, lookupError)
		return nil, err
	}
	if len(coupons) == 0 {
		f.metrics.lookup(ctx, lookupMissing)
		zctx.From(ctx).Debug("Coupon not found", zap.String("coupon_code", code))
		if f.cacheMisses {
			f.couponsByCode[code] = nil
		}
		return nil, nil
	}

	f.metrics.lookup(ctx, lookupFound)
	c := coupons[0]
	f.couponsByCode[code] = &c
	return &c, nil
}

// Reset forgets every cached coupon. It is safe to call repeatedly.
func (f *Formatter) Reset() {
	clear(f.couponsByCode)
}
