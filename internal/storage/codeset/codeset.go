// Package codeset short-circuits coupon lookups for codes that were never
// issued, using a bloom filter built from the coupon table.
package codeset

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// Source enumerates every issued coupon code.
type Source interface {
	EachCode(ctx context.Context, fn func(code string) error) error
}

var _ discount.CouponLookup = (*Filter)(nil)

// Filter answers "no coupons" for codes absent from its bloom filter and
// delegates everything else. Until the first successful Refresh every code is
// delegated.
//
// Codes issued after the latest Refresh are reported missing until the next
// one, so Refresh must run periodically.
type Filter struct {
	next     discount.CouponLookup
	source   Source
	capacity uint
	fpRate   float64

	current atomic.Pointer[bloom.BloomFilter]
}

// New creates a Filter sized for capacity codes at the given false positive rate.
func New(next discount.CouponLookup, source Source, capacity uint, fpRate float64) *Filter {
	return &Filter{
		next:     next,
		source:   source,
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// FindByCode implements discount.CouponLookup.
func (f *Filter) FindByCode(ctx context.Context, code string) ([]discount.Coupon, error) {
	if bf := f.current.Load(); bf != nil && !bf.TestString(code) {
		return nil, nil
	}
	return f.next.FindByCode(ctx, code)
}

// Refresh rebuilds the bloom filter from the source and swaps it in. On error
// the previous filter stays active.
func (f *Filter) Refresh(ctx context.Context) error {
	bf := bloom.NewWithEstimates(f.capacity, f.fpRate)
	var count int
	if err := f.source.EachCode(ctx, func(code string) error {
		bf.AddString(code)
		count++
		return nil
	}); err != nil {
		return errors.Wrap(err, "load coupon codes")
	}

	f.current.Store(bf)
	zctx.From(ctx).Info("Coupon code filter refreshed",
		zap.Int("codes", count),
		zap.Uint("bits", bf.Cap()),
	)
	return nil
}

// Run refreshes the filter immediately and then every interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
func (f *Filter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
			zctx.From(ctx).Error("Coupon code filter refresh failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
