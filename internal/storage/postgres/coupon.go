package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const (
	findCouponsByCodeSQL = `SELECT code, rule_id FROM coupons
		WHERE code = $1 AND active = TRUE ORDER BY id`

	listActiveCouponCodesSQL = `SELECT code FROM coupons WHERE active = TRUE`

	upsertCouponSQL = `INSERT INTO coupons (code, rule_id, active) VALUES ($1, $2, TRUE)
		ON CONFLICT (code) DO UPDATE SET rule_id = EXCLUDED.rule_id, active = TRUE`
)

var _ discount.CouponLookup = (*CouponRepository)(nil)

// CouponRepository implements discount.CouponLookup backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode returns the active coupons whose code equals code exactly.
// Query failures are reported as *discount.LookupError.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) ([]discount.Coupon, error) {
	rows, err := r.pool.Query(ctx, findCouponsByCodeSQL, code)
	if err != nil {
		return nil, &discount.LookupError{Code: code, Err: err}
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, &discount.LookupError{Code: code, Err: err}
	}
	return coupons, nil
}

// EachCode calls fn for every active coupon code, stopping at the first error.
func (r *CouponRepository) EachCode(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, listActiveCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		return fn(code)
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// Upsert inserts coupons in a single batch, reassigning the rule of codes that
// already exist and reactivating them.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []discount.Coupon) error {
	if len(coupons) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, c.Code, c.RuleID)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (discount.Coupon, error) {
	var c discount.Coupon
	err := row.Scan(&c.Code, &c.RuleID)
	return c, err
}
