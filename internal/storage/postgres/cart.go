package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const (
	getCartSQL = `SELECT currency_code, coupon_code FROM carts WHERE id = $1`

	listCartDiscountsSQL = `SELECT rule_id, label, applied_to, amount
		FROM cart_discounts WHERE cart_id = $1 ORDER BY position`

	upsertCartSQL = `INSERT INTO carts (id, currency_code, coupon_code) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET currency_code = EXCLUDED.currency_code,
			coupon_code = EXCLUDED.coupon_code`

	deleteCartDiscountsSQL = `DELETE FROM cart_discounts WHERE cart_id = $1`

	insertCartDiscountSQL = `INSERT INTO cart_discounts (cart_id, position, rule_id, label, applied_to, amount)
		VALUES ($1, $2, $3, $4, $5, $6)`

	upsertSalesRuleSQL = `INSERT INTO sales_rules (id, name, label) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, label = EXCLUDED.label`
)

var _ discount.CartRepository = (*CartRepository)(nil)

// SalesRule is a promotional rule row. Discount records and coupons refer to
// it by ID.
type SalesRule struct {
	ID    int64
	Name  string
	Label string
}

// CartRepository implements discount.CartRepository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the cart and its applied discounts ordered by position.
// Returns discount.ErrCartNotFound when no cart has the given ID.
func (r *CartRepository) Get(ctx context.Context, cartID string) (*discount.Cart, []discount.Record, error) {
	var (
		cart       discount.Cart
		couponCode *string
	)
	err := r.pool.QueryRow(ctx, getCartSQL, cartID).Scan(&cart.CurrencyCode, &couponCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, discount.ErrCartNotFound
		}
		return nil, nil, fmt.Errorf("getting cart %q: %w", cartID, err)
	}
	if couponCode != nil {
		cart.CouponCode = *couponCode
	}

	rows, err := r.pool.Query(ctx, listCartDiscountsSQL, cartID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing discounts for cart %q: %w", cartID, err)
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, nil, fmt.Errorf("listing discounts for cart %q: %w", cartID, err)
	}

	return &cart, records, nil
}

// Save stores the cart and replaces its applied discounts in one transaction.
func (r *CartRepository) Save(ctx context.Context, cartID string, cart discount.Cart, records []discount.Record) error {
	var couponCode *string
	if cart.CouponCode != "" {
		couponCode = &cart.CouponCode
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCartSQL, cartID, cart.CurrencyCode, couponCode); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteCartDiscountsSQL, cartID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, rec := range records {
			batch.Queue(insertCartDiscountSQL, cartID, i, rec.RuleID, rec.Label, rec.AppliedTo, rec.Amount)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("saving cart %q: %w", cartID, err)
	}
	return nil
}

// UpsertRules creates or updates the given sales rules.
func (r *CartRepository) UpsertRules(ctx context.Context, rules []SalesRule) error {
	batch := &pgx.Batch{}
	for _, rule := range rules {
		batch.Queue(upsertSalesRuleSQL, rule.ID, rule.Name, rule.Label)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d sales rules: %w", len(rules), err)
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (discount.Record, error) {
	var (
		rec    discount.Record
		amount decimal.Decimal
	)
	err := row.Scan(&rec.RuleID, &rec.Label, &rec.AppliedTo, &amount)
	rec.Amount = amount
	return rec, err
}
