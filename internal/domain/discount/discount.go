package discount

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DefaultLabel is rendered for discounts whose rule carries no label.
const DefaultLabel = "Discount"

var (
	// ErrLookupFailure is matched by every error a CouponLookup returns when
	// the backing store cannot complete a query.
	ErrLookupFailure = errors.New("coupon lookup failed")
	// ErrCartNotFound is returned when a requested cart does not exist.
	ErrCartNotFound = errors.New("cart not found")
)

// LookupError reports a failed coupon query for a specific code.
type LookupError struct {
	Code string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("coupon lookup for %q: %v", e.Code, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Is reports ErrLookupFailure as matching.
func (e *LookupError) Is(target error) bool { return target == ErrLookupFailure }

// Cart is the subset of a shopping cart needed to render its discounts.
type Cart struct {
	CurrencyCode string
	// CouponCode is empty when no coupon is applied.
	CouponCode string
}

// Record is one promotional rule applied to a cart.
type Record struct {
	RuleID    int64
	Label     string
	AppliedTo string
	Amount    decimal.Decimal
}

// Coupon is a redeemable code owned by exactly one rule.
type Coupon struct {
	Code   string
	RuleID int64
}

// Amount is a monetary value in the cart currency.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// CouponRef identifies the coupon that triggered a discount.
type CouponRef struct {
	Code string
}

// Formatted is a display-ready discount entry.
type Formatted struct {
	Label     string
	AppliedTo string
	Amount    Amount
	Coupon    *CouponRef
}

// CouponLookup finds coupons by exact code. Implementations return an empty
// slice when nothing matches and a *LookupError when the query fails.
type CouponLookup interface {
	FindByCode(ctx context.Context, code string) ([]Coupon, error)
}

// CartRepository loads a cart together with its applied discounts, in the
// order they were applied.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (*Cart, []Record, error)
}
