package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

// decodeFormatRequest parses
//
//	{"cart":{"currencyCode":"USD","couponCode":"SAVE10"},
//	 "discounts":[{"ruleId":1,"label":"","appliedTo":"SHIPPING","amount":5.00}]}
//
// A missing or null discounts field decodes to nil.
func decodeFormatRequest(data []byte) (discount.Cart, []discount.Record, error) {
	var (
		cart    discount.Cart
		records []discount.Record
	)

	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "cart":
			if err := decodeCart(d, &cart); err != nil {
				return errors.Wrap(err, "cart")
			}
			return nil
		case "discounts":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				var rec discount.Record
				if err := decodeRecord(d, &rec); err != nil {
					return errors.Wrapf(err, "discounts[%d]", len(records))
				}
				records = append(records, rec)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return cart, nil, errors.Wrap(err, "decode request")
	}
	if cart.CurrencyCode == "" {
		return cart, nil, errors.New("cart.currencyCode is required")
	}
	return cart, records, nil
}

func decodeCart(d *jx.Decoder, cart *discount.Cart) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "currencyCode":
			cart.CurrencyCode, err = d.Str()
		case "couponCode":
			cart.CouponCode, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeRecord(d *jx.Decoder, rec *discount.Record) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "ruleId":
			rec.RuleID, err = d.Int64()
		case "label":
			rec.Label, err = optStr(d)
		case "appliedTo":
			rec.AppliedTo, err = d.Str()
		case "amount":
			rec.Amount, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// Amounts are stored as NUMERIC(12, 4).
const (
	maxAmountLen   = 32
	maxAmountScale = 4
)

var maxAmount = decimal.New(1, 8)

// decodeDecimal accepts a JSON number or a numeric string within the range
// of a stored amount.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", tt)
	}
	if len(raw) > maxAmountLen {
		return decimal.Zero, errors.Errorf("amount longer than %d characters", maxAmountLen)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if err := checkAmount(v); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

// checkAmount rejects values that do not fit NUMERIC(12, 4). The exponent is
// checked first: rescaling a value with a huge exponent is itself unbounded.
func checkAmount(v decimal.Decimal) error {
	if exp := v.Exponent(); exp > 8 || exp < -maxAmountLen {
		return errors.New("amount out of range")
	}
	if !v.Equal(v.Truncate(maxAmountScale)) {
		return errors.Errorf("amount has more than %d decimal places", maxAmountScale)
	}
	if v.Abs().Cmp(maxAmount) >= 0 {
		return errors.New("amount out of range")
	}
	return nil
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// encodeDiscounts writes {"discounts": null | [...]}. A nil slice is encoded as
// null so clients can tell "not applicable" from an empty list.
func encodeDiscounts(e *jx.Encoder, items []discount.Formatted) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("discounts", func(e *jx.Encoder) {
			if items == nil {
				e.Null()
				return
			}
			e.Arr(func(e *jx.Encoder) {
				for _, it := range items {
					encodeFormatted(e, it)
				}
			})
		})
	})
}

func encodeFormatted(e *jx.Encoder, it discount.Formatted) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("label", func(e *jx.Encoder) { e.Str(it.Label) })
		e.Field("appliedTo", func(e *jx.Encoder) { e.Str(it.AppliedTo) })
		e.Field("amount", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				// decimal.String never uses exponent notation, so it is a valid JSON number.
				e.Field("value", func(e *jx.Encoder) { e.Raw([]byte(it.Amount.Value.String())) })
				e.Field("currency", func(e *jx.Encoder) { e.Str(it.Amount.Currency) })
			})
		})
		e.Field("coupon", func(e *jx.Encoder) {
			if it.Coupon == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(it.Coupon.Code) })
			})
		})
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
