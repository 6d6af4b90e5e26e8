// Command seed-db loads sales rules, coupons and sample carts for local runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/storage/postgres"
)

type seedFile struct {
	Rules []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Label string `json:"label"`
	} `json:"rules"`
	Coupons []struct {
		Code   string `json:"code"`
		RuleID int64  `json:"ruleId"`
	} `json:"coupons"`
	Carts []struct {
		ID           string `json:"id"`
		CurrencyCode string `json:"currencyCode"`
		CouponCode   string `json:"couponCode"`
		Discounts    []struct {
			RuleID    int64           `json:"ruleId"`
			Label     string          `json:"label"`
			AppliedTo string          `json:"appliedTo"`
			Amount    decimal.Decimal `json:"amount"`
		} `json:"discounts"`
	} `json:"carts"`
}

func main() {
	os.Exit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	fs := flag.NewFlagSet("seed-db", flag.ContinueOnError)
	var (
		databaseURL string
		seedPath    string
	)
	fs.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	fs.StringVar(&seedPath, "seed-file", "db/seed/discounts.json", "path to the seed JSON file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, seedPath); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		return 1
	}
	lg.Info("Seed completed")
	return 0
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, seedPath string) error {
	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	carts := postgres.NewCartRepository(pool)

	rules := make([]postgres.SalesRule, 0, len(seed.Rules))
	for _, r := range seed.Rules {
		rules = append(rules, postgres.SalesRule{ID: r.ID, Name: r.Name, Label: r.Label})
	}
	if err := carts.UpsertRules(ctx, rules); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	lg.Info("Seeded sales rules", zap.Int("count", len(rules)))

	coupons := make([]discount.Coupon, 0, len(seed.Coupons))
	for _, c := range seed.Coupons {
		coupons = append(coupons, discount.Coupon{Code: c.Code, RuleID: c.RuleID})
	}
	if err := postgres.NewCouponRepository(pool).Upsert(ctx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Seeded coupons", zap.Int("count", len(coupons)))

	for _, c := range seed.Carts {
		records := make([]discount.Record, 0, len(c.Discounts))
		for _, d := range c.Discounts {
			records = append(records, discount.Record{
				RuleID:    d.RuleID,
				Label:     d.Label,
				AppliedTo: d.AppliedTo,
				Amount:    d.Amount,
			})
		}
		cart := discount.Cart{CurrencyCode: c.CurrencyCode, CouponCode: c.CouponCode}
		if err := carts.Save(ctx, c.ID, cart, records); err != nil {
			return errors.Wrapf(err, "seed cart %s", c.ID)
		}
		lg.Info("Seeded cart", zap.String("id", c.ID), zap.Int("discounts", len(records)))
	}
	return nil
}
