// Command coupon-import loads coupon codes from gzip files into postgres.
//
// Each file holds one "CODE,RULE_ID" pair per line. Files are read
// concurrently and merged before anything is written. When a Redis URL is
// given, cached entries for the imported codes are dropped afterwards so
// reassigned coupons take effect immediately.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
	"github.com/xenking/kart-discounts/internal/storage/postgres"
	"github.com/xenking/kart-discounts/internal/storage/redis"
)

type options struct {
	databaseURL string
	redisURL    string
	batchSize   int
	files       []string
}

func main() {
	os.Exit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	fs := flag.NewFlagSet("coupon-import", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	fs.StringVar(&opts.redisURL, "redis-url", "", "Redis URL of the coupon cache to invalidate (or REDIS_URL env)")
	fs.IntVar(&opts.batchSize, "batch-size", 5000, "coupons per upsert batch")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts.files = fs.Args()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}
	switch {
	case opts.databaseURL == "":
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		return 2
	case len(opts.files) == 0:
		lg.Error("usage: coupon-import [flags] FILE.gz...")
		return 2
	case opts.batchSize <= 0:
		lg.Error("batch size must be positive", zap.Int("batch_size", opts.batchSize))
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Coupon import failed", zap.Error(err))
		return 1
	}
	lg.Info("Coupon import completed")
	return 0
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	codes, err := readFiles(ctx, lg, opts.files)
	if err != nil {
		return errors.Wrap(err, "read coupon files")
	}
	lg.Info("Coupon codes parsed", zap.Int("codes", len(codes)), zap.Int("files", len(opts.files)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCouponRepository(pool)
	coupons := sortedCoupons(codes)
	written := 0
	for chunk := range slices.Chunk(coupons, opts.batchSize) {
		if err := repo.Upsert(ctx, chunk); err != nil {
			return errors.Wrapf(err, "upsert batch at %d", written)
		}
		written += len(chunk)
		lg.Info("Write progress", zap.Int("written", written), zap.Int("total", len(coupons)))
	}

	if opts.redisURL == "" {
		return nil
	}
	return invalidateCache(ctx, lg, opts.redisURL, repo, coupons)
}

func invalidateCache(
	ctx context.Context,
	lg *zap.Logger,
	redisURL string,
	repo *postgres.CouponRepository,
	coupons []discount.Coupon,
) error {
	redisOpts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	client := goredis.NewClient(redisOpts)
	defer func() { _ = client.Close() }()

	codes := make([]string, len(coupons))
	for i, c := range coupons {
		codes[i] = c.Code
	}
	if err := redis.NewCouponCache(client, repo, 0).Invalidate(ctx, codes); err != nil {
		return errors.Wrap(err, "invalidate coupon cache")
	}
	lg.Info("Coupon cache invalidated", zap.Int("codes", len(codes)))
	return nil
}

// sortedCoupons orders coupons by code so reruns write identical batches.
func sortedCoupons(codes map[string]int64) []discount.Coupon {
	out := make([]discount.Coupon, 0, len(codes))
	for code, ruleID := range codes {
		out = append(out, discount.Coupon{Code: code, RuleID: ruleID})
	}
	slices.SortFunc(out, func(a, b discount.Coupon) int {
		return strings.Compare(a.Code, b.Code)
	})
	return out
}
