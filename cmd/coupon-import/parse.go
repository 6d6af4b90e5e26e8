package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxCodeLen = 64

// readFiles parses every file concurrently and merges the results. A code
// listed twice with the same rule is kept once; a code mapped to two
// different rules fails the import.
func readFiles(ctx context.Context, lg *zap.Logger, paths []string) (map[string]int64, error) {
	results := make([]map[string]int64, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			codes, err := readGzFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("File parsed", zap.String("path", path), zap.Int("codes", len(codes)))
			results[i] = codes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]int64)
	for _, codes := range results {
		if err := mergeCodes(merged, codes); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func readGzFile(ctx context.Context, path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return parseCodes(ctx, gz)
}

// parseCodes reads "CODE,RULE_ID" lines. Blank lines and lines starting with
// '#' are skipped.
func parseCodes(ctx context.Context, r io.Reader) (map[string]int64, error) {
	codes := make(map[string]int64)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		code, ruleID, err := parseLine(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if err := mergeCodes(codes, map[string]int64{code: ruleID}); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return codes, nil
}

func parseLine(text string) (string, int64, error) {
	rawCode, rawRule, ok := strings.Cut(text, ",")
	if !ok {
		return "", 0, errors.Errorf("expected CODE,RULE_ID, got %q", text)
	}
	code := strings.TrimSpace(rawCode)
	if code == "" || len(code) > maxCodeLen {
		return "", 0, errors.Errorf("invalid coupon code %q", code)
	}
	ruleID, err := strconv.ParseInt(strings.TrimSpace(rawRule), 10, 64)
	if err != nil || ruleID <= 0 {
		return "", 0, errors.Errorf("invalid rule id %q", rawRule)
	}
	return code, ruleID, nil
}

func mergeCodes(dst, src map[string]int64) error {
	for code, ruleID := range src {
		if prev, ok := dst[code]; ok && prev != ruleID {
			return errors.Errorf("coupon %q maps to rules %d and %d", code, prev, ruleID)
		}
		dst[code] = ruleID
	}
	return nil
}
