// File: internal/regions/pool.go
// Brief: Bounded fan-out of one action per region.

package regions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome for a single region.
type Result struct {
	Region   string
	Err      error
	Duration time.Duration
}

// Func runs the action for one region.
type Func func(ctx context.Context, region string) error

// Run executes fn for every region with at most limit running at once
// (0 = all). Every region runs to completion; a failure in one does not
// cancel the others. Results come back in input order and the returned
// error joins every per-region failure.
func Run(ctx context.Context, regions []string, limit int, fn Func) ([]Result, error) {
	regions = dedupe(regions)
	results := make([]Result, len(regions))
	var eg errgroup.Group
	if limit <= 0 {
		limit = len(regions)
	}
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, region := range regions {
		eg.Go(func() error {
			start := time.Now()
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, region)
			}
			results[i] = Result{Region: region, Err: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Region, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Failed returns the sorted regions whose result carries an error.
func Failed(results []Result) []string {
	var out []string
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r.Region)
		}
	}
	sort.Strings(out)
	return out
}

// dedupe drops repeats. The empty region (SDK default) is kept only when no
// named region is present.
func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	named := false
	for _, r := range in {
		if r != "" {
			named = true
			break
		}
	}
	for _, r := range in {
		if r == "" && named {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
