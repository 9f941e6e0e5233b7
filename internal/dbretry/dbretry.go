// Package dbretry implements the TransientDB retry policy from the core's
// error handling design: retry a whole operation a bounded number of times
// with backoff, surfacing the error once the budget is exhausted.
package dbretry

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/electron/ventifact/errs"
	"github.com/electron/ventifact/internal/sklog"
)

// MaxAttempts bounds how many times Do will invoke op, including the first
// try.
const MaxAttempts = 5

// Do runs op, retrying with exponential backoff as long as the failure
// classifies as errs.TransientDB and the attempt budget remains. Any other
// error, or context cancellation, is returned immediately.
func Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxAttempts-1), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(errs.New(errs.Cancelled, ctx.Err()))
		}
		if errs.OfError(err) != errs.TransientDB {
			return backoff.Permanent(err)
		}
		sklog.Warningf("transient DB error on attempt %d/%d: %s", attempt, MaxAttempts, err)
		return err
	}, b)
}
