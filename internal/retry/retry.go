// Package retry bounds re-execution of a batch after transient write conflicts.
//
// A Controller runs one unit of work up to its attempt budget. Only errors
// the dialect classifies as transient (deadlocks, serialization failures,
// busy or locked databases) are retried; anything else ends the run at once.
// Before a transient failure is retried the caller's reset hook runs, which
// the repository uses to clear the staging table.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"github.com/roach88/sqlbulk/internal/dialect"
)

// Classifier maps a store error onto the retry taxonomy. dialect.Dialect
// satisfies it.
type Classifier interface {
	Classify(err error) dialect.Class
}

// Controller runs work with bounded retry on transient errors.
type Controller struct {
	attempts   int
	delay      time.Duration
	classifier Classifier
	log        *slog.Logger
}

// New creates a controller. attempts is the total number of executions,
// including the first; values below 1 are treated as 1.
func New(attempts int, delay time.Duration, c Classifier, log *slog.Logger) *Controller {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{attempts: attempts, delay: delay, classifier: c, log: log}
}

// Attempts returns the attempt budget.
func (c *Controller) Attempts() int { return c.attempts }

// Transient reports whether err is a retryable write conflict.
func (c *Controller) Transient(err error) bool {
	var re *ResetError
	if errors.As(err, &re) {
		return false
	}
	return err != nil && c.classifier.Classify(err) == dialect.Transient
}

// Run executes work until it succeeds, fails with a non-transient error, or
// the attempt budget is spent; the last error is returned. reset may be nil.
// When reset fails the run stops with a *ResetError.
func (c *Controller) Run(ctx context.Context, op string, reset func(context.Context) error, work func(context.Context) error) error {
	attempt := 0
	r := retrier.New(retrier.ConstantBackoff(c.attempts-1, c.delay), classifier{c})

	return r.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		err := work(ctx)
		if err == nil || !c.Transient(err) {
			return err
		}

		c.log.Warn("transient write conflict",
			"op", op,
			"attempt", attempt,
			"max_attempts", c.attempts,
			"err", err,
		)
		if reset != nil {
			if rerr := reset(ctx); rerr != nil {
				return &ResetError{Cause: err, Reset: rerr}
			}
		}
		return err
	})
}

// ResetError reports a reset hook that failed after a transient error.
// It is never retried.
type ResetError struct {
	Cause error // the transient error that triggered the reset
	Reset error // the reset failure
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset after transient failure (%v): %v", e.Cause, e.Reset)
}

func (e *ResetError) Unwrap() []error {
	return []error{e.Reset, e.Cause}
}

type classifier struct {
	c *Controller
}

func (cl classifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case cl.c.Transient(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}
