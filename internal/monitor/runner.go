package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
)

// Cycler runs a single monitor cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (Report, error)
}

type Result struct {
	Report Report
	Err    error
}

// Retryable reports whether the cycle failed on the bus and should be
// started again from the first step.
func (r Result) Retryable() bool {
	return r.Err != nil && errors.HasCode(r.Err, errors.ErrBusTransaction)
}

type Runner struct {
	cycler   Cycler
	interval time.Duration
}

func NewRunner(c Cycler, interval time.Duration) *Runner {
	return &Runner{cycler: c, interval: interval}
}

// RunOnce runs cycles until one completes without a bus error. Bus errors
// are retried immediately and without limit; only ctx ends the retries.
func (r *Runner) RunOnce(ctx context.Context) Result {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Err: errors.New().Wrap(errors.ErrTimeout, err)}
		}

		report, err := r.cycler.RunCycle(ctx)
		res := Result{Report: report, Err: err}

		if !res.Retryable() {
			return res
		}

		logger.Error().
			Err(err).
			Int("attempt", attempt).
			Str("state", report.State.String()).
			Msg("Bus error, restarting cycle")
	}
}

// Run executes a cycle immediately and then once per interval until ctx
// is cancelled. Errors other than bus errors stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	errFactory := errors.New()

	if r.interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, r.interval.String())
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		res := r.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if res.Err != nil {
			return errFactory.Wrap(errors.ErrMainLoop, res.Err)
		}

		logger.Debug().
			Str("verdict", res.Report.Verdict.String()).
			Dur("elapsed", res.Report.Elapsed).
			Msg("Cycle complete")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
