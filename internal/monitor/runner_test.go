package monitor_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/upsplusd/internal/bustest"
	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/monitor"
	"codeberg.org/mutker/upsplusd/internal/power"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCycler struct {
	errs   []error
	calls  int
	cancel context.CancelFunc
	// cancelAfter cancels the context once this many cycles have run.
	cancelAfter int
}

func (s *scriptedCycler) RunCycle(_ context.Context) (monitor.Report, error) {
	s.calls++
	if s.cancel != nil && s.calls >= s.cancelAfter {
		s.cancel()
	}

	if s.calls <= len(s.errs) {
		return monitor.Report{State: monitor.StateReadBattery}, s.errs[s.calls-1]
	}

	return monitor.Report{State: monitor.StateIdle, Verdict: power.Continue}, nil
}

func busErr() error {
	return errors.New().Wrap(errors.ErrBusTransaction, bustest.ErrNACK)
}

func TestRunOnceRetriesBusErrors(t *testing.T) {
	c := &scriptedCycler{errs: []error{busErr(), busErr(), busErr()}}

	res := monitor.NewRunner(c, time.Minute).RunOnce(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 4, c.calls)
	assert.Equal(t, monitor.StateIdle, res.Report.State)
}

func TestRunOnceReturnsOtherErrors(t *testing.T) {
	c := &scriptedCycler{errs: []error{errors.New().New(errors.ErrInternal)}}

	res := monitor.NewRunner(c, time.Minute).RunOnce(context.Background())

	require.Error(t, res.Err)
	assert.False(t, res.Retryable())
	assert.Equal(t, 1, c.calls)
}

func TestRunOnceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make([]error, 100)
	for i := range errs {
		errs[i] = busErr()
	}
	c := &scriptedCycler{errs: errs, cancel: cancel, cancelAfter: 5}

	res := monitor.NewRunner(c, time.Minute).RunOnce(ctx)

	require.Error(t, res.Err)
	assert.True(t, errors.HasCode(res.Err, errors.ErrTimeout))
	assert.Equal(t, 5, c.calls)
}

func TestResultRetryable(t *testing.T) {
	wrapped := errors.New().Wrap(errors.ErrCycleFailed, busErr())

	assert.True(t, monitor.Result{Err: wrapped}.Retryable())
	assert.False(t, monitor.Result{}.Retryable())
}

func TestRunRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &scriptedCycler{cancel: cancel, cancelAfter: 1}

	err := monitor.NewRunner(c, time.Hour).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, c.calls, "first cycle does not wait for the ticker")
}

func TestRunTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &scriptedCycler{cancel: cancel, cancelAfter: 3}

	err := monitor.NewRunner(c, 5*time.Millisecond).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, c.calls)
}

func TestRunStopsOnFatalError(t *testing.T) {
	c := &scriptedCycler{errs: []error{errors.New().New(errors.ErrInternal)}}

	err := monitor.NewRunner(c, time.Hour).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrMainLoop))
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	err := monitor.NewRunner(&scriptedCycler{}, 0).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
}
