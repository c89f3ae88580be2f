package metrics

import (
	"context"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
)

// collector forwards snapshots to a repository, refusing work once ctx is done.
type collector struct {
	repo MetricsRepository
}

type noop struct{}

// Noop returns a collector that discards every snapshot.
func Noop() MetricsCollector {
	return noop{}
}

func (noop) Record(context.Context, *CycleSnapshot) error { return nil }

func (noop) Close() error { return nil }

// NewService returns a sqlite-backed collector, or Noop when cfg is
// disabled.
func NewService(cfg Config, log logger.Logger) (MetricsCollector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Cycle history disabled")
		return Noop(), nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &collector{repo: repo}, nil
}

func (c *collector) Record(ctx context.Context, snapshot *CycleSnapshot) error {
	errFactory := errors.New()

	switch {
	case snapshot == nil:
		return errFactory.New(ErrInvalidMetrics)
	case ctx.Err() != nil:
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	}

	if err := c.repo.Record(snapshot); err != nil {
		return errFactory.Wrap(ErrMetricsCollection, err)
	}

	return nil
}

func (c *collector) Close() error {
	if err := c.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}
