package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*CycleSnapshot
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (MetricsRepository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, filepath.Join(dir, backupDirName), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err).WithData("schema_version")
	}

	batchSize := max(cfg.BatchSize, 1)

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", batchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*CycleSnapshot, 0, batchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	repo.cfg.BatchSize = batchSize

	// Start background goroutine for periodic flushing if batching is enabled
	if batchSize > 1 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(snapshot *CycleSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Close() error {
	var closeErr error

	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}

		// Wait for the flusher to finish its final flush
		<-r.flushDoneChan

		r.mu.Lock()
		if err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush metrics on close")
		}
		r.mu.Unlock()

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err).WithData("checkpoint_wal")
			r.db.Close()
			return
		}

		if err := r.db.Close(); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err).WithData("close_database")
			return
		}

		r.logger.Info().Msg("Metrics repository closed gracefully")
	})

	return closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic metrics flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	err := withTx(r.db, r.logger, ErrTransactionFailed, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(insertCycleSQL)
		if err != nil {
			return stageErr(ErrTransactionFailed, "prepare", "cycles", err)
		}
		defer stmt.Close()

		for _, snapshot := range r.buffer {
			if _, err := stmt.Exec(cycleRow(snapshot)...); err != nil {
				return stageErr(ErrTransactionFailed, "insert", "cycles", err)
			}
		}

		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Int("records", len(r.buffer)).Msg("Failed to flush metrics")
		return err
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed metrics to database")
	r.buffer = r.buffer[:0]

	return nil
}

func cycleRow(s *CycleSnapshot) []any {
	return []any{
		s.Timestamp.Unix(),
		s.Supply.Voltage,
		nullableReading(s.Supply, s.Supply.Current),
		nullableReading(s.Supply, s.Supply.Power),
		s.Battery.Voltage,
		nullableReading(s.Battery, s.Battery.Current),
		nullableReading(s.Battery, s.Battery.Power),
		s.Supervisor.TypeCMillivolts,
		s.Supervisor.MicroUSBMillivolts,
		s.Supervisor.ProtectMillivolts,
		s.Supervisor.Capacity,
		s.Supervisor.Temperature,
		s.Supervisor.MCUMillivolts,
		s.Supervisor.PogoPinMillivolts,
		s.Supervisor.BatteryMillivolts,
		s.Supervisor.FullMillivolts,
		s.Supervisor.EmptyMillivolts,
		int64(s.Supervisor.RuntimeTotal.Seconds()),
		int64(s.Supervisor.RuntimeCurrent.Seconds()),
		int64(s.Supervisor.ChargingTime.Seconds()),
		s.Supervisor.Version,
		s.State.Charge,
		s.State.Verdict,
		s.State.DryRun,
	}
}

// nullableReading stores out-of-range current and power as NULL.
func nullableReading(m SensorMetrics, v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: m.InRange}
}
