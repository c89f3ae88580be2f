// Package monitor runs the read, configure and decide cycle against the UPS.
package monitor

import (
	"context"
	"io"
	"os"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
	"codeberg.org/mutker/upsplusd/internal/metrics"
	"codeberg.org/mutker/upsplusd/internal/power"
	"codeberg.org/mutker/upsplusd/internal/sensor"
	"codeberg.org/mutker/upsplusd/internal/supervisor"
)

// Supervisor is the subset of supervisor.Link the cycle needs.
type Supervisor interface {
	ReadBlock() (supervisor.RegisterBlock, error)
	ApplyProtection(cfg supervisor.ProtectionConfig) error
	TriggerShutdown() error
}

// Arbiter brackets one group of bus transactions.
type Arbiter interface {
	With(ctx context.Context, fn func() error) error
}

// Host performs the irreversible host halt.
type Host interface {
	Shutdown(ctx context.Context) error
}

// StatusExporter publishes the last cycle.
type StatusExporter interface {
	Export(s *metrics.CycleSnapshot) error
}

type Config struct {
	Protection supervisor.ProtectionConfig
	// DryRun logs the shutdown instead of halting the host.
	DryRun bool
}

type Deps struct {
	Arbiter    Arbiter
	Supply     sensor.Reader
	Battery    sensor.Reader
	Supervisor Supervisor
	Host       Host

	// Optional.
	Metrics  metrics.MetricsCollector
	Exporter StatusExporter
	Out      io.Writer
	// Hold blocks after the host halt has been requested. The default
	// waits for ctx to end, which only happens when the process is
	// terminated.
	Hold func(ctx context.Context)
	Now  func() time.Time
}

type State int

const (
	StateReadSupply State = iota
	StateReadBattery
	StateReadSupervisorBlock
	StateApplyConfig
	StateEvaluate
	StateIdle
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateReadSupply:
		return "read_supply"
	case StateReadBattery:
		return "read_battery"
	case StateReadSupervisorBlock:
		return "read_supervisor_block"
	case StateApplyConfig:
		return "apply_config"
	case StateEvaluate:
		return "evaluate"
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Report is everything one cycle observed and decided.
type Report struct {
	Supply  sensor.Measurement
	Battery sensor.Measurement
	Block   supervisor.RegisterBlock
	Charge  power.ChargeState
	Verdict power.Verdict
	// State is the last state reached: Idle or ShuttingDown on success,
	// the failing state otherwise.
	State   State
	Started time.Time
	Elapsed time.Duration
}

// Monitor is not safe for concurrent use; cycles run one at a time.
type Monitor struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Monitor {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Hold == nil {
		deps.Hold = func(ctx context.Context) { <-ctx.Done() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}

	return &Monitor{cfg: cfg, deps: deps}
}

type step struct {
	state State
	run   func(ctx context.Context, r *Report) error
}

// RunCycle performs one full pass. Any bus error aborts the cycle before
// later steps run, so no configuration is written and no decision is made
// from a partial read.
func (m *Monitor) RunCycle(ctx context.Context) (Report, error) {
	r := Report{Started: m.deps.Now()}

	steps := []step{
		{StateReadSupply, m.readSupply},
		{StateReadBattery, m.readBattery},
		{StateReadSupervisorBlock, m.readBlock},
		{StateApplyConfig, m.applyConfig},
		{StateEvaluate, m.evaluate},
	}

	for _, s := range steps {
		r.State = s.state
		logger.Debug().Str("state", s.state.String()).Msg("Entering state")

		if err := s.run(ctx, &r); err != nil {
			printAborted(m.deps.Out, s.state, err)
			r.Elapsed = m.deps.Now().Sub(r.Started)
			return r, errors.New().Wrap(errors.ErrCycleFailed, err).WithData(s.state.String())
		}
	}

	if r.Verdict != power.InitiateShutdown {
		r.State = StateIdle
		m.publish(ctx, &r)
		r.Elapsed = m.deps.Now().Sub(r.Started)
		return r, nil
	}

	r.State = StateShuttingDown
	if err := m.shutdown(ctx, &r); err != nil {
		printAborted(m.deps.Out, StateShuttingDown, err)
		r.Elapsed = m.deps.Now().Sub(r.Started)
		return r, errors.New().Wrap(errors.ErrCycleFailed, err).WithData(StateShuttingDown.String())
	}

	r.Elapsed = m.deps.Now().Sub(r.Started)
	return r, nil
}

func (m *Monitor) readSupply(ctx context.Context, r *Report) error {
	meas, err := m.sample(ctx, m.deps.Supply)
	if err != nil {
		return err
	}

	r.Supply = meas
	printSupply(m.deps.Out, meas)

	return nil
}

func (m *Monitor) readBattery(ctx context.Context, r *Report) error {
	meas, err := m.sample(ctx, m.deps.Battery)
	if err != nil {
		return err
	}

	r.Battery = meas
	printBattery(m.deps.Out, meas)

	return nil
}

func (m *Monitor) sample(ctx context.Context, s sensor.Reader) (sensor.Measurement, error) {
	var meas sensor.Measurement

	err := m.deps.Arbiter.With(ctx, func() error {
		if err := s.Configure(); err != nil {
			return err
		}

		var err error
		meas, err = s.Read()
		return err
	})
	if err != nil {
		return sensor.Measurement{}, err
	}

	if !meas.InRange {
		logger.Warn().
			Str("sensor", s.Name()).
			Str("error_code", string(errors.ErrSensorRange)).
			Float64("voltage", meas.Voltage).
			Msg("Current out of sensor range")
	}

	return meas, nil
}

func (m *Monitor) readBlock(ctx context.Context, r *Report) error {
	err := m.deps.Arbiter.With(ctx, func() error {
		block, err := m.deps.Supervisor.ReadBlock()
		if err != nil {
			return err
		}

		r.Block = block
		return nil
	})
	if err != nil {
		return err
	}

	printSupervisor(m.deps.Out, r.Block)

	return nil
}

func (m *Monitor) applyConfig(ctx context.Context, _ *Report) error {
	err := m.deps.Arbiter.With(ctx, func() error {
		return m.deps.Supervisor.ApplyProtection(m.cfg.Protection)
	})
	if err != nil {
		return err
	}

	printProtection(m.deps.Out, m.cfg.Protection)

	return nil
}

func (m *Monitor) evaluate(_ context.Context, r *Report) error {
	r.Charge = power.InferCharge(r.Block)
	r.Verdict = power.Decide(r.Battery.Voltage, m.cfg.Protection.ProtectMillivolts, r.Charge)

	printCharge(m.deps.Out, r.Charge)

	logger.Info().
		Float64("battery_voltage", r.Battery.Voltage).
		Uint16("protect_millivolts", m.cfg.Protection.ProtectMillivolts).
		Str("charge", r.Charge.String()).
		Str("verdict", r.Verdict.String()).
		Msg("Cycle evaluated")

	return nil
}

func (m *Monitor) shutdown(ctx context.Context, r *Report) error {
	printShutdownImminent(m.deps.Out)
	logger.Warn().
		Float64("battery_voltage", r.Battery.Voltage).
		Uint16("protect_millivolts", m.cfg.Protection.ProtectMillivolts).
		Msg("Battery low and not charging, shutting down")

	if err := m.deps.Arbiter.With(ctx, m.deps.Supervisor.TriggerShutdown); err != nil {
		return err
	}

	if m.cfg.DryRun {
		printDryRun(m.deps.Out)
		logger.Info().Msg("Dry run, host left running")
		r.State = StateIdle
		m.publish(ctx, r)
		return nil
	}

	m.publish(ctx, r)

	if err := m.deps.Host.Shutdown(ctx); err != nil {
		// The supervisor cuts power on its own once armed.
		logger.Error().Err(err).Msg("Host halt failed, waiting for power cut")
	}

	m.deps.Hold(ctx)

	return nil
}

// publish records the cycle. Failures are logged and never fail the cycle.
func (m *Monitor) publish(ctx context.Context, r *Report) {
	snap := Snapshot(r, m.cfg, m.deps.Now())

	if err := m.deps.Metrics.Record(ctx, snap); err != nil {
		logger.Warn().Err(err).Msg("Failed to record cycle metrics")
	}

	if m.deps.Exporter == nil {
		return
	}

	if err := m.deps.Exporter.Export(snap); err != nil {
		logger.Warn().Err(err).Msg("Failed to export cycle status")
	}
}

// Snapshot converts a report into its stored form.
func Snapshot(r *Report, cfg Config, at time.Time) *metrics.CycleSnapshot {
	return &metrics.CycleSnapshot{
		Timestamp: at,
		Supply:    sensorMetrics(r.Supply),
		Battery:   sensorMetrics(r.Battery),
		Supervisor: supervisorMetrics(r.Block, cfg.Protection),
		State: metrics.StateMetrics{
			Charge:  r.Charge.String(),
			Verdict: r.Verdict.String(),
			DryRun:  cfg.DryRun,
		},
	}
}

func supervisorMetrics(b supervisor.RegisterBlock, p supervisor.ProtectionConfig) metrics.SupervisorMetrics {
	return metrics.SupervisorMetrics{
		TypeCMillivolts:    int(b.TypeCMillivolts()),
		MicroUSBMillivolts: int(b.MicroUSBMillivolts()),
		ProtectMillivolts:  int(p.ProtectMillivolts),
		Capacity:           int(b.Capacity()),
		Temperature:        int(b.Temperature()),
		MCUMillivolts:      int(b.MCUMillivolts()),
		PogoPinMillivolts:  int(b.PogoPinMillivolts()),
		BatteryMillivolts:  int(b.BatteryMillivolts()),
		FullMillivolts:     int(b.FullMillivolts()),
		EmptyMillivolts:    int(b.EmptyMillivolts()),
		SamplePeriod:       b.SamplePeriod(),
		PowerStatus:        int(b.PowerStatus()),
		ShutdownCountdown:  b.ShutdownCountdown(),
		RestartCountdown:   b.RestartCountdown(),
		RuntimeTotal:       b.RuntimeTotal(),
		RuntimeCurrent:     b.RuntimeCurrent(),
		ChargingTime:       b.ChargingTime(),
		Version:            int(b.Version()),
	}
}

func sensorMetrics(m sensor.Measurement) metrics.SensorMetrics {
	return metrics.SensorMetrics{
		Voltage: m.Voltage,
		Current: m.Current,
		Power:   m.Power,
		InRange: m.InRange,
	}
}
