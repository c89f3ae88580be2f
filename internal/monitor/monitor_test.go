package monitor_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/upsplusd/internal/bustest"
	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/metrics"
	"codeberg.org/mutker/upsplusd/internal/monitor"
	"codeberg.org/mutker/upsplusd/internal/pinmux"
	"codeberg.org/mutker/upsplusd/internal/power"
	"codeberg.org/mutker/upsplusd/internal/sensor"
	"codeberg.org/mutker/upsplusd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

// INA219 register addresses as seen on the wire.
const (
	inaShunt   = 0x01
	inaBus     = 0x02
	inaPower   = 0x03
	inaCurrent = 0x04
)

type pinLog struct {
	calls []string
}

func (p *pinLog) SetPin(_ context.Context, pin int, state string) error {
	p.calls = append(p.calls, fmt.Sprintf("%d=%s", pin, state))
	return nil
}

type fakeHost struct {
	calls int
	err   error
}

func (h *fakeHost) Shutdown(_ context.Context) error {
	h.calls++
	return h.err
}

type fixture struct {
	bus     *bustest.Bus
	supply  *bustest.Device
	battery *bustest.Device
	ups     *bustest.Device
	pins    *pinLog
	host    *fakeHost
	out     *bytes.Buffer
	holds   int
}

func newFixture() *fixture {
	bus := bustest.New()
	f := &fixture{
		bus:     bus,
		supply:  bus.Attach(0x40, bustest.NewDevice(2)),
		battery: bus.Attach(0x45, bustest.NewDevice(2)),
		ups:     bus.Attach(supervisor.Address, bustest.NewDevice(1)),
		pins:    &pinLog{},
		host:    &fakeHost{},
		out:     &bytes.Buffer{},
	}

	// 5.1 V supply drawing current.
	f.supply.Regs[inaBus] = 1275 << 3
	f.supply.Regs[inaShunt] = 400
	f.supply.Regs[inaCurrent] = 800
	f.supply.Regs[inaPower] = 200

	// 3.852 V battery, discharging.
	f.battery.Regs[inaBus] = 963 << 3
	f.battery.Regs[inaShunt] = 0xFF9C
	f.battery.Regs[inaCurrent] = 0xFE00
	f.battery.Regs[inaPower] = 100

	f.ups.Regs[supervisor.RegCapacity] = 12
	f.ups.Regs[supervisor.RegTemperature] = 31

	return f
}

func (f *fixture) setTypeC(mv uint16) {
	f.ups.Regs[supervisor.RegTypeCVoltage] = mv & 0xFF
	f.ups.Regs[supervisor.RegTypeCVoltage+1] = mv >> 8
}

func (f *fixture) monitor(dryRun bool) *monitor.Monitor {
	supply := sensor.NewINA219(f.bus, sensor.Options{
		Name: "supply", Address: 0x40, Shunt: 7250 * physic.MicroOhm,
	})
	battery := sensor.NewINA219(f.bus, sensor.Options{
		Name: "battery", Address: 0x45, Shunt: 5 * physic.MilliOhm,
	})

	return monitor.New(monitor.Config{
		Protection: supervisor.ProtectionConfig{ProtectMillivolts: 3700},
		DryRun:     dryRun,
	}, monitor.Deps{
		Arbiter:    pinmux.New(f.pins, []int{2, 3}),
		Supply:     supply,
		Battery:    battery,
		Supervisor: supervisor.New(f.bus),
		Host:       f.host,
		Out:        f.out,
		Hold:       func(context.Context) { f.holds++ },
	})
}

func (f *fixture) upsWrites() []bustest.Op {
	var ops []bustest.Op
	for _, op := range f.bus.Writes() {
		if op.Addr == supervisor.Address {
			ops = append(ops, op)
		}
	}

	return ops
}

func (f *fixture) assertPinsReleased(t *testing.T) {
	t.Helper()

	unblock, release := 0, 0
	for _, c := range f.pins.calls {
		switch {
		case strings.HasSuffix(c, "="+pinmux.StateAlt0):
			unblock++
		case strings.HasSuffix(c, "="+pinmux.StateInput):
			release++
		}
	}

	assert.Positive(t, unblock)
	assert.Equal(t, unblock, release, "every unblock is released")
	assert.Equal(t, "3="+pinmux.StateInput, f.pins.calls[len(f.pins.calls)-1])
}

func TestCycleLowBatteryShutsDown(t *testing.T) {
	f := newFixture()

	report, err := f.monitor(false).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, monitor.StateShuttingDown, report.State)
	assert.Equal(t, power.InitiateShutdown, report.Verdict)
	assert.Equal(t, power.ChargeNone, report.Charge)
	assert.InDelta(t, 3.852, report.Battery.Voltage, 1e-9)
	assert.True(t, report.Battery.InRange)
	assert.Negative(t, report.Battery.Current)

	assert.Equal(t, []bustest.Op{
		{Addr: supervisor.Address, Reg: supervisor.RegBackToAC, Value: 0},
		{Addr: supervisor.Address, Reg: supervisor.RegProtectLow, Value: 0x74},
		{Addr: supervisor.Address, Reg: supervisor.RegProtectHigh, Value: 0x0E},
		{Addr: supervisor.Address, Reg: supervisor.RegShutdown, Value: uint16(supervisor.ShutdownArm)},
	}, f.upsWrites())

	assert.Equal(t, 1, f.host.calls)
	assert.Equal(t, 1, f.holds)
	f.assertPinsReleased(t)

	out := f.out.String()
	assert.Contains(t, out, "Voltage of Batteries: 3.852 V")
	assert.Contains(t, out, "Battery Current (discharge) Rate")
	assert.Contains(t, out, "UPS Plus information")
	assert.Contains(t, out, "Battery Capacity: 12%")
	assert.Contains(t, out, "Battery Temperature: 31 C")
	assert.Contains(t, out, "Successfully set the protection voltage to: 3700 mV")
	assert.Contains(t, out, "Currently not charging.")
	assert.Contains(t, out, "The battery is going to dead! Ready to shut down!")
	assert.NotContains(t, out, "Would initiate shutdown")
}

func TestCycleDryRun(t *testing.T) {
	f := newFixture()

	report, err := f.monitor(true).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, monitor.StateIdle, report.State)
	assert.Equal(t, power.InitiateShutdown, report.Verdict)
	assert.Zero(t, f.host.calls)
	assert.Zero(t, f.holds)
	assert.Contains(t, f.out.String(), "Would initiate shutdown")

	ops := f.upsWrites()
	require.NotEmpty(t, ops)
	assert.Equal(t, supervisor.RegShutdown, ops[len(ops)-1].Reg)
}

func TestCycleChargingContinues(t *testing.T) {
	f := newFixture()
	f.setTypeC(5100)

	report, err := f.monitor(false).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, monitor.StateIdle, report.State)
	assert.Equal(t, power.Continue, report.Verdict)
	assert.Equal(t, power.ChargeTypeC, report.Charge)
	assert.Zero(t, f.host.calls)
	assert.Contains(t, f.out.String(), "Currently charging via Type C Port.")

	for _, op := range f.upsWrites() {
		assert.NotEqual(t, supervisor.RegShutdown, op.Reg)
	}
}

func TestCycleHealthyBatteryContinues(t *testing.T) {
	f := newFixture()
	f.battery.Regs[inaBus] = 1000 << 3 // 4.0 V

	report, err := f.monitor(false).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, power.Continue, report.Verdict)
	assert.Len(t, f.upsWrites(), 3)
}

func TestCycleBatteryOutOfRange(t *testing.T) {
	f := newFixture()
	f.setTypeC(5100)
	f.battery.Regs[inaShunt] = 32767

	report, err := f.monitor(false).RunCycle(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Battery.InRange)
	assert.InDelta(t, 3.852, report.Battery.Voltage, 1e-9)
	assert.Contains(t, f.out.String(), "Battery power is too high.")
}

func TestCycleBlockFailureSkipsConfig(t *testing.T) {
	f := newFixture()
	f.ups.FailRead[120] = bustest.ErrNACK

	report, err := f.monitor(false).RunCycle(context.Background())
	require.Error(t, err)

	assert.True(t, errors.HasCode(err, errors.ErrCycleFailed))
	assert.True(t, errors.HasCode(err, errors.ErrBusTransaction))
	assert.Equal(t, monitor.StateReadSupervisorBlock, report.State)
	assert.Empty(t, f.upsWrites(), "no protection written after a failed read")
	assert.Zero(t, f.host.calls)
	f.assertPinsReleased(t)
	assert.Contains(t, f.out.String(), "Cycle aborted in read_supervisor_block")
}

func TestCycleProtectionFailureAborts(t *testing.T) {
	f := newFixture()
	f.ups.FailWrite[supervisor.RegProtectLow] = bustest.ErrNACK

	report, err := f.monitor(false).RunCycle(context.Background())
	require.Error(t, err)

	assert.True(t, errors.HasCode(err, errors.ErrCycleFailed))
	assert.True(t, errors.HasCode(err, errors.ErrBusTransaction))
	assert.Equal(t, monitor.StateApplyConfig, report.State)
	assert.Equal(t, []bustest.Op{
		{Addr: supervisor.Address, Reg: supervisor.RegBackToAC, Value: 0},
	}, f.upsWrites(), "low battery alone must not arm the power cut")
	assert.Zero(t, f.host.calls)
	assert.Zero(t, f.holds)
	f.assertPinsReleased(t)

	out := f.out.String()
	assert.Contains(t, out, "Cycle aborted in apply_config")
	assert.NotContains(t, out, "Successfully set the protection voltage")
}

func TestCycleSensorFailureStopsEarly(t *testing.T) {
	f := newFixture()
	f.supply.FailRead[inaBus] = bustest.ErrNACK

	report, err := f.monitor(false).RunCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, monitor.StateReadSupply, report.State)
	assert.Empty(t, f.upsWrites())
	for _, op := range f.bus.Writes() {
		assert.NotEqual(t, uint16(0x45), op.Addr, "battery sensor untouched")
	}
}

func TestCycleHostFailureStillHolds(t *testing.T) {
	f := newFixture()
	f.host.err = errors.New().New(errors.ErrHostHalt)

	report, err := f.monitor(false).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, monitor.StateShuttingDown, report.State)
	assert.Equal(t, 1, f.holds)
}

type recorder struct {
	snaps []*metrics.CycleSnapshot
}

func (r *recorder) Record(_ context.Context, s *metrics.CycleSnapshot) error {
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) Export(s *metrics.CycleSnapshot) error {
	return r.Record(context.Background(), s)
}

func TestCyclePublishesBeforeHalt(t *testing.T) {
	f := newFixture()
	rec := &recorder{}
	exp := &recorder{}
	now := time.Unix(1760000000, 0)

	m := monitor.New(monitor.Config{
		Protection: supervisor.ProtectionConfig{ProtectMillivolts: 3700},
	}, monitor.Deps{
		Arbiter: pinmux.New(f.pins, []int{2, 3}),
		Supply: sensor.NewINA219(f.bus, sensor.Options{
			Name: "supply", Address: 0x40, Shunt: 7250 * physic.MicroOhm,
		}),
		Battery: sensor.NewINA219(f.bus, sensor.Options{
			Name: "battery", Address: 0x45, Shunt: 5 * physic.MilliOhm,
		}),
		Supervisor: supervisor.New(f.bus),
		Host:       f.host,
		Metrics:    rec,
		Exporter:   exp,
		Out:        f.out,
		Hold: func(context.Context) {
			assert.Len(t, rec.snaps, 1, "recorded before holding")
		},
		Now: func() time.Time { return now },
	})

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.snaps, 1)
	require.Len(t, exp.snaps, 1)

	s := rec.snaps[0]
	assert.Equal(t, now, s.Timestamp)
	assert.Equal(t, "shutdown", s.State.Verdict)
	assert.Equal(t, "none", s.State.Charge)
	assert.Equal(t, 3700, s.Supervisor.ProtectMillivolts)
	assert.Equal(t, 12, s.Supervisor.Capacity)
	assert.Equal(t, 31, s.Supervisor.Temperature)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "read_supply", monitor.StateReadSupply.String())
	assert.Equal(t, "shutting_down", monitor.StateShuttingDown.String())
	assert.Equal(t, "unknown", monitor.State(99).String())
}
