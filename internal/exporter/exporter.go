// Package exporter writes the last cycle as a Prometheus textfile for the
// node exporter's textfile collector.
package exporter

import (
	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/metrics"
	"codeberg.org/mutker/upsplusd/internal/power"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "upsplus"

// Exporter is safe for sequential use only, matching the monitor loop.
type Exporter struct {
	path     string
	registry *prometheus.Registry

	voltage  *prometheus.GaugeVec
	current  *prometheus.GaugeVec
	power    *prometheus.GaugeVec
	inRange  *prometheus.GaugeVec
	input    *prometheus.GaugeVec
	protect  prometheus.Gauge
	capacity prometheus.Gauge
	charging prometheus.Gauge
	shutdown prometheus.Gauge
	lastRun  prometheus.Gauge

	rail        *prometheus.GaugeVec
	runtime     *prometheus.GaugeVec
	countdown   *prometheus.GaugeVec
	temperature prometheus.Gauge
	period      prometheus.Gauge
	status      prometheus.Gauge
	version     prometheus.Gauge
}

// New returns nil when path is empty; a nil Exporter ignores Export.
func New(path string) *Exporter {
	if path == "" {
		return nil
	}

	e := &Exporter{
		path:     path,
		registry: prometheus.NewRegistry(),
		voltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sensor_voltage_volts", Help: "Bus voltage per sensor.",
		}, []string{"sensor"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sensor_current_milliamps", Help: "Current per sensor.",
		}, []string{"sensor"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sensor_power_milliwatts", Help: "Power per sensor.",
		}, []string{"sensor"}),
		inRange: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sensor_in_range", Help: "1 when current and power are within range.",
		}, []string{"sensor"}),
		input: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "input_millivolts", Help: "Charging input voltage per port.",
		}, []string{"port"}),
		protect: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "protect_millivolts", Help: "Configured protection voltage.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_capacity_percent", Help: "Remaining battery capacity.",
		}),
		charging: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "charging", Help: "1 when a charging source is present.",
		}),
		shutdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "shutdown_initiated", Help: "1 when the last cycle decided to shut down.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_timestamp_seconds", Help: "Unix time of the last cycle.",
		}),
		rail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rail_millivolts", Help: "Voltages measured by the UPS supervisor.",
		}, []string{"rail"}),
		runtime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "runtime_seconds", Help: "Running and charging time counters.",
		}, []string{"kind"}),
		countdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "countdown_seconds", Help: "Pending supervisor shutdown and restart countdowns.",
		}, []string{"action"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_temperature_celsius", Help: "Battery temperature.",
		}),
		period: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sample_period_seconds", Help: "Supervisor sampling period.",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "power_status", Help: "Raw supervisor power status byte.",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "firmware_version", Help: "Supervisor firmware version.",
		}),
	}

	e.registry.MustRegister(e.voltage, e.current, e.power, e.inRange, e.input,
		e.protect, e.capacity, e.charging, e.shutdown, e.lastRun,
		e.rail, e.runtime, e.countdown, e.temperature, e.period, e.status, e.version)

	return e
}

// Export replaces the textfile with the given snapshot.
func (e *Exporter) Export(s *metrics.CycleSnapshot) error {
	if e == nil || s == nil {
		return nil
	}

	e.setSensor("supply", s.Supply)
	e.setSensor("battery", s.Battery)

	e.input.WithLabelValues("type-c").Set(float64(s.Supervisor.TypeCMillivolts))
	e.input.WithLabelValues("micro-usb").Set(float64(s.Supervisor.MicroUSBMillivolts))
	e.protect.Set(float64(s.Supervisor.ProtectMillivolts))
	e.capacity.Set(float64(s.Supervisor.Capacity))
	e.charging.Set(boolGauge(s.State.Charge != power.ChargeNone.String()))
	e.shutdown.Set(boolGauge(s.State.Verdict == power.InitiateShutdown.String()))
	e.lastRun.Set(float64(s.Timestamp.Unix()))
	e.setSupervisor(s.Supervisor)

	if err := prometheus.WriteToTextfile(e.path, e.registry); err != nil {
		return errors.New().Wrap(errors.ErrExportStatus, err).WithData(e.path)
	}

	return nil
}

func (e *Exporter) setSensor(name string, m metrics.SensorMetrics) {
	e.voltage.WithLabelValues(name).Set(m.Voltage)
	e.inRange.WithLabelValues(name).Set(boolGauge(m.InRange))

	// Stale values would read as real ones; drop them instead.
	if !m.InRange {
		e.current.DeleteLabelValues(name)
		e.power.DeleteLabelValues(name)
		return
	}

	e.current.WithLabelValues(name).Set(m.Current)
	e.power.WithLabelValues(name).Set(m.Power)
}

func (e *Exporter) setSupervisor(m metrics.SupervisorMetrics) {
	e.rail.WithLabelValues("mcu").Set(float64(m.MCUMillivolts))
	e.rail.WithLabelValues("pogo").Set(float64(m.PogoPinMillivolts))
	e.rail.WithLabelValues("battery").Set(float64(m.BatteryMillivolts))
	e.rail.WithLabelValues("full").Set(float64(m.FullMillivolts))
	e.rail.WithLabelValues("empty").Set(float64(m.EmptyMillivolts))

	e.runtime.WithLabelValues("total").Set(m.RuntimeTotal.Seconds())
	e.runtime.WithLabelValues("current").Set(m.RuntimeCurrent.Seconds())
	e.runtime.WithLabelValues("charging").Set(m.ChargingTime.Seconds())

	e.countdown.WithLabelValues("shutdown").Set(m.ShutdownCountdown.Seconds())
	e.countdown.WithLabelValues("restart").Set(m.RestartCountdown.Seconds())

	e.temperature.Set(float64(m.Temperature))
	e.period.Set(m.SamplePeriod.Seconds())
	e.status.Set(float64(m.PowerStatus))
	e.version.Set(float64(m.Version))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
