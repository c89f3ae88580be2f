package exporter_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/upsplusd/internal/exporter"
	"codeberg.org/mutker/upsplusd/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilExporter(t *testing.T) {
	e := exporter.New("")
	assert.Nil(t, e)
	assert.NoError(t, e.Export(&metrics.CycleSnapshot{}))
}

func TestExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upsplus.prom")
	e := exporter.New(path)

	snap := &metrics.CycleSnapshot{
		Timestamp: time.Unix(1760000000, 0),
		Supply:    metrics.SensorMetrics{Voltage: 5.1, Current: 800, Power: 4080, InRange: true},
		Battery:   metrics.SensorMetrics{Voltage: 3.95, Current: 120, Power: 474, InRange: true},
		Supervisor: metrics.SupervisorMetrics{
			TypeCMillivolts:   5100,
			ProtectMillivolts: 3700,
			Capacity:          64,
			Temperature:       28,
			MCUMillivolts:     3320,
			RuntimeTotal:      time.Hour,
			ShutdownCountdown: 30 * time.Second,
			SamplePeriod:      2 * time.Minute,
			Version:           10,
		},
		State: metrics.StateMetrics{Charge: "type-c", Verdict: "continue"},
	}
	require.NoError(t, e.Export(snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `upsplus_sensor_voltage_volts{sensor="battery"} 3.95`)
	assert.Contains(t, text, `upsplus_input_millivolts{port="type-c"} 5100`)
	assert.Contains(t, text, "upsplus_protect_millivolts 3700")
	assert.Contains(t, text, "upsplus_charging 1")
	assert.Contains(t, text, "upsplus_shutdown_initiated 0")
	assert.Contains(t, text, `upsplus_sensor_current_milliamps{sensor="battery"} 120`)
	assert.Contains(t, text, `upsplus_rail_millivolts{rail="mcu"} 3320`)
	assert.Contains(t, text, `upsplus_runtime_seconds{kind="total"} 3600`)
	assert.Contains(t, text, `upsplus_countdown_seconds{action="shutdown"} 30`)
	assert.Contains(t, text, "upsplus_battery_temperature_celsius 28")
	assert.Contains(t, text, "upsplus_sample_period_seconds 120")
	assert.Contains(t, text, "upsplus_firmware_version 10")

	snap.Battery = metrics.SensorMetrics{Voltage: 3.8}
	snap.State = metrics.StateMetrics{Charge: "none", Verdict: "shutdown"}
	require.NoError(t, e.Export(snap))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	text = string(data)

	assert.NotContains(t, text, `upsplus_sensor_current_milliamps{sensor="battery"}`)
	assert.Contains(t, text, `upsplus_sensor_in_range{sensor="battery"} 0`)
	assert.Contains(t, text, "upsplus_shutdown_initiated 1")
}
