// Package sensor reads INA219 current-sense monitors.
package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Measurement is a single sample. Current and Power are only meaningful
// when InRange is true; Voltage is always valid.
type Measurement struct {
	Voltage float64 // V
	Current float64 // mA
	Power   float64 // mW
	InRange bool
}

// Charging reports whether current flows into the battery.
func (m Measurement) Charging() bool {
	return m.InRange && m.Current > 0
}

func (m Measurement) String() string {
	if !m.InRange {
		return fmt.Sprintf("%.3fV (current out of range)", m.Voltage)
	}

	return fmt.Sprintf("%.3fV %.3fmA %.3fmW", m.Voltage, m.Current, m.Power)
}

// Reader is a configured current-sense sensor.
type Reader interface {
	Name() string
	Configure() error
	Read() (Measurement, error)
}

// Options identify one sensor on the bus.
type Options struct {
	Name    string
	Address uint16
	Shunt   physic.ElectricResistance
	// MaxCurrent is the largest expected current. Zero uses the full
	// range the shunt allows.
	MaxCurrent physic.ElectricCurrent
}

func (o Options) shuntOhms() float64 {
	return float64(o.Shunt) / float64(physic.Ohm)
}

func (o Options) maxCurrentAmps() float64 {
	return float64(o.MaxCurrent) / float64(physic.Ampere)
}
