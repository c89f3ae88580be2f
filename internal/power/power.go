// Package power decides whether the host must shut down.
package power

import "codeberg.org/mutker/upsplusd/internal/supervisor"

const (
	// ChargeThresholdMillivolts is the input voltage above which a port is
	// considered to be supplying power.
	ChargeThresholdMillivolts = 4000
	// ShutdownMarginMillivolts keeps the host ahead of the supervisor's
	// hardware cut-off at the protection voltage.
	ShutdownMarginMillivolts = 200
)

type ChargeState int

const (
	ChargeNone ChargeState = iota
	ChargeTypeC
	ChargeMicroUSB
)

func (c ChargeState) String() string {
	switch c {
	case ChargeTypeC:
		return "type-c"
	case ChargeMicroUSB:
		return "micro-usb"
	default:
		return "none"
	}
}

// Charging reports whether any charging source is present.
func (c ChargeState) Charging() bool {
	return c != ChargeNone
}

type Verdict int

const (
	Continue Verdict = iota
	InitiateShutdown
)

func (v Verdict) String() string {
	if v == InitiateShutdown {
		return "shutdown"
	}

	return "continue"
}

// InferCharge picks the charging source from the supervisor's input
// voltages. Type-C wins when both ports are powered.
func InferCharge(block supervisor.RegisterBlock) ChargeState {
	return InferChargeFrom(block.TypeCMillivolts(), block.MicroUSBMillivolts())
}

func InferChargeFrom(typeCMillivolts, microUSBMillivolts uint16) ChargeState {
	switch {
	case typeCMillivolts > ChargeThresholdMillivolts:
		return ChargeTypeC
	case microUSBMillivolts > ChargeThresholdMillivolts:
		return ChargeMicroUSB
	default:
		return ChargeNone
	}
}

// Decide returns InitiateShutdown only when nothing is charging and the
// battery is below protectMillivolts plus the shutdown margin.
func Decide(batteryVolts float64, protectMillivolts uint16, state ChargeState) Verdict {
	if state.Charging() {
		return Continue
	}

	if batteryVolts*1000 < float64(protectMillivolts)+ShutdownMarginMillivolts {
		return InitiateShutdown
	}

	return Continue
}
