package power_test

import (
	"testing"

	"codeberg.org/mutker/upsplusd/internal/power"
	"codeberg.org/mutker/upsplusd/internal/supervisor"
	"github.com/stretchr/testify/assert"
)

func TestInferCharge(t *testing.T) {
	tests := []struct {
		name     string
		typeC    uint16
		microUSB uint16
		want     power.ChargeState
	}{
		{"type-c", 4500, 0, power.ChargeTypeC},
		{"micro-usb", 0, 4500, power.ChargeMicroUSB},
		{"none", 0, 0, power.ChargeNone},
		{"both prefers type-c", 4500, 4500, power.ChargeTypeC},
		{"threshold is exclusive", 4000, 4000, power.ChargeNone},
		{"just above threshold", 4001, 0, power.ChargeTypeC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, power.InferChargeFrom(tt.typeC, tt.microUSB))
		})
	}
}

func TestInferChargeFromBlock(t *testing.T) {
	var block supervisor.RegisterBlock
	block[9], block[10] = 0x94, 0x11 // 4500 mV

	assert.Equal(t, power.ChargeMicroUSB, power.InferCharge(block))

	block[7], block[8] = 0x94, 0x11
	assert.Equal(t, power.ChargeTypeC, power.InferCharge(block))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		volts   float64
		protect uint16
		state   power.ChargeState
		want    power.Verdict
	}{
		{"below margin", 3.85, 3700, power.ChargeNone, power.InitiateShutdown},
		{"at margin continues", 3.9, 3700, power.ChargeNone, power.Continue},
		{"above margin", 4.1, 3700, power.ChargeNone, power.Continue},
		{"below protect", 3.5, 3700, power.ChargeNone, power.InitiateShutdown},
		{"empty battery on type-c", 0, 3700, power.ChargeTypeC, power.Continue},
		{"low battery on micro-usb", 3.6, 3700, power.ChargeMicroUSB, power.Continue},
		{"lower threshold", 3.6, 3300, power.ChargeNone, power.Continue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, power.Decide(tt.volts, tt.protect, tt.state))
		})
	}
}

func TestDecideBoundarySweep(t *testing.T) {
	for protect := uint16(3000); protect <= 4200; protect += 100 {
		boundary := float64(protect) + power.ShutdownMarginMillivolts

		for mv := boundary - 50; mv <= boundary+50; mv++ {
			got := power.Decide(mv/1000, protect, power.ChargeNone)

			want := power.Continue
			if (mv/1000)*1000 < boundary {
				want = power.InitiateShutdown
			}
			assert.Equal(t, want, got, "protect=%d mv=%.0f", protect, mv)

			assert.Equal(t, power.Continue, power.Decide(mv/1000, protect, power.ChargeTypeC))
		}
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "type-c", power.ChargeTypeC.String())
	assert.Equal(t, "micro-usb", power.ChargeMicroUSB.String())
	assert.Equal(t, "none", power.ChargeNone.String())
	assert.Equal(t, "shutdown", power.InitiateShutdown.String())
	assert.Equal(t, "continue", power.Continue.String())
}
