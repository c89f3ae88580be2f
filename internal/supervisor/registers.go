package supervisor

import (
	"encoding/binary"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
)

// Address is the supervisor's 7-bit I2C address.
const Address uint16 = 0x17

// BlockSize is the length of a RegisterBlock. Index 0 is never read.
const BlockSize = 254

// Register map. Multi-byte values are little-endian, low byte first.
const (
	RegMCUVoltage      uint8 = 1
	RegPogoPinVoltage  uint8 = 3
	RegBatteryVoltage  uint8 = 5
	RegTypeCVoltage    uint8 = 7
	RegMicroUSBVoltage uint8 = 9
	RegTemperature     uint8 = 11
	RegFullVoltage     uint8 = 13
	RegEmptyVoltage    uint8 = 15
	RegProtectLow      uint8 = 17
	RegProtectHigh     uint8 = 18
	RegCapacity        uint8 = 19
	RegSamplePeriod    uint8 = 21
	RegPowerStatus     uint8 = 23
	RegShutdown        uint8 = 24
	RegBackToAC        uint8 = 25
	RegRestart         uint8 = 26
	RegRuntimeTotal    uint8 = 28
	RegChargingTime    uint8 = 32
	RegRuntimeCurrent  uint8 = 36
	RegVersion         uint8 = 40
)

// ShutdownArm written to RegShutdown starts the supervisor's power-cut countdown.
const ShutdownArm uint8 = 240

// RegisterBlock is a snapshot of supervisor registers indexed by register
// number.
type RegisterBlock [BlockSize]byte

// FromBytes validates a raw block read.
func FromBytes(b []byte) (RegisterBlock, error) {
	var block RegisterBlock

	if len(b) != BlockSize {
		return block, errors.New().WithData(errors.ErrBusTransaction, struct {
			Phase string
			Got   int
			Want  int
		}{
			Phase: "block_length",
			Got:   len(b),
			Want:  BlockSize,
		})
	}

	copy(block[:], b)
	block[0] = 0

	return block, nil
}

// Uint16 returns the little-endian value at reg, reg+1.
func (b RegisterBlock) Uint16(reg uint8) uint16 {
	return binary.LittleEndian.Uint16(b[reg : reg+2])
}

// Uint32 returns the little-endian value at reg..reg+3.
func (b RegisterBlock) Uint32(reg uint8) uint32 {
	return binary.LittleEndian.Uint32(b[reg : reg+4])
}

func (b RegisterBlock) TypeCMillivolts() uint16 { return b.Uint16(RegTypeCVoltage) }

func (b RegisterBlock) MicroUSBMillivolts() uint16 { return b.Uint16(RegMicroUSBVoltage) }

func (b RegisterBlock) ProtectMillivolts() uint16 { return b.Uint16(RegProtectLow) }

func (b RegisterBlock) MCUMillivolts() uint16 { return b.Uint16(RegMCUVoltage) }

func (b RegisterBlock) PogoPinMillivolts() uint16 { return b.Uint16(RegPogoPinVoltage) }

func (b RegisterBlock) BatteryMillivolts() uint16 { return b.Uint16(RegBatteryVoltage) }

// Temperature is the battery temperature in °C.
func (b RegisterBlock) Temperature() uint16 { return b.Uint16(RegTemperature) }

func (b RegisterBlock) FullMillivolts() uint16 { return b.Uint16(RegFullVoltage) }

func (b RegisterBlock) EmptyMillivolts() uint16 { return b.Uint16(RegEmptyVoltage) }

// Capacity is the remaining battery capacity in percent.
func (b RegisterBlock) Capacity() uint16 { return b.Uint16(RegCapacity) }

// SamplePeriod is the supervisor's own sampling period.
func (b RegisterBlock) SamplePeriod() time.Duration {
	return time.Duration(b.Uint16(RegSamplePeriod)) * time.Minute
}

// PowerStatus is the raw power status byte.
func (b RegisterBlock) PowerStatus() uint8 { return b[RegPowerStatus] }

// ShutdownCountdown is the remaining time before an armed power cut.
func (b RegisterBlock) ShutdownCountdown() time.Duration {
	return time.Duration(b[RegShutdown]) * time.Second
}

// RestartCountdown is the remaining time before the supervisor restores power.
func (b RegisterBlock) RestartCountdown() time.Duration {
	return time.Duration(b[RegRestart]) * time.Second
}

func (b RegisterBlock) BackToAC() bool { return b[RegBackToAC] == 1 }

func (b RegisterBlock) RuntimeTotal() time.Duration {
	return time.Duration(b.Uint32(RegRuntimeTotal)) * time.Second
}

func (b RegisterBlock) ChargingTime() time.Duration {
	return time.Duration(b.Uint32(RegChargingTime)) * time.Second
}

func (b RegisterBlock) RuntimeCurrent() time.Duration {
	return time.Duration(b.Uint32(RegRuntimeCurrent)) * time.Second
}

func (b RegisterBlock) Version() uint16 { return b.Uint16(RegVersion) }
