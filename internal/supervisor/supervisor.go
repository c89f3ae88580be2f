// Package supervisor talks to the UPS microcontroller over I2C.
package supervisor

import (
	"encoding/binary"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"
)

// ProtectionConfig is written to the supervisor on every cycle.
type ProtectionConfig struct {
	ProtectMillivolts uint16
	BackToAC          bool
}

// Link issues single-register transactions to the supervisor. It never
// retries; every failure is returned as a bus transaction error.
type Link struct {
	regs mmr.Dev8
}

func New(bus i2c.Bus) *Link {
	return NewAt(bus, Address)
}

func NewAt(bus i2c.Bus, addr uint16) *Link {
	return &Link{
		regs: mmr.Dev8{
			Conn:  &i2c.Dev{Bus: bus, Addr: addr},
			Order: binary.LittleEndian,
		},
	}
}

func (l *Link) ReadRegister(reg uint8) (uint8, error) {
	v, err := l.regs.ReadUint8(reg)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrBusTransaction, err).WithData(registerOp{"read", reg})
	}

	return v, nil
}

func (l *Link) WriteRegister(reg, value uint8) error {
	if err := l.regs.WriteUint8(reg, value); err != nil {
		return errors.New().Wrap(errors.ErrBusTransaction, err).WithData(registerOp{"write", reg})
	}

	return nil
}

// ReadBlock reads registers 1 through BlockSize-1. A failure on any
// register fails the whole block.
func (l *Link) ReadBlock() (RegisterBlock, error) {
	buf := make([]byte, 1, BlockSize)

	for reg := 1; reg < BlockSize; reg++ {
		v, err := l.ReadRegister(uint8(reg))
		if err != nil {
			return RegisterBlock{}, err
		}
		buf = append(buf, v)
	}

	return FromBytes(buf)
}

// ApplyProtection writes the back-to-AC flag, then the protection voltage
// low byte, then the high byte.
//
// The two voltage bytes are separate transactions. The supervisor may
// sample the register pair between them and see a mixed value; whether it
// tolerates that is unknown.
func (l *Link) ApplyProtection(cfg ProtectionConfig) error {
	var backToAC uint8
	if cfg.BackToAC {
		backToAC = 1
	}

	if err := l.WriteRegister(RegBackToAC, backToAC); err != nil {
		return err
	}

	if err := l.WriteRegister(RegProtectLow, uint8(cfg.ProtectMillivolts&0xFF)); err != nil {
		return err
	}

	return l.WriteRegister(RegProtectHigh, uint8(cfg.ProtectMillivolts>>8))
}

// TriggerShutdown arms the supervisor's power cut. The supervisor counts
// down on its own from this point, regardless of host state.
func (l *Link) TriggerShutdown() error {
	return l.WriteRegister(RegShutdown, ShutdownArm)
}

type registerOp struct {
	Op       string
	Register uint8
}
