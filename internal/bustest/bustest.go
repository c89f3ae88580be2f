// Package bustest provides an in-memory I2C bus with register-file devices.
package bustest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var ErrNACK = errors.New("i2c: nack")

// Op is one recorded register write.
type Op struct {
	Addr  uint16
	Reg   uint8
	Value uint16
}

// Device is a register file. Width is the register size in bytes (1 or 2,
// big-endian for 2).
type Device struct {
	Width     int
	Regs      map[uint8]uint16
	FailRead  map[uint8]error
	FailWrite map[uint8]error
}

func NewDevice(width int) *Device {
	return &Device{
		Width:     width,
		Regs:      map[uint8]uint16{},
		FailRead:  map[uint8]error{},
		FailWrite: map[uint8]error{},
	}
}

// Bus implements i2c.Bus.
type Bus struct {
	mu      sync.Mutex
	devices map[uint16]*Device
	writes  []Op
	reads   int
}

var _ i2c.Bus = (*Bus)(nil)

func New() *Bus {
	return &Bus{devices: map[uint16]*Device{}}
}

// Attach puts dev on the bus at addr.
func (b *Bus) Attach(addr uint16, dev *Device) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.devices[addr] = dev

	return dev
}

// Writes returns every write seen so far, in order.
func (b *Bus) Writes() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Op(nil), b.writes...)
}

// Reads returns the number of register reads seen so far.
func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.reads
}

func (b *Bus) String() string {
	return "bustest"
}

func (b *Bus) SetSpeed(_ physic.Frequency) error {
	return nil
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, ok := b.devices[addr]
	if !ok {
		return fmt.Errorf("%w: no device at %#02x", ErrNACK, addr)
	}

	if len(w) == 0 {
		return fmt.Errorf("bustest: missing register address")
	}

	reg := w[0]

	if len(w) > 1 {
		if err := dev.FailWrite[reg]; err != nil {
			return err
		}

		var v uint16
		if dev.Width == 2 && len(w) >= 3 {
			v = binary.BigEndian.Uint16(w[1:3])
		} else {
			v = uint16(w[1])
		}
		dev.Regs[reg] = v
		b.writes = append(b.writes, Op{Addr: addr, Reg: reg, Value: v})
	}

	if len(r) > 0 {
		if err := dev.FailRead[reg]; err != nil {
			return err
		}
		b.reads++

		v := dev.Regs[reg]
		if dev.Width == 2 && len(r) >= 2 {
			binary.BigEndian.PutUint16(r, v)
		} else {
			r[0] = byte(v)
		}
	}

	return nil
}
