package sensor

import (
	"encoding/binary"
	"math"
	"sync"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/mmr"
)

const (
	regConfig      uint8 = 0x00
	regShunt       uint8 = 0x01
	regBus         uint8 = 0x02
	regPower       uint8 = 0x03
	regCurrent     uint8 = 0x04
	regCalibration uint8 = 0x05

	// 32V bus range, PGA /8 (320mV), 12-bit bus and shunt ADC,
	// shunt and bus continuous.
	configValue uint16 = 1<<13 | 0x3<<11 | 0x3<<7 | 0x3<<3 | 0x7

	shuntFullScale = 0.32 // V at PGA /8
	shuntLSB       = 10e-6
	busLSB         = 4e-3
	powerLSBFactor = 20
	calibrationK   = 0.04096
	maxRawCurrent  = math.MaxInt16

	overflowBit = 1 << 0
)

// INA219 is a Reader backed by an INA219 on an I2C bus.
type INA219 struct {
	opts       Options
	regs       mmr.Dev8
	currentLSB float64 // A per bit
	mu         sync.Mutex
}

var _ Reader = (*INA219)(nil)

func NewINA219(bus i2c.Bus, opts Options) *INA219 {
	return &INA219{
		opts: opts,
		regs: mmr.Dev8{
			Conn:  &i2c.Dev{Bus: bus, Addr: opts.Address},
			Order: binary.BigEndian,
		},
	}
}

func (s *INA219) Name() string {
	return s.opts.Name
}

// Configure writes the calibration and configuration registers.
func (s *INA219) Configure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()

	lsb, cal, err := calibration(s.opts)
	if err != nil {
		return err
	}

	if err := s.regs.WriteUint16(regCalibration, cal); err != nil {
		return errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regCalibration))
	}

	if err := s.regs.WriteUint16(regConfig, configValue); err != nil {
		return errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regConfig))
	}

	s.currentLSB = lsb

	return nil
}

// Read samples the sensor. ADC overflow is reported through
// Measurement.InRange, not as an error.
func (s *INA219) Read() (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errFactory := errors.New()

	if s.currentLSB == 0 {
		return Measurement{}, errFactory.WithMessage(errors.ErrInvalidArgument, s.opts.Name+" sensor is not configured")
	}

	bus, err := s.regs.ReadUint16(regBus)
	if err != nil {
		return Measurement{}, errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regBus))
	}

	shunt, err := s.regs.ReadUint16(regShunt)
	if err != nil {
		return Measurement{}, errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regShunt))
	}

	m := Measurement{
		Voltage: float64(bus>>3) * busLSB,
	}

	if bus&overflowBit != 0 || math.Abs(float64(int16(shunt))*shuntLSB) >= shuntFullScale {
		return m, nil
	}

	current, err := s.regs.ReadUint16(regCurrent)
	if err != nil {
		return Measurement{}, errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regCurrent))
	}

	power, err := s.regs.ReadUint16(regPower)
	if err != nil {
		return Measurement{}, errFactory.Wrap(errors.ErrBusTransaction, err).WithData(s.where(regPower))
	}

	m.Current = float64(int16(current)) * s.currentLSB * 1000
	m.Power = float64(power) * s.currentLSB * powerLSBFactor * 1000
	m.InRange = true

	return m, nil
}

type location struct {
	Sensor   string
	Address  uint16
	Register uint8
}

func (s *INA219) where(reg uint8) location {
	return location{Sensor: s.opts.Name, Address: s.opts.Address, Register: reg}
}

// calibration returns the current LSB in amps and the calibration register
// value for the given shunt.
func calibration(opts Options) (float64, uint16, error) {
	errFactory := errors.New()

	shunt := opts.shuntOhms()
	if shunt <= 0 {
		return 0, 0, errFactory.WithData(errors.ErrInvalidArgument, opts.Shunt.String())
	}

	maxCurrent := shuntFullScale / shunt
	if expected := opts.maxCurrentAmps(); expected > 0 && expected < maxCurrent {
		maxCurrent = expected
	}

	cal := math.Trunc(calibrationK / (maxCurrent / maxRawCurrent * shunt))
	if cal < 2 || cal > math.MaxUint16 {
		return 0, 0, errFactory.WithData(errors.ErrInvalidArgument, opts.MaxCurrent.String())
	}

	// Bit 0 of the calibration register is not used.
	reg := uint16(cal) &^ 1

	return calibrationK / (float64(reg) * shunt), reg, nil
}
