// Package pinmux switches the GPIO lines shared with the I2C controller
// between bus mode and high-impedance input.
package pinmux

import (
	"context"
	"os/exec"
	"strconv"
	"sync"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
)

// Pin states understood by raspi-gpio.
const (
	StateAlt0  = "a0"
	StateInput = "ip"
)

// PinSetter changes the function of a single GPIO line.
type PinSetter interface {
	SetPin(ctx context.Context, pin int, state string) error
}

// CommandSetter sets pin state through an external pin-control command,
// invoked as "<command> set <pin> <state>".
type CommandSetter struct {
	Command string
}

func (s CommandSetter) SetPin(ctx context.Context, pin int, state string) error {
	out, err := exec.CommandContext(ctx, s.Command, "set", strconv.Itoa(pin), state).CombinedOutput()
	if err != nil {
		return errors.New().Wrap(errors.ErrPinControl, err).WithData(string(out))
	}

	return nil
}

// Arbiter brackets bus transactions by unblocking a fixed set of pins.
type Arbiter struct {
	setter PinSetter
	pins   []int
}

func New(setter PinSetter, pins []int) *Arbiter {
	return &Arbiter{
		setter: setter,
		pins:   append([]int(nil), pins...),
	}
}

// Guard holds pins in bus mode until Release is called.
type Guard struct {
	a    *Arbiter
	ctx  context.Context
	once sync.Once
}

// Unblock switches every pin to bus mode. Pin failures are logged only.
func (a *Arbiter) Unblock(ctx context.Context) *Guard {
	a.setAll(ctx, StateAlt0)

	return &Guard{a: a, ctx: context.WithoutCancel(ctx)}
}

// Release returns every pin to input. Safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.a.setAll(g.ctx, StateInput)
	})
}

// With runs fn with the pins unblocked and releases them on every return path.
func (a *Arbiter) With(ctx context.Context, fn func() error) error {
	g := a.Unblock(ctx)
	defer g.Release()

	return fn()
}

func (a *Arbiter) setAll(ctx context.Context, state string) {
	for _, pin := range a.pins {
		if err := a.setter.SetPin(ctx, pin, state); err != nil {
			logger.Warn().
				Err(err).
				Int("pin", pin).
				Str("state", state).
				Msg("Failed to set pin state")
		}
	}
}
