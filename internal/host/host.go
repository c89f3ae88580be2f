// Package host halts the machine the daemon runs on.
package host

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
	pshost "github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sys/unix"
)

// Host runs the halt sequence at most once per process.
type Host struct {
	command []string
	once    sync.Once
	err     error

	sync   func()
	run    func(ctx context.Context, name string, args ...string) ([]byte, error)
	uptime func(ctx context.Context) (uint64, error)
}

func New(command []string) *Host {
	return &Host{
		command: append([]string(nil), command...),
		sync:    unix.Sync,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
		uptime: pshost.UptimeWithContext,
	}
}

// Shutdown flushes filesystem buffers and runs the halt command. Calls
// after the first return the first call's result without acting again.
func (h *Host) Shutdown(ctx context.Context) error {
	ran := false

	h.once.Do(func() {
		ran = true
		h.err = h.halt(ctx)
	})

	if !ran {
		logger.Warn().Msg("Host shutdown already requested")
	}

	return h.err
}

func (h *Host) halt(ctx context.Context) error {
	errFactory := errors.New()

	if len(h.command) == 0 {
		return errFactory.WithMessage(errors.ErrHostHalt, "no halt command configured")
	}

	if up, err := h.uptime(ctx); err == nil {
		logger.Info().
			Dur("uptime", time.Duration(up)*time.Second).
			Strs("command", h.command).
			Msg("Halting host")
	}

	h.sync()

	out, err := h.run(ctx, h.command[0], h.command[1:]...)
	if err != nil {
		return errFactory.Wrap(errors.ErrHostHalt, err).WithData(string(out))
	}

	return nil
}
