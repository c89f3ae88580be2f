package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/upsplusd/internal/config"
	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/exporter"
	"codeberg.org/mutker/upsplusd/internal/host"
	"codeberg.org/mutker/upsplusd/internal/logger"
	"codeberg.org/mutker/upsplusd/internal/metrics"
	"codeberg.org/mutker/upsplusd/internal/monitor"
	"codeberg.org/mutker/upsplusd/internal/pid"
	"codeberg.org/mutker/upsplusd/internal/pinmux"
	"codeberg.org/mutker/upsplusd/internal/sensor"
	"codeberg.org/mutker/upsplusd/internal/supervisor"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	periphhost "periph.io/x/host/v3"
)

const (
	supplyAddress  = 0x40
	batteryAddress = 0x45
)

var (
	supplyShunt  = 7250 * physic.MicroOhm
	batteryShunt = 5 * physic.MilliOhm
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(logger.Options{
		Level:     level,
		IsService: logger.IsService(),
		File:      cfg.LogFile,
	})
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	code := 0
	if err := run(cfg); err != nil {
		errCode, _ := errors.CodeOf(err)
		logger.Error().Err(err).Str("error_code", string(errCode)).Msg("error in main loop")
		code = 1
	}

	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")

	os.Exit(code)
}

func run(cfg *config.Config) error {
	errFactory := errors.New()

	if _, err := periphhost.Init(); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err).WithData("periph")
	}

	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err).WithData(cfg.Bus)
	}
	defer bus.Close()

	collector, err := metrics.NewService(metrics.Config{
		DBPath:    cfg.MetricsDB,
		Enabled:   cfg.Metrics,
		BatchSize: 1,
	}, logger.Default())
	if err != nil {
		return errFactory.Wrap(errors.ErrInitMetrics, err)
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close metrics")
		}
	}()

	m := newMonitor(cfg, bus, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	logger.Info().
		Str("bus", cfg.Bus).
		Int("protect_voltage", cfg.ProtectVoltage).
		Int("interval", cfg.Interval).
		Bool("dry_run", cfg.DryRun).
		Msg("UPS monitor started")

	runner := monitor.NewRunner(m, time.Duration(cfg.Interval)*time.Minute)
	if cfg.Once {
		return runner.RunOnce(ctx).Err
	}

	return runner.Run(ctx)
}

func newMonitor(cfg *config.Config, bus i2c.Bus, collector metrics.MetricsCollector) *monitor.Monitor {
	deps := monitor.Deps{
		Arbiter: pinmux.New(pinmux.CommandSetter{Command: cfg.PinCommand}, cfg.Pins),
		Supply: sensor.NewINA219(bus, sensor.Options{
			Name:    "supply",
			Address: supplyAddress,
			Shunt:   supplyShunt,
		}),
		Battery: sensor.NewINA219(bus, sensor.Options{
			Name:    "battery",
			Address: batteryAddress,
			Shunt:   batteryShunt,
		}),
		Supervisor: supervisor.New(bus),
		Host:       host.New(cfg.HaltCommand),
		Metrics:    collector,
	}

	// A nil *Exporter in the interface would not compare equal to nil.
	if exp := exporter.New(cfg.StatusFile); exp != nil {
		deps.Exporter = exp
	}

	return monitor.New(monitor.Config{
		Protection: supervisor.ProtectionConfig{
			ProtectMillivolts: uint16(cfg.ProtectVoltage),
			BackToAC:          cfg.BackToAC,
		},
		DryRun: cfg.DryRun,
	}, deps)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
