package monitor

import (
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/upsplusd/internal/power"
	"codeberg.org/mutker/upsplusd/internal/sensor"
	"codeberg.org/mutker/upsplusd/internal/supervisor"
)

var separator = strings.Repeat("-", 60)

func printSupply(w io.Writer, m sensor.Measurement) {
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "------Current information of the detected Raspberry Pi------")
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Raspberry Pi Supply Voltage: %.3f V\n", m.Voltage)

	if !m.InRange {
		fmt.Fprintln(w, "Raspberry Pi supply current is out of sensor range.")
		fmt.Fprintln(w, separator)
		return
	}

	fmt.Fprintf(w, "Raspberry Pi Current Consumption: %.3f mA\n", m.Current)
	fmt.Fprintf(w, "Raspberry Pi Power Consumption: %.3f mW\n", m.Power)
	fmt.Fprintln(w, separator)
}

func printBattery(w io.Writer, m sensor.Measurement) {
	fmt.Fprintln(w, "-------------------Batteries information-------------------")
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Voltage of Batteries: %.3f V\n", m.Voltage)

	switch {
	case !m.InRange:
		fmt.Fprintln(w, separator)
		fmt.Fprintln(w, "Battery power is too high.")
	case m.Charging():
		fmt.Fprintf(w, "Battery Current (Charging) Rate: %.3f mA\n", m.Current)
		fmt.Fprintf(w, "Current Battery Power Supplement: %.3f mW\n", m.Power)
		fmt.Fprintln(w, separator)
	default:
		fmt.Fprintf(w, "Battery Current (discharge) Rate: %.3f mA\n", m.Current)
		fmt.Fprintf(w, "Current Battery Power Consumption: %.3f mW\n", m.Power)
		fmt.Fprintln(w, separator)
	}
}

func printSupervisor(w io.Writer, b supervisor.RegisterBlock) {
	fmt.Fprintln(w, "-------------------UPS Plus information---------------------")
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "MCU Voltage: %d mV\n", b.MCUMillivolts())
	fmt.Fprintf(w, "Pogo Pin Voltage: %d mV\n", b.PogoPinMillivolts())
	fmt.Fprintf(w, "Battery Voltage (UPS): %d mV\n", b.BatteryMillivolts())
	fmt.Fprintf(w, "Type C Input Voltage: %d mV\n", b.TypeCMillivolts())
	fmt.Fprintf(w, "Micro USB Input Voltage: %d mV\n", b.MicroUSBMillivolts())
	fmt.Fprintf(w, "Battery Temperature: %d C\n", b.Temperature())
	fmt.Fprintf(w, "Battery Capacity: %d%%\n", b.Capacity())
	fmt.Fprintf(w, "Full / Empty Voltage: %d / %d mV\n", b.FullMillivolts(), b.EmptyMillivolts())
	fmt.Fprintf(w, "Sample Period: %s\n", b.SamplePeriod())
	fmt.Fprintf(w, "Running Time: %s total, %s current, %s charging\n",
		b.RuntimeTotal(), b.RuntimeCurrent(), b.ChargingTime())
	fmt.Fprintf(w, "Power Status: %d, Back to AC: %t\n", b.PowerStatus(), b.BackToAC())
	fmt.Fprintf(w, "Shutdown Countdown: %s, Restart Countdown: %s\n",
		b.ShutdownCountdown(), b.RestartCountdown())
	fmt.Fprintf(w, "Firmware Version: %d\n", b.Version())
	fmt.Fprintln(w, separator)
}

func printProtection(w io.Writer, cfg supervisor.ProtectionConfig) {
	fmt.Fprintf(w, "Successfully set the protection voltage to: %d mV\n", cfg.ProtectMillivolts)
}

func printCharge(w io.Writer, c power.ChargeState) {
	fmt.Fprintln(w, separator)

	switch c {
	case power.ChargeTypeC:
		fmt.Fprintln(w, "Currently charging via Type C Port.")
	case power.ChargeMicroUSB:
		fmt.Fprintln(w, "Currently charging via Micro USB Port.")
	default:
		fmt.Fprintln(w, "Currently not charging.")
	}
}

func printShutdownImminent(w io.Writer) {
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "The battery is going to dead! Ready to shut down!")
}

func printDryRun(w io.Writer) {
	fmt.Fprintln(w, "Would initiate shutdown")
}

func printAborted(w io.Writer, s State, err error) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Cycle aborted in %s: %v\n", s, err)
}
