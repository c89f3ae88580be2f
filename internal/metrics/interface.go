package metrics

import (
	"context"
	"time"
)

// MetricsCollector defines the core domain interface
type MetricsCollector interface {
	Record(ctx context.Context, snapshot *CycleSnapshot) error
	Close() error
}

// MetricsRepository defines the interface for metrics data storage
type MetricsRepository interface {
	Record(snapshot *CycleSnapshot) error
	Close() error
}

// CycleSnapshot is one monitor cycle
type CycleSnapshot struct {
	Timestamp  time.Time
	Supply     SensorMetrics
	Battery    SensorMetrics
	Supervisor SupervisorMetrics
	State      StateMetrics
}

// Domain value objects
type SensorMetrics struct {
	Voltage float64
	Current float64
	Power   float64
	InRange bool
}

// SupervisorMetrics is the decoded register block. Durations are whole
// seconds as reported by the supervisor.
type SupervisorMetrics struct {
	TypeCMillivolts    int
	MicroUSBMillivolts int
	ProtectMillivolts  int
	Capacity           int
	Temperature        int
	MCUMillivolts      int
	PogoPinMillivolts  int
	BatteryMillivolts  int
	FullMillivolts     int
	EmptyMillivolts    int
	SamplePeriod       time.Duration
	PowerStatus        int
	ShutdownCountdown  time.Duration
	RestartCountdown   time.Duration
	RuntimeTotal       time.Duration
	RuntimeCurrent     time.Duration
	ChargingTime       time.Duration
	Version            int
}

type StateMetrics struct {
	Charge  string
	Verdict string
	DryRun  bool
}
