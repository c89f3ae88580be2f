package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidProtect  ErrorCode = "invalid_protect_voltage"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Hardware errors
	ErrBusTransaction ErrorCode = "bus_transaction_failed"
	ErrSensorRange    ErrorCode = "sensor_range_exceeded"
	ErrPinControl     ErrorCode = "pin_control_failed"

	// Application errors
	ErrMainLoop    ErrorCode = "main_loop_failed"
	ErrCycleFailed ErrorCode = "monitor_cycle_failed"
	ErrHostHalt    ErrorCode = "host_halt_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"
	ErrExportStatus   ErrorCode = "export_status_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrInvalidConfig:   "Invalid configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrReadConfig:      "Failed to read config file",
	ErrInvalidInterval: "Invalid interval value",
	ErrInvalidProtect:  "Invalid protection voltage",
	ErrInvalidLogLevel: "Invalid log level",
	ErrInitFailed:      "Initialization failed",
	ErrShutdownFailed:  "Shutdown failed",
	ErrBusTransaction:  "I2C bus transaction failed",
	ErrSensorRange:     "Sensor measurement out of range",
	ErrPinControl:      "Failed to set pin state",
	ErrMainLoop:        "Error in main loop",
	ErrCycleFailed:     "Monitor cycle failed",
	ErrHostHalt:        "Failed to halt host",
	ErrTimeout:         "Operation timed out",
	ErrInitMetrics:     "Failed to initialize metrics",
	ErrCollectMetrics:  "Failed to collect metrics data",
	ErrCloseMetrics:    "Failed to close metrics connection",
	ErrExportStatus:    "Failed to export status",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
