package metrics

import "codeberg.org/mutker/upsplusd/internal/errors"

// Codes shared with the rest of the daemon.
const (
	ErrInvalidConfig     = errors.ErrInvalidConfig
	ErrStorageInit       = errors.ErrInitMetrics
	ErrStorageClose      = errors.ErrCloseMetrics
	ErrMetricsCollection = errors.ErrCollectMetrics
	ErrOperationTimeout  = errors.ErrTimeout
)

// Storage-local codes.
const (
	ErrInvalidDBPath          errors.ErrorCode = "metrics_invalid_db_path"
	ErrInvalidMetrics         errors.ErrorCode = "metrics_invalid_snapshot"
	ErrSchemaInitFailed       errors.ErrorCode = "metrics_schema_init_failed"
	ErrSchemaValidationFailed errors.ErrorCode = "metrics_schema_validation_failed"
	ErrSchemaMigrationFailed  errors.ErrorCode = "metrics_schema_migration_failed"
	ErrTransactionFailed      errors.ErrorCode = "metrics_transaction_failed"
)
