package metrics

import (
	"database/sql"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
)

// SchemaVersion is bumped whenever the cycles table changes shape. Older
// databases are backed up and recreated, never migrated in place.
const SchemaVersion = 2

const cyclesTableSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp            INTEGER NOT NULL,
    supply_voltage       REAL NOT NULL,
    supply_current       REAL,
    supply_power         REAL,
    battery_voltage      REAL NOT NULL,
    battery_current      REAL,
    battery_power        REAL,
    typec_millivolts     INTEGER NOT NULL,
    microusb_millivolts  INTEGER NOT NULL,
    protect_millivolts   INTEGER NOT NULL,
    capacity             INTEGER NOT NULL,
    temperature          INTEGER NOT NULL,
    mcu_millivolts       INTEGER NOT NULL DEFAULT 0,
    pogo_millivolts      INTEGER NOT NULL DEFAULT 0,
    cell_millivolts      INTEGER NOT NULL DEFAULT 0,
    full_millivolts      INTEGER NOT NULL DEFAULT 0,
    empty_millivolts     INTEGER NOT NULL DEFAULT 0,
    runtime_total_s      INTEGER NOT NULL DEFAULT 0,
    runtime_current_s    INTEGER NOT NULL DEFAULT 0,
    charging_time_s      INTEGER NOT NULL DEFAULT 0,
    firmware_version     INTEGER NOT NULL DEFAULT 0,
    charge_state         TEXT NOT NULL CHECK (charge_state IN ('none', 'type-c', 'micro-usb')),
    verdict              TEXT NOT NULL CHECK (verdict IN ('continue', 'shutdown')),
    dry_run              INTEGER NOT NULL CHECK (dry_run IN (0, 1))
);
CREATE INDEX IF NOT EXISTS cycles_timestamp ON cycles (timestamp);`

const insertCycleSQL = `
INSERT INTO cycles (
    timestamp,
    supply_voltage, supply_current, supply_power,
    battery_voltage, battery_current, battery_power,
    typec_millivolts, microusb_millivolts, protect_millivolts,
    capacity, temperature,
    mcu_millivolts, pogo_millivolts, cell_millivolts,
    full_millivolts, empty_millivolts,
    runtime_total_s, runtime_current_s, charging_time_s,
    firmware_version,
    charge_state, verdict, dry_run
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// stage names the step of a schema operation that failed.
type stage struct {
	Phase string
	Name  string
}

func stageErr(code errors.ErrorCode, phase, name string, err error) error {
	return errors.New().Wrap(code, err).WithData(stage{Phase: phase, Name: name})
}

// withTx runs fn in a transaction and rolls back unless fn and the commit
// both succeed.
func withTx(db *sql.DB, log logger.Logger, code errors.ErrorCode, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return stageErr(code, "begin", "", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return stageErr(code, "commit", "", err)
	}

	return nil
}

// InitSchema creates the tables and records SchemaVersion.
func InitSchema(db *sql.DB, log logger.Logger) error {
	err := withTx(db, log, ErrSchemaInitFailed, func(tx *sql.Tx) error {
		if _, err := tx.Exec(cyclesTableSQL); err != nil {
			return stageErr(ErrSchemaInitFailed, "create_tables", "cycles", err)
		}

		_, err := tx.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
			SchemaVersion)
		if err != nil {
			return stageErr(ErrSchemaInitFailed, "record_version", "schema_versions", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("Metrics schema initialized")

	return nil
}

// GetSchemaVersion returns the newest recorded version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	err = db.QueryRow(`SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, stageErr(ErrSchemaValidationFailed, "get_version", "schema_versions", err)
	}

	return version, nil
}

func TableExists(db *sql.DB, name string) (bool, error) {
	var exists bool

	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`,
		name).Scan(&exists)
	if err != nil {
		return false, stageErr(ErrSchemaValidationFailed, "table_exists", name, err)
	}

	return exists, nil
}
