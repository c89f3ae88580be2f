package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/upsplusd/internal/errors"
	"codeberg.org/mutker/upsplusd/internal/logger"
)

var managedTables = []string{"cycles", "schema_versions"}

// ValidateAndUpdateSchema leaves a current database alone and recreates the
// tables otherwise. A database at another recorded version is backed up to
// backupDir first.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("Metrics schema is current")
		return nil
	}

	if version != 0 {
		log.Warn().
			Int("found", version).
			Int("want", SchemaVersion).
			Msg("Metrics schema version mismatch, recreating")

		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return errors.New().Wrap(ErrSchemaMigrationFailed, err).WithData("backup")
		}
	}

	err = withTx(db, log, ErrSchemaMigrationFailed, func(tx *sql.Tx) error {
		for _, table := range managedTables {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return stageErr(ErrSchemaMigrationFailed, "drop_table", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return InitSchema(db, log)
}

// backupDatabase copies db to backupDir with VACUUM INTO, which must run
// outside a transaction.
func backupDatabase(db *sql.DB, backupDir string, version int, log logger.Logger) (string, error) {
	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", stageErr(ErrSchemaMigrationFailed, "create_backup_dir", backupDir, err)
	}

	name := fmt.Sprintf("metrics_v%d_%s.db", version, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(backupDir, name)

	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", stageErr(ErrSchemaMigrationFailed, "vacuum_into", path, err)
	}

	log.Info().Str("path", path).Int("version", version).Msg("Metrics database backed up")

	return path, nil
}
