package metrics

import "codeberg.org/mutker/upsplusd/internal/errors"

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/upsplusd/metrics.db"
	backupDirName  = "backups"
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize is the number of snapshots buffered before a write. One
	// writes every snapshot as it arrives.
	BatchSize int
	// BatchTimeout flushes a partial batch after this many seconds. Zero
	// disables the background flusher.
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		DBPath:    defaultDBPath,
		Enabled:   false, // Disabled by default
		BatchSize: 1,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}

	if c.BatchSize < 1 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, c)
	}

	return nil
}
