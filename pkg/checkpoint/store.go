package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"epmcquery/pkg/auth"
	"epmcquery/pkg/config"
	errs "epmcquery/pkg/errors"
	"epmcquery/pkg/logger"
)

// Checkpoint is one row of the history
type Checkpoint struct {
	// Cursor continues the traversal; empty means start of sequence
	Cursor   string    `json:"cursor_mark"`
	Sequence int       `json:"cursor_id"`
	Time     time.Time `json:"time"`
}

// Store is an append-only checkpoint history
type Store interface {
	// Latest returns the most recent checkpoint, or nil when there is none
	Latest(ctx context.Context) (*Checkpoint, error)
	// Append durably records a new checkpoint
	Append(ctx context.Context, cursor string, sequence int) error
	// History returns up to limit checkpoints, newest first; limit <= 0 returns all
	History(ctx context.Context, limit int) ([]Checkpoint, error)
	Close() error
}

// ErrInvalidTable is returned for table names that are not plain identifiers
var ErrInvalidTable = errors.New("invalid checkpoint table name")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateTable checks that name can be interpolated into DDL safely
func ValidateTable(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return nil
}

// Open selects and opens the backend named by cfg.Driver. Network drivers
// need credentials; missing ones are reported as a configuration error.
func Open(ctx context.Context, cfg *config.DatabaseConfig, creds *auth.Credentials, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "checkpoint")

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverFile:
		if cfg.Path == "" {
			return nil, errs.NewConfigError("file checkpoint store needs database.path", nil)
		}
		store, err := NewFileStore(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		log.WithField("path", store.Path()).Debug("file checkpoint store opened")
		return store, nil
	case config.DriverSQLite, config.DriverMySQL, config.DriverCloudSQL:
		if cfg.IsNetworked() && (creds == nil || !creds.IsValid()) {
			return nil, errs.NewConfigError("database credentials are required for driver "+cfg.Driver, nil)
		}
		return OpenSQL(ctx, cfg, creds, log)
	default:
		return nil, errs.NewConfigError(fmt.Sprintf("unknown database driver %q", cfg.Driver), nil)
	}
}

// now is the clock used for new checkpoints. DATETIME(6) keeps microseconds.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
