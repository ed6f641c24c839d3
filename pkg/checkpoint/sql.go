package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	cloudsqlmysql "cloud.google.com/go/cloudsqlconn/mysql/mysql"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"epmcquery/pkg/auth"
	"epmcquery/pkg/config"
	"epmcquery/pkg/logger"
)

// SQLStore keeps the history in a database table
type SQLStore struct {
	db     *sql.DB
	table  string
	driver string
	logger logger.Logger
}

var (
	registerCloudSQL sync.Once
	cloudSQLErr      error
)

// ensureCloudSQLDriver registers the Cloud SQL connector under the
// cloudsql-mysql driver name once per process.
func ensureCloudSQLDriver() error {
	registerCloudSQL.Do(func() {
		// The cleanup func closes the dialer; the driver lives for the process.
		_, cloudSQLErr = cloudsqlmysql.RegisterDriver(config.DriverCloudSQL)
	})
	return cloudSQLErr
}

// DSN builds the data source name for cfg
func DSN(cfg *config.DatabaseConfig, creds *auth.Credentials) (string, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.Path == "" {
			return "", fmt.Errorf("sqlite3 needs database.path")
		}
		return "file:" + cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL", nil

	case config.DriverMySQL, config.DriverCloudSQL:
		if cfg.Name == "" {
			return "", fmt.Errorf("%s needs a database name", cfg.Driver)
		}
		mc := mysql.NewConfig()
		if creds != nil {
			mc.User = creds.User
			mc.Passwd = creds.Password
		}
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Loc = time.UTC
		if cfg.Driver == config.DriverCloudSQL {
			if cfg.Instance == "" {
				return "", fmt.Errorf("cloudsql-mysql needs an instance connection name")
			}
			mc.Net = config.DriverCloudSQL
			mc.Addr = cfg.Instance
		} else {
			mc.Net = "tcp"
			mc.Addr = cfg.Address
			if mc.Addr == "" {
				mc.Addr = "127.0.0.1:3306"
			}
		}
		return mc.FormatDSN(), nil
	}
	return "", fmt.Errorf("unsupported SQL driver %q", cfg.Driver)
}

// OpenSQL connects, pings and makes sure the checkpoint table exists
func OpenSQL(ctx context.Context, cfg *config.DatabaseConfig, creds *auth.Credentials, log logger.Logger) (*SQLStore, error) {
	table := cfg.Table
	if table == "" {
		table = config.DefaultTable
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}

	dsn, err := DSN(cfg, creds)
	if err != nil {
		return nil, err
	}

	// RegisterDriver adds both a database/sql driver and a mysql dial
	// network under the same name, which the DSN refers to.
	if cfg.Driver == config.DriverCloudSQL {
		if err := ensureCloudSQLDriver(); err != nil {
			return nil, fmt.Errorf("failed to register Cloud SQL connector: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == config.DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	s := &SQLStore{db: db, table: table, driver: cfg.Driver, logger: log}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.InfoWithFields("checkpoint store ready", map[string]interface{}{
		"driver": cfg.Driver,
		"table":  table,
	})
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case config.DriverSQLite:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cursor_mark TEXT NOT NULL,
	cursor_id INTEGER NOT NULL,
	time TIMESTAMP NOT NULL
)`, s.table)
	default:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cursor_mark VARCHAR(2048) NOT NULL,
	cursor_id INT NOT NULL,
	time DATETIME(6) NOT NULL,
	INDEX idx_%s_time (time)
)`, s.table, s.table)
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create checkpoint table %s: %w", s.table, err)
	}
	return nil
}

// Latest returns the newest row, ties broken by cursor_id
func (s *SQLStore) Latest(ctx context.Context) (*Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT cursor_mark, cursor_id, time FROM %s ORDER BY time DESC, cursor_id DESC LIMIT 1", s.table)

	var cp Checkpoint
	err := s.db.QueryRowContext(ctx, query).Scan(&cp.Cursor, &cp.Sequence, &cp.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}
	cp.Time = cp.Time.UTC()
	return &cp, nil
}

// Append inserts one row. The cursor is always bound as a parameter.
func (s *SQLStore) Append(ctx context.Context, cursor string, sequence int) error {
	stmt := fmt.Sprintf("INSERT INTO %s (cursor_mark, cursor_id, time) VALUES (?, ?, ?)", s.table)

	if _, err := s.db.ExecContext(ctx, stmt, cursor, sequence, now()); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	s.logger.DebugWithFields("checkpoint appended", map[string]interface{}{
		"sequence": sequence,
		"cursor":   cursor,
	})
	return nil
}

func (s *SQLStore) History(ctx context.Context, limit int) ([]Checkpoint, error) {
	query := fmt.Sprintf(
		"SELECT cursor_mark, cursor_id, time FROM %s ORDER BY time DESC, cursor_id DESC", s.table)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint history: %w", err)
	}
	defer rows.Close()

	var history []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Cursor, &cp.Sequence, &cp.Time); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.Time = cp.Time.UTC()
		history = append(history, cp)
	}
	return history, rows.Err()
}

// Close releases the connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}
