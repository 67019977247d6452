package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"syncqueue/internal/config"
	"syncqueue/internal/models"

	_ "github.com/mattn/go-sqlite3" // cgo sqlite driver, registered as "sqlite3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go sqlite driver, registered as "sqlite"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
	ErrBadPredicate  = errors.New("unsupported predicate")
)

// DB is the persistent store backing the queue and the key/value flags.
type DB struct {
	*sql.DB
	path   string
	driver string
	logger zerolog.Logger
}

var tableColumns = map[string]map[string]bool{
	models.TableQueue: {
		"_id": true, "msg_id": true, "type": true, "priority": true, "item_count": true,
		"timestamp": true, "config": true, "request": true,
	},
	models.TableKV: {"key": true, "value": true},
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewDB(path, driver string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if driver == "" {
		driver = config.DriverCGO
	}
	dsn, err := buildDSN(path, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between drain and enqueue.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}
	l.Info().Str("path", path).Str("driver", driver).Msg("database initialized")

	return &DB{DB: db, path: path, driver: driver, logger: l}, nil
}

func buildDSN(path, driver string) (string, error) {
	switch driver {
	case config.DriverCGO:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path), nil
	case config.DriverPureGo:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

func createTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS network_queue (
            _id INTEGER PRIMARY KEY AUTOINCREMENT,
            msg_id TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL DEFAULT '',
            priority INTEGER NOT NULL DEFAULT 1,
            item_count INTEGER NOT NULL DEFAULT 0,
            timestamp INTEGER NOT NULL,
            config TEXT NOT NULL DEFAULT '',
            request TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_network_queue_priority ON network_queue(priority, _id)`,
		`CREATE TABLE IF NOT EXISTS no_sql (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS drain_lease (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            owner TEXT NOT NULL,
            expires_at INTEGER NOT NULL
        )`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

func validateColumns(table string, columns ...string) error {
	allowed, ok := tableColumns[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	for _, c := range columns {
		if !identPattern.MatchString(c) || !allowed[c] {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, c)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
