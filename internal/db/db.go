package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"hawker-score/internal/apperr"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

// DB wraps sqlx.DB with application-specific methods
type DB struct {
	*sqlx.DB
	driver string
}

// New opens a database for driver "sqlite" or "postgres" and runs migrations.
// For sqlite the dsn is a file path or ":memory:".
func New(driver, dsn string) (*DB, error) {
	var (
		conn *sqlx.DB
		err  error
	)

	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			// Ensure directory exists
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err = sqlx.Connect("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// A single connection keeps :memory: databases alive and serializes writers
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	case "postgres":
		conn, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		conn.SetMaxOpenConns(20)
		conn.SetMaxIdleConns(10)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	d := &DB{DB: conn, driver: driver}

	// Run migrations
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return d, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
}

// Driver returns "sqlite" or "postgres"
func (db *DB) Driver() string { return db.driver }

func (db *DB) migrate() error {
	schema, err := schemaFS.ReadFile("schema_" + db.driver + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// inClause returns "?, ?, ?" with n placeholders
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// notFound converts sql.ErrNoRows into an apperr not-found error
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return err
}
