package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// SQLiteStore is the single-node adapter. Its schema ships embedded in the binary and is
// applied with goose on open.
type SQLiteStore struct {
	sqlStore
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; transactions queue on the pool instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := runSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore{db: db, q: baseQueries.rebind(), isUniqueViolation: isSQLiteUniqueViolation}}, nil
}

func runSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(sqliteMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations/sqlite"); err != nil {
		return fmt.Errorf("sqlite migrations: %w", err)
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
