package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/example/fitlife/internal/logging"
)

// Migrator drives the Postgres schema in migrationsDir with golang-migrate.
type Migrator struct {
	db *sql.DB
	m  *migrate.Migrate
}

func NewMigrator(migrationsDir, dsn string) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return &Migrator{db: db, m: m}, nil
}

// Up applies all pending migrations. A dirty schema is refused.
func (mg *Migrator) Up() error {
	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}

	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logging.Info().Uint("version", version).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if newVersion, _, err := mg.Version(); err == nil && newVersion != version {
		logging.Info().Uint("from", version).Uint("to", newVersion).Msg("database migrated")
	}
	return nil
}

// Steps moves n migrations up (n > 0) or down (n < 0).
func (mg *Migrator) Steps(n int) error {
	if err := mg.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("stepping migrations: %w", err)
	}
	return nil
}

func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

func (mg *Migrator) Force(version int) error {
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}

// Version returns the current schema version; a fresh database reports 0.
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checking migration version: %w", err)
	}
	return version, dirty, nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr, mg.db.Close())
}

// ApplyMigrations runs every pending migration in migrationsDir against dsn.
func ApplyMigrations(migrationsDir, dsn string) error {
	mg, err := NewMigrator(migrationsDir, dsn)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}
