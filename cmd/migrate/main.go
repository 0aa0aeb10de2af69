// Command migrate manages the Postgres schema of the FitLife auth server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/store"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (defaults to database.migrations_dir)")
	)
	flag.Parse()

	logging.Init(logging.Config{Format: "console"})

	cfg, err := config.New()
	if err != nil {
		logging.Fatal().Err(err).Msg("config error")
	}
	if cfg.Database.Adapter != "postgres" {
		logging.Fatal().Str("adapter", cfg.Database.Adapter).
			Msg("migrations only apply to postgres; sqlite migrates itself on open and badger has no schema")
	}

	dsn, err := cfg.Database.BuildPostgresDSN()
	if err != nil {
		logging.Fatal().Err(err).Msg("postgres config error")
	}

	migrationsDir := cfg.Database.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	mg, err := store.NewMigrator(migrationsDir, dsn)
	if err != nil {
		logging.Fatal().Err(err).Msg("migrator init failed")
	}
	defer mg.Close()

	if err := run(mg, *command, *steps, *version); err != nil {
		mg.Close()
		logging.Fatal().Err(err).Str("command", *command).Msg("migration failed")
	}
}

func run(mg *store.Migrator, command string, steps int, version uint) error {
	switch command {
	case "up":
		if steps > 0 {
			return mg.Steps(steps)
		}
		return mg.Up()
	case "down":
		if steps > 0 {
			return mg.Steps(-steps)
		}
		return mg.Down()
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		if dirty {
			fmt.Printf("database is in a dirty state (version %d)\n", v)
			os.Exit(1)
		}
		fmt.Printf("current migration version: %d\n", v)
		return nil
	case "force":
		if version == 0 {
			return errors.New("force needs -version")
		}
		if err := mg.Force(int(version)); err != nil {
			return err
		}
		fmt.Printf("forced database to version %d\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q (supported: up, down, version, force)", command)
	}
}
