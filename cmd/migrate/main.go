// Command migrate applies the database schema migrations.
package main

import (
	"database/sql"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/novahr/security-engine/internal/infrastructure/config"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		steps  = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dir    = flag.String("dir", "migrations", "Directory containing migration files")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		logger.Fatal("failed to init migration driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "pgx5", driver)
	if err != nil {
		logger.Fatal("failed to init migrator", zap.Error(err))
	}

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && verr != migrate.ErrNilVersion {
			logger.Fatal("failed to read version", zap.Error(verr))
		}
		logger.Info("migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty))
		return
	default:
		logger.Fatal("unknown action", zap.String("action", *action))
	}

	if err == migrate.ErrNoChange {
		logger.Info("no pending migrations")
		return
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migrations completed", zap.String("action", *action))
}
