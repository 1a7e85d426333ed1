package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	appmigrations "github.com/wolfman30/lumen-clinic/migrations"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

const usage = "usage: migrate [up | down <steps> | force <version> | version]"

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("migrate")

	cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		logger.Error("invalid arguments", "error", err, "usage", usage)
		os.Exit(2)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	m, err := newMigrator(db)
	if err != nil {
		logger.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := cmd.run(m); err != nil {
		logger.Error("migration failed", "command", cmd.name, "error", err)
		os.Exit(1)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn("read schema version", "error", err)
	}
	logger.Info("migrations complete", "command", cmd.name, "version", version, "dirty", dirty)
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
}

type command struct {
	name string
	arg  int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "up"}, nil
	}
	switch args[0] {
	case "up", "version":
		return command{name: args[0]}, nil
	case "down", "force":
		if len(args) < 2 {
			return command{}, fmt.Errorf("%s needs a number", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("invalid number %q: %w", args[1], err)
		}
		if args[0] == "down" && n <= 0 {
			return command{}, errors.New("down steps must be positive")
		}
		return command{name: args[0], arg: n}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

type migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
}

func (c command) run(m migrator) error {
	var err error
	switch c.name {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-c.arg)
	case "force":
		err = m.Force(c.arg)
	case "version":
		return nil
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
