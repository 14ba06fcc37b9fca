// Package migrations applies the embedded execution cache schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Iron-Ham/sightline/internal/logging"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Version is the schema state recorded by golang-migrate. Number is 0 on a
// database no migration has touched.
type Version struct {
	Number uint `json:"number"`
	Dirty  bool `json:"dirty"`
}

// Migrator moves the cache schema between versions. It never closes the
// database it was given.
type Migrator struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMigrator returns a migrator over db.
func NewMigrator(db *sql.DB, logger *logging.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Migrator{db: db, logger: logger.WithComponent("migrations")}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "apply", func(inst *migrate.Migrate) error {
		return ignoreNoChange(inst.Up())
	})
}

// Down reverts every applied migration, dropping all cache tables.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "revert", func(inst *migrate.Migrate) error {
		return ignoreNoChange(inst.Down())
	})
}

// Reset reverts and re-applies the schema, leaving empty tables at the
// latest version.
func (m *Migrator) Reset(ctx context.Context) error {
	if err := m.Down(ctx); err != nil {
		return err
	}
	return m.Up(ctx)
}

// Version reports the applied schema version.
func (m *Migrator) Version(ctx context.Context) (Version, error) {
	var v Version
	err := m.run(ctx, "read version", func(inst *migrate.Migrate) error {
		n, dirty, err := inst.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		v = Version{Number: n, Dirty: dirty}
		return err
	})
	return v, err
}

// run builds a migrate instance over the embedded files and hands it to fn.
// The instance is not closed: closing it would close m.db.
func (m *Migrator) run(ctx context.Context, op string, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			m.logger.Warn("could not close migration source", "error", err)
		}
	}()

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}
	if err := fn(inst); err != nil {
		return fmt.Errorf("could not %s migrations: %w", op, err)
	}
	m.logger.Debug("migrations done", "op", op)
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
