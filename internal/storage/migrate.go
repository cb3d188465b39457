package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

// SchemaVersion is the lowest migration version the Postgres backend
// can run against.
const SchemaVersion uint = 2

// ErrDirtySchema means a previous migration failed halfway and the
// database needs manual repair before the broker can start.
var ErrDirtySchema = errors.New("schema is dirty")

// RunMigrations brings the record schema up to date from migrationsDir and
// refuses to continue on a dirty or outdated schema.
func RunMigrations(dbURL, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, dbURL)
	if err != nil {
		return fmt.Errorf("opening migrations %s: %w", migrationsDir, err)
	}
	defer m.Close()

	before, err := schemaVersion(m.Version())
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating schema from version %d: %w", before, err)
	}
	after, err := schemaVersion(m.Version())
	if err != nil {
		return err
	}
	if after < SchemaVersion {
		return fmt.Errorf("schema version %d is older than required %d", after, SchemaVersion)
	}

	log.Info().Uint("from", before).Uint("to", after).Msg("record schema ready")
	return nil
}

// schemaVersion interprets migrate's Version result. A database with no
// migrations applied yet reports version 0.
func schemaVersion(version uint, dirty bool, err error) (uint, error) {
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return version, nil
}
