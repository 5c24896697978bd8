package database

import (
	"embed"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending goose migration embedded under migrations/
// to db, creating the jobs, batches, api_credentials, and webhook_deliveries
// tables on a fresh database.
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperrors.NewDatabaseError("failed to set goose dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return apperrors.NewDatabaseError("failed to apply database migrations", err)
	}
	return nil
}

// MigrationStatus reports the current goose migration version, primarily
// for the admin CLI and startup logging.
func MigrationStatus(db *sqlx.DB) (int64, error) {
	version, err := goose.GetDBVersion(db.DB)
	if err != nil {
		return 0, apperrors.NewDatabaseError("failed to read migration version", err)
	}
	return version, nil
}

// MigrationFiles lists the embedded migration files, sorted by name.
func MigrationFiles() ([]fs.DirEntry, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to read embedded migrations", err)
	}
	return entries, nil
}

// MigrationContents returns the raw SQL of a single embedded migration file.
func MigrationContents(name string) (string, error) {
	data, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return "", apperrors.NewDatabaseError("failed to read migration "+name, err)
	}
	return string(data), nil
}
