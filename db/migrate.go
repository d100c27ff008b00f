package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction. 000 creates that table
// and records itself. A nil log keeps it quiet.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	log = dbLogger(log)

	files, err := MigrationFiles()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range files {
		version := strings.SplitN(name, "_", 2)[0]

		done, err := migrationApplied(conn, version)
		if err != nil {
			return errors.Wrapf(err, "check %s", name)
		}
		if done {
			log.Debugw("Migration already applied", "migration", name)
			continue
		}

		log.Infow("Applying migration", "migration", name, "version", version)
		if err := applyMigration(conn, name, version); err != nil {
			return err
		}
		applied++
	}

	log.Infow("Migrations complete", "total", len(files), "applied", applied)
	return nil
}

// migrationApplied reports whether version is recorded. Before 000 has run
// there is no table, which only 000 itself may find.
func migrationApplied(conn *sql.DB, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	if err == nil {
		return exists, nil
	}
	if version == "000" {
		return false, nil
	}
	return false, errors.Wrapf(err, "schema_migrations missing before migration %s", version)
}

func applyMigration(conn *sql.DB, name, version string) error {
	body, err := migrations.ReadFile(path.Join("sqlite/migrations", name))
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", name)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", name)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", name)
}

// MigrationFiles lists the embedded migrations in apply order
// (000_create_schema_migrations.sql first).
func MigrationFiles() ([]string, error) {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// SchemaVersion returns the highest applied migration version, or "" when
// the database has never been migrated.
func SchemaVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", nil
		}
		return "", errors.Wrap(err, "read schema version")
	}
	return version.String, nil
}
