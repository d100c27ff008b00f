// Package db opens the SQLite database easyjob keeps its collections in and
// applies the embedded schema migrations.
package db

import (
	"database/sql"
	"net/url"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/sym"
)

// SQLiteBusyTimeoutMS is how long a writer waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// connParams are the go-sqlite3 DSN parameters every pooled connection is
// opened with.
var connParams = []struct {
	key   string
	value string
}{
	// WAL lets the API read history while runs are being written
	{"_journal_mode", "WAL"},
	{"_foreign_keys", "on"},
	{"_busy_timeout", strconv.Itoa(SQLiteBusyTimeoutMS)},
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connParams {
		q.Set(p.key, p.value)
	}
	return path + "?" + q.Encode()
}

// Open opens the SQLite database at path. A nil log keeps it quiet.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	log = dbLogger(log)
	log.Debugw("Opening database", logger.FieldPath, path)

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to connect to database %s", path)
	}

	log.Infow("Database opened",
		logger.FieldPath, path,
		"busy_timeout_ms", SQLiteBusyTimeoutMS)
	return conn, nil
}

// OpenWithMigrations opens the database and applies pending migrations.
// The connection is closed again when migrating fails.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn, log); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to migrate %s", path)
	}
	return conn, nil
}

func dbLogger(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return logger.WithSymbol(log, sym.DB)
}
