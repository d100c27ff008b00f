// Package store keeps JSON documents in named collections on top of SQLite.
//
// Each collection has a single writer mutex held for the whole
// read-modify-write of every mutating call, so concurrent Upserts on the
// same key never interleave. Readers do not take the mutex.
package store

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/sym"
)

// Collection names used by the scheduler core.
const (
	JobCollection     = "Job"
	HistoryCollection = "History"

	// RecycleSuffix is appended to a collection name to get its recycle bin.
	RecycleSuffix = "_recycle"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store hands out collections backed by one database.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger

	mu          sync.Mutex
	collections map[string]*Collection
}

// New creates a store over an already migrated database.
func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.Logger
	}
	return &Store{
		db:          db,
		log:         log.Named("store"),
		collections: make(map[string]*Collection),
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Collection returns the collection with the given name. The same instance
// (and therefore the same writer mutex) is returned for every call.
func (s *Store) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{store: s, name: name}
	s.collections[name] = c
	return c
}

// Jobs is shorthand for the Job collection.
func (s *Store) Jobs() *Collection { return s.Collection(JobCollection) }

// History is shorthand for the History collection.
func (s *Store) History() *Collection { return s.Collection(HistoryCollection) }

// CollectionStats reports the size of one collection.
type CollectionStats struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// Stats lists every existing collection with its document count.
func (s *Store) Stats(ctx context.Context) ([]CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, COUNT(d.id)
		FROM collections c
		LEFT JOIN documents d ON d.collection = c.name
		GROUP BY c.name
		ORDER BY c.name`)
	if err != nil {
		return nil, errors.Wrap(err, "query collection stats")
	}
	defer rows.Close()

	var stats []CollectionStats
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.Name, &cs.Documents); err != nil {
			return nil, errors.Wrap(err, "scan collection stats")
		}
		stats = append(stats, cs)
	}
	return stats, errors.Wrap(rows.Err(), "iterate collection stats")
}

// Exists reports whether a collection has been created and not dropped.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collections WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "check collection %s", name)
	}
	return n > 0, nil
}

func (s *Store) debug(msg string, keysAndValues ...interface{}) {
	s.log.Debugw(msg, append(keysAndValues, logger.FieldSymbol, sym.DB)...)
}
