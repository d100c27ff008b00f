// Package pathlock hands out one mutex per filesystem path so concurrent
// job bodies never read and write the same cache file at once.
package pathlock

import (
	"path/filepath"
	"sync"
)

// Table maps cleaned paths to their lock. Entries are never removed.
type Table struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty table.
func New() *Table {
	return &Table{locks: make(map[string]*sync.Mutex)}
}

// Acquire returns the lock for path, creating it on first use. Paths that
// clean to the same string share one lock. The caller locks and unlocks it.
func (t *Table) Acquire(path string) *sync.Mutex {
	key := filepath.Clean(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// With runs fn while holding the lock for path.
func (t *Table) With(path string, fn func() error) error {
	l := t.Acquire(path)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Len reports how many distinct paths have a lock.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
