package db

import (
	"strings"

	"github.com/teranos/easyjob/errors"
)

// ErrDatabaseClosed marks writes attempted after the connection was closed.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err came from using a closed database,
// either marked with ErrDatabaseClosed or as the driver's own message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	// database/sql does not export a sentinel for this
	return strings.Contains(err.Error(), "database is closed")
}
