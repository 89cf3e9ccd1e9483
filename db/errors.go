package db

import (
	"strings"

	"github.com/teranos/gbvm/errors"
)

// ErrDatabaseClosed is returned when the schedule store is used after the
// daemon closed the database during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is closed.
// The driver returns its own unwrapped errors, so the message is checked too.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
