// Package db opens the SQLite database that holds script schedules and
// their run history, and applies its embedded migrations.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// pragmas are applied to every database Open returns. WAL lets the ticker
// read due schedules while a loader upserts directives.
var pragmas = []struct {
	name  string
	value string
}{
	{"journal_mode", "WAL"},
	{"foreign_keys", "ON"},
	{"busy_timeout", fmt.Sprint(SQLiteBusyTimeoutMS)},
}

// Open opens the schedule database at path. log may be nil.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	log = logger.OrNop(log)
	log.Debugw("Opening database", logger.FieldFile, path)

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to set %s", p.name)
		}
	}

	log.Infow("Database opened", logger.FieldFile, path)
	return conn, nil
}

// OpenWithMigrations opens the database and brings its schema up to date.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := Open(path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if err := Migrate(conn, log); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "migrate %s", path)
	}
	return conn, nil
}
