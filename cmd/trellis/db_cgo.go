//go:build cgo_sqlite

package main

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// initDB opens the database with the cgo driver.
func initDB(dataSource string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSource)
	if err != nil {
		return nil, err
	}
	if err = pingDB(db); err != nil {
		return nil, err
	}
	return db, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}
