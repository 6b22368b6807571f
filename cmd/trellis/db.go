package main

import (
	"database/sql"
	"fmt"
)

// pingDB verifies that db is usable, closing it when it is not.
func pingDB(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to reach database: %w", err)
	}
	return nil
}
