package localdb

import (
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Fixture returns a temporary test database for testing.
func Fixture() (*sqlx.DB, func()) {
	tmpdir, err := os.MkdirTemp(".", "test-db-")
	if err != nil {
		panic(err)
	}
	cleanup := func() { os.RemoveAll(tmpdir) }

	db, err := New(Config{Source: filepath.Join(tmpdir, "test.db")})
	if err != nil {
		cleanup()
		panic(err)
	}

	return db, cleanup
}
