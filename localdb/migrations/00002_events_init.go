package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00002, down00002)
}

func up00002(tx *sql.Tx) error {
	_, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS events (
		id         text    NOT NULL,
		pubkey     text    NOT NULL,
		created_at integer NOT NULL,
		kind       integer NOT NULL,
		tags       blob    NOT NULL,
		content    text    NOT NULL,
		sig        text    NOT NULL,
		expires_at integer NOT NULL DEFAULT 0,
		PRIMARY KEY(id)
	);`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`CREATE INDEX IF NOT EXISTS events_pubkey_kind ON events (pubkey, kind);`)
	return err
}

func down00002(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE events;`)
	return err
}
