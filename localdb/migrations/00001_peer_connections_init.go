package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	_, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS peer_connections (
		pubkey             text    NOT NULL,
		state              text    NOT NULL,
		priority           integer NOT NULL,
		reconnect_attempts integer NOT NULL DEFAULT 0,
		last_contact_at    integer NOT NULL DEFAULT 0,
		last_latency_ms    integer NOT NULL DEFAULT 0,
		subscriber_count   integer NOT NULL DEFAULT 0,
		is_followed        integer NOT NULL DEFAULT 0,
		PRIMARY KEY(pubkey)
	);`)
	return err
}

func down00001(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE peer_connections;`)
	return err
}
