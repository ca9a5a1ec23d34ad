package connection

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/notemesh/notemesh/core"
)

// PeerConnection is the durable record of one known peer.
type PeerConnection struct {
	PubKey            string `db:"pubkey"`
	State             State  `db:"state"`
	Priority          int    `db:"priority"`
	ReconnectAttempts int    `db:"reconnect_attempts"`
	LastContactAt     int64  `db:"last_contact_at"`
	LastLatencyMs     int64  `db:"last_latency_ms"`
	SubscriberCount   int    `db:"subscriber_count"`
	IsFollowed        bool   `db:"is_followed"`
}

// PeerID returns the typed peer id of the record.
func (c *PeerConnection) PeerID() (core.PeerID, error) {
	return core.NewPeerID(c.PubKey)
}

// Signals extracts the priority signals of the record.
func (c *PeerConnection) Signals() Signals {
	return Signals{
		IsFollowed:      c.IsFollowed,
		SubscriberCount: c.SubscriberCount,
		AvgLatencyMs:    c.LastLatencyMs,
	}
}

// Store persists peer connection records in the embedded database. All
// operations are atomic per key; different peers are independent.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db}
}

// Get returns the record for peer, or ErrPeerNotFound.
func (s *Store) Get(peer core.PeerID) (*PeerConnection, error) {
	var c PeerConnection
	err := s.db.Get(&c, `
		SELECT pubkey, state, priority, reconnect_attempts, last_contact_at,
			last_latency_ms, subscriber_count, is_followed
		FROM peer_connections
		WHERE pubkey=?
	`, peer.String())
	if err == sql.ErrNoRows {
		return nil, ErrPeerNotFound
	} else if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or replaces the record for c.PubKey.
func (s *Store) Upsert(c *PeerConnection) error {
	if !c.State.Valid() {
		return fmt.Errorf("upsert %s: unknown state %q", c.PubKey, c.State)
	}
	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO peer_connections (
			pubkey,
			state,
			priority,
			reconnect_attempts,
			last_contact_at,
			last_latency_ms,
			subscriber_count,
			is_followed
		) VALUES (
			:pubkey,
			:state,
			:priority,
			:reconnect_attempts,
			:last_contact_at,
			:last_latency_ms,
			:subscriber_count,
			:is_followed
		)
	`, c)
	return err
}

// UpdateState sets peer's state. Transitioning into Connected resets
// reconnect_attempts; no other mutation ever lowers it.
func (s *Store) UpdateState(peer core.PeerID, state State) error {
	if !state.Valid() {
		return fmt.Errorf("update state %s: unknown state %q", peer, state)
	}
	var res sql.Result
	var err error
	if state == StateConnected {
		res, err = s.db.Exec(`
			UPDATE peer_connections
			SET state=?, reconnect_attempts=0
			WHERE pubkey=?
		`, state, peer.String())
	} else {
		res, err = s.db.Exec(`
			UPDATE peer_connections
			SET state=?
			WHERE pubkey=?
		`, state, peer.String())
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		panic("driver does not support RowsAffected")
	} else if n == 0 {
		return ErrPeerNotFound
	}
	return nil
}

// IncrementReconnect bumps peer's reconnect attempt counter and returns the
// new count.
func (s *Store) IncrementReconnect(peer core.PeerID) (int, error) {
	res, err := s.db.Exec(`
		UPDATE peer_connections
		SET reconnect_attempts = reconnect_attempts + 1
		WHERE pubkey=?
	`, peer.String())
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		panic("driver does not support RowsAffected")
	} else if n == 0 {
		return 0, ErrPeerNotFound
	}
	var count int
	if err := s.db.Get(&count, `
		SELECT reconnect_attempts FROM peer_connections WHERE pubkey=?
	`, peer.String()); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdatePriority sets peer's priority tier.
func (s *Store) UpdatePriority(peer core.PeerID, priority int) error {
	if priority < 1 || priority > 10 {
		return fmt.Errorf("update priority %s: tier %d out of range", peer, priority)
	}
	_, err := s.db.Exec(`
		UPDATE peer_connections
		SET priority=?
		WHERE pubkey=?
	`, priority, peer.String())
	return err
}

// UpdateSignals records fresh priority signals for peer.
func (s *Store) UpdateSignals(peer core.PeerID, sig Signals) error {
	_, err := s.db.Exec(`
		UPDATE peer_connections
		SET subscriber_count=?, is_followed=?, last_latency_ms=?
		WHERE pubkey=?
	`, sig.SubscriberCount, sig.IsFollowed, sig.AvgLatencyMs, peer.String())
	return err
}

// TouchContact records contact with peer at the given unix millis, along
// with the observed latency.
func (s *Store) TouchContact(peer core.PeerID, atMillis, latencyMs int64) error {
	_, err := s.db.Exec(`
		UPDATE peer_connections
		SET last_contact_at=?, last_latency_ms=?
		WHERE pubkey=?
	`, atMillis, latencyMs, peer.String())
	return err
}

// ListByState returns all records in the given state, ascending priority
// (lower number first).
func (s *Store) ListByState(state State) ([]*PeerConnection, error) {
	var conns []*PeerConnection
	err := s.db.Select(&conns, `
		SELECT pubkey, state, priority, reconnect_attempts, last_contact_at,
			last_latency_ms, subscriber_count, is_followed
		FROM peer_connections
		WHERE state=?
		ORDER BY priority ASC, pubkey ASC
	`, state)
	return conns, err
}

// ListAll returns every record, ascending priority.
func (s *Store) ListAll() ([]*PeerConnection, error) {
	var conns []*PeerConnection
	err := s.db.Select(&conns, `
		SELECT pubkey, state, priority, reconnect_attempts, last_contact_at,
			last_latency_ms, subscriber_count, is_followed
		FROM peer_connections
		ORDER BY priority ASC, pubkey ASC
	`)
	return conns, err
}
