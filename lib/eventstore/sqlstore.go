package eventstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andres-erbsen/clock"
	"github.com/jmoiron/sqlx"

	"github.com/notemesh/notemesh/core"
)

// SQLStore archives events in the embedded database.
type SQLStore struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB, clk clock.Clock) *SQLStore {
	return &SQLStore{db, clk}
}

type eventRow struct {
	ID        string `db:"id"`
	PubKey    string `db:"pubkey"`
	CreatedAt int64  `db:"created_at"`
	Kind      int    `db:"kind"`
	Tags      []byte `db:"tags"`
	Content   string `db:"content"`
	Sig       string `db:"sig"`
	ExpiresAt int64  `db:"expires_at"`
}

func newEventRow(e *core.Event) (*eventRow, error) {
	tags := e.Tags
	if tags == nil {
		tags = []core.Tag{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %s", err)
	}
	return &eventRow{
		ID:        e.ID.String(),
		PubKey:    e.PubKey.String(),
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      b,
		Content:   e.Content,
		Sig:       e.Sig,
		ExpiresAt: expiresAt(e),
	}, nil
}

func (r *eventRow) toEvent() (*core.Event, error) {
	id, err := core.NewEventID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse id: %s", err)
	}
	pk, err := core.NewPubKey(r.PubKey)
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %s", err)
	}
	var tags []core.Tag
	if err := json.Unmarshal(r.Tags, &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %s", err)
	}
	if len(tags) == 0 {
		tags = nil
	}
	return &core.Event{
		ID:        id,
		PubKey:    pk,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Tags:      tags,
		Content:   r.Content,
		Sig:       r.Sig,
	}, nil
}

// SaveEvent archives e. Saving an already archived id is a no-op, and an
// event whose expiration already passed is rejected with ErrExpired.
func (s *SQLStore) SaveEvent(e *core.Event) error {
	r, err := newEventRow(e)
	if err != nil {
		return err
	}
	if r.ExpiresAt > 0 && r.ExpiresAt <= s.clk.Now().Unix() {
		return ErrExpired
	}
	_, err = s.db.NamedExec(`
		INSERT OR IGNORE INTO events (
			id, pubkey, created_at, kind, tags, content, sig, expires_at
		) VALUES (
			:id, :pubkey, :created_at, :kind, :tags, :content, :sig, :expires_at
		)
	`, r)
	return err
}

// GetEvent returns the archived event with the given id.
func (s *SQLStore) GetEvent(id core.EventID) (*core.Event, error) {
	var r eventRow
	err := s.db.Get(&r, `
		SELECT id, pubkey, created_at, kind, tags, content, sig, expires_at
		FROM events
		WHERE id=?
	`, id.String())
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return r.toEvent()
}

// Exists returns whether the given id is archived.
func (s *SQLStore) Exists(id core.EventID) (bool, error) {
	var n int
	if err := s.db.Get(&n, `
		SELECT COUNT(*) FROM events WHERE id=?
	`, id.String()); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query returns archived events matching f, newest first. Indexed columns
// narrow the scan; the filter confirms each candidate, so tag constraints
// hold even though tags are stored opaquely.
func (s *SQLStore) Query(f *core.Filter) ([]*core.Event, error) {
	var conds []string
	var args []interface{}

	if len(f.IDs) > 0 {
		conds = append(conds, inClause("id", len(f.IDs)))
		for _, id := range f.IDs {
			args = append(args, id.String())
		}
	}
	if len(f.Authors) > 0 {
		conds = append(conds, inClause("pubkey", len(f.Authors)))
		for _, pk := range f.Authors {
			args = append(args, pk.String())
		}
	}
	if len(f.Kinds) > 0 {
		conds = append(conds, inClause("kind", len(f.Kinds)))
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Since > 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until > 0 {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.Until)
	}

	q := `SELECT id, pubkey, created_at, kind, tags, content, sig, expires_at FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"

	var rows []*eventRow
	if err := s.db.Select(&rows, q, args...); err != nil {
		return nil, err
	}

	now := s.clk.Now().Unix()
	var events []*core.Event
	for _, r := range rows {
		if r.ExpiresAt > 0 && r.ExpiresAt <= now {
			continue
		}
		e, err := r.toEvent()
		if err != nil {
			return nil, fmt.Errorf("corrupt event %s: %s", r.ID, err)
		}
		if !f.Matches(e) {
			continue
		}
		events = append(events, e)
		if f.Limit > 0 && len(events) == f.Limit {
			break
		}
	}
	return events, nil
}

// PruneExpired removes events expired as of now.
func (s *SQLStore) PruneExpired(now int64) (int, error) {
	res, err := s.db.Exec(`
		DELETE FROM events WHERE expires_at > 0 AND expires_at <= ?
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func inClause(col string, n int) string {
	return fmt.Sprintf("%s IN (?%s)", col, strings.Repeat(",?", n-1))
}
