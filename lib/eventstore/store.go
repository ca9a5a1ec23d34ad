// Package eventstore archives propagated events so late subscribers and
// query traffic can be served without asking the mesh again.
package eventstore

import (
	"errors"
	"strconv"

	"github.com/notemesh/notemesh/core"
)

var (
	// ErrExpired is returned when saving an event whose expiration tag
	// is already in the past.
	ErrExpired = errors.New("event expired")

	// ErrNotFound is returned when an event id is not archived.
	ErrNotFound = errors.New("event not found")
)

// Store archives events. Saves are idempotent on event id.
type Store interface {
	SaveEvent(e *core.Event) error
	GetEvent(id core.EventID) (*core.Event, error)
	Exists(id core.EventID) (bool, error)
	Query(f *core.Filter) ([]*core.Event, error)

	// PruneExpired removes events whose expiration passed before the
	// given unix time and returns how many were removed.
	PruneExpired(now int64) (int, error)
}

// expiresAt extracts the unix expiration time from e's expiration tag.
// Returns 0 when the event does not expire or the tag is malformed.
func expiresAt(e *core.Event) int64 {
	for _, t := range e.Tags {
		if len(t) < 2 || t[0] != "expiration" {
			continue
		}
		ts, err := strconv.ParseInt(t[1], 10, 64)
		if err != nil || ts < 0 {
			return 0
		}
		return ts
	}
	return 0
}
