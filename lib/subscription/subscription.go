// Package subscription owns the set of active subscriptions and answers
// which of them match a given event.
package subscription

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/stream"
)

// Subscription is a peer's standing, paid interest in matching events. A
// subscription matches an event if at least one of its filters does.
type Subscription struct {
	ID         string
	Subscriber core.PeerID
	Stream     stream.Handle
	Filters    []*core.Filter

	// AutoRenew records the subscriber's preference for paid renewal.
	AutoRenew bool

	expiresAt atomic.Int64 // unix millis
	active    atomic.Bool
}

// New creates an active subscription expiring at expiresAt.
func New(
	id string,
	subscriber core.PeerID,
	s stream.Handle,
	filters []*core.Filter,
	expiresAt time.Time) *Subscription {

	sub := &Subscription{
		ID:         id,
		Subscriber: subscriber,
		Stream:     s,
		Filters:    filters,
	}
	sub.expiresAt.Store(expiresAt.UnixMilli())
	sub.active.Store(true)
	return sub
}

// ExpiresAt returns the current expiry.
func (s *Subscription) ExpiresAt() time.Time {
	return time.UnixMilli(s.expiresAt.Load())
}

// SetExpiresAt advances (or rewinds) the expiry.
func (s *Subscription) SetExpiresAt(t time.Time) {
	s.expiresAt.Store(t.UnixMilli())
}

// Active returns whether the subscription may match events.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Deactivate permanently excludes the subscription from matching.
func (s *Subscription) Deactivate() {
	s.active.Store(false)
}

// Expired returns whether the subscription has passed its expiry at now.
func (s *Subscription) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Matches returns whether any filter of s matches e. Inactive or expired
// subscriptions never match.
func (s *Subscription) Matches(e *core.Event, now time.Time) bool {
	if !s.Active() || s.Expired(now) {
		return false
	}
	for _, f := range s.Filters {
		if f.Matches(e) {
			return true
		}
	}
	return false
}

func (s *Subscription) String() string {
	return fmt.Sprintf("Subscription(id=%s, subscriber=%s)", s.ID, s.Subscriber.String()[:8])
}
