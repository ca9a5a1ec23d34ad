// Package payment defines the surface of the settlement layer the core
// consumes. Channel management and clearing live outside the core; the
// core only observes balances and outcomes.
package payment

import (
	"errors"

	"github.com/notemesh/notemesh/core"
)

// ErrNoChannel is returned when no payment channel exists with a peer.
var ErrNoChannel = errors.New("no payment channel with peer")

// Channels provides read access to payment channel balances keyed by peer.
type Channels interface {
	// Balance returns the spendable balance on the channel with peer.
	// Returns ErrNoChannel if none exists.
	Balance(peer core.PeerID) (int64, error)
}

// FixedChannels is a static Channels implementation for testing and for
// deployments without per-peer channel lookup.
type FixedChannels map[core.PeerID]int64

// Balance returns the configured balance for peer.
func (c FixedChannels) Balance(peer core.PeerID) (int64, error) {
	b, ok := c[peer]
	if !ok {
		return 0, ErrNoChannel
	}
	return b, nil
}
