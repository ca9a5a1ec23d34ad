// Package stream defines the transport capability surface the propagation
// core consumes. Concrete transports (and the settlement layer behind the
// fulfill / reject half) live outside the core.
package stream

import "errors"

// Handle errors.
var (
	ErrClosed       = errors.New("stream closed")
	ErrTimeout      = errors.New("stream operation timed out")
	ErrBackPressure = errors.New("stream send buffer full")
)

// Handle is one duplex stream to a remote peer. Sends are fire-and-forget
// from the core's perspective; delivery confirmation is observed through
// the settlement layer, never awaited.
type Handle interface {
	// SendPacket writes one packet to the stream. Returns ErrClosed if the
	// underlying transport is gone.
	SendPacket(b []byte) error

	// Close tears down the stream. Idempotent.
	Close()
}

// Fulfiller is the optional payment-acknowledgement half of a stream.
type Fulfiller interface {
	FulfillPacket(id string) error
	RejectPacket(id string) error
}
