package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope errors.
var (
	ErrTTLExhausted     = errors.New("envelope ttl exhausted")
	ErrHopLimitExceeded = errors.New("envelope hop limit exceeded")
)

// Envelope carries an event plus the propagation metadata attached to one
// copy of it in flight. Sender is nil for locally originated events.
type Envelope struct {
	Event      *Event
	Sender     *PeerID
	TTL        uint8
	HopCount   uint8
	ReceivedAt time.Time
}

// NewLocalEnvelope wraps a locally published event.
func NewLocalEnvelope(e *Event, ttl uint8, now time.Time) *Envelope {
	return &Envelope{
		Event:      e,
		TTL:        ttl,
		ReceivedAt: now,
	}
}

// NewRelayedEnvelope wraps an event received from sender. Rejects copies
// which arrive with no relay budget left; the hop itself is consumed at
// forward time, not on arrival.
func NewRelayedEnvelope(
	e *Event, sender PeerID, ttl, hopCount, maxHops uint8, now time.Time) (*Envelope, error) {

	if ttl == 0 {
		return nil, ErrTTLExhausted
	}
	if hopCount >= maxHops {
		return nil, ErrHopLimitExceeded
	}
	return &Envelope{
		Event:      e,
		Sender:     &sender,
		TTL:        ttl,
		HopCount:   hopCount,
		ReceivedAt: now,
	}, nil
}

// envelopeMetadata is the wire shape of the propagation metadata half.
type envelopeMetadata struct {
	Sender   string `json:"sender,omitempty"`
	TTL      uint8  `json:"ttl"`
	HopCount uint8  `json:"hop_count"`
	TsMs     int64  `json:"ts_ms"`
}

type wireEnvelope struct {
	Event    *Event           `json:"event"`
	Metadata envelopeMetadata `json:"metadata"`
}

// MarshalWire encodes the envelope in the canonical cross-implementation
// layout: {event, metadata:{sender, ttl, hop_count, ts_ms}}.
func (env *Envelope) MarshalWire() ([]byte, error) {
	md := envelopeMetadata{
		TTL:      env.TTL,
		HopCount: env.HopCount,
		TsMs:     env.ReceivedAt.UnixMilli(),
	}
	if env.Sender != nil {
		md.Sender = env.Sender.String()
	}
	b, err := json.Marshal(wireEnvelope{Event: env.Event, Metadata: md})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %s", err)
	}
	return b, nil
}

// UnmarshalWireEnvelope decodes the canonical envelope layout.
func UnmarshalWireEnvelope(b []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %s", err)
	}
	if w.Event == nil {
		return nil, errors.New("envelope missing event")
	}
	env := &Envelope{
		Event:      w.Event,
		TTL:        w.Metadata.TTL,
		HopCount:   w.Metadata.HopCount,
		ReceivedAt: time.UnixMilli(w.Metadata.TsMs),
	}
	if w.Metadata.Sender != "" {
		sender, err := NewPeerID(w.Metadata.Sender)
		if err != nil {
			return nil, fmt.Errorf("envelope sender: %s", err)
		}
		env.Sender = &sender
	}
	return env, nil
}

func (env *Envelope) String() string {
	sender := "local"
	if env.Sender != nil {
		sender = env.Sender.String()[:8]
	}
	return fmt.Sprintf("Envelope(event=%s, sender=%s, ttl=%d, hops=%d)",
		env.Event.ID, sender, env.TTL, env.HopCount)
}
