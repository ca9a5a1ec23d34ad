package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidIDLength returns when a hex event id does not decode into 32 bytes.
var ErrInvalidIDLength = errors.New("event id has invalid length")

// ErrInvalidPubKeyLength returns when a hex pubkey does not decode into 32 bytes.
var ErrInvalidPubKeyLength = errors.New("pubkey has invalid length")

// EventID is the 32-byte content hash of an event, hex-encoded on the wire.
type EventID [32]byte

// NewEventID parses an EventID from hexadecimal notation.
func NewEventID(s string) (EventID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EventID{}, err
	}
	if len(b) != 32 {
		return EventID{}, ErrInvalidIDLength
	}
	var id EventID
	copy(id[:], b)
	return id, nil
}

// String encodes the EventID in hexadecimal notation.
func (id EventID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalJSON encodes the EventID as a hex string.
func (id EventID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the EventID from a hex string.
func (id *EventID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := NewEventID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PubKey is a 32-byte signer identity, hex-encoded on the wire.
type PubKey [32]byte

// NewPubKey parses a PubKey from hexadecimal notation.
func NewPubKey(s string) (PubKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PubKey{}, err
	}
	if len(b) != 32 {
		return PubKey{}, ErrInvalidPubKeyLength
	}
	var pk PubKey
	copy(pk[:], b)
	return pk, nil
}

// String encodes the PubKey in hexadecimal notation.
func (pk PubKey) String() string {
	return hex.EncodeToString(pk[:])
}

// MarshalJSON encodes the PubKey as a hex string.
func (pk PubKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes the PubKey from a hex string.
func (pk *PubKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := NewPubKey(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// PeerID identifies a peer in the mesh by its public key.
type PeerID = PubKey

// NewPeerID parses a PeerID from hexadecimal notation.
func NewPeerID(s string) (PeerID, error) {
	return NewPubKey(s)
}

// Tag is an ordered tuple of short strings. The first element is the
// single-letter tag name, the remainder are values.
type Tag []string

// Name returns the tag name, or 0 if the tag is malformed.
func (t Tag) Name() byte {
	if len(t) == 0 || len(t[0]) != 1 {
		return 0
	}
	return t[0][0]
}

// Value returns the first tag value, or empty string if none.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is an immutable signed content event. Signature and id validation
// happen at the node boundary; the propagation core assumes both hold.
type Event struct {
	ID        EventID `json:"id"`
	PubKey    PubKey  `json:"pubkey"`
	CreatedAt int64   `json:"created_at"`
	Kind      int     `json:"kind"`
	Tags      []Tag   `json:"tags"`
	Content   string  `json:"content"`
	Sig       string  `json:"sig"`
}

// ComputeEventID hashes the canonical serialization of the event fields
// covered by the signature.
func ComputeEventID(pubkey PubKey, createdAt int64, kind int, tags []Tag, content string) (EventID, error) {
	if tags == nil {
		tags = []Tag{}
	}
	canonical, err := json.Marshal([]interface{}{0, pubkey.String(), createdAt, kind, tags, content})
	if err != nil {
		return EventID{}, fmt.Errorf("marshal canonical event: %s", err)
	}
	return EventID(sha256.Sum256(canonical)), nil
}

// TagValues returns the values of the first-position-name tags with name x.
func (e *Event) TagValues(x byte) []string {
	var vals []string
	for _, t := range e.Tags {
		if t.Name() == x && len(t) > 1 {
			vals = append(vals, t[1])
		}
	}
	return vals
}

func (e *Event) String() string {
	return fmt.Sprintf("Event(id=%s, kind=%d)", e.ID, e.Kind)
}
