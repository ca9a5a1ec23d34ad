package core

import (
	"math/rand"
	"time"
)

// EventIDFixture returns a randomly generated EventID.
func EventIDFixture() EventID {
	var id EventID
	rand.Read(id[:])
	return id
}

// PubKeyFixture returns a randomly generated PubKey.
func PubKeyFixture() PubKey {
	var pk PubKey
	rand.Read(pk[:])
	return pk
}

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	return PubKeyFixture()
}

// EventFixture returns a kind-1 event with random id and author.
func EventFixture() *Event {
	return CustomEventFixture(PubKeyFixture(), 1)
}

// CustomEventFixture returns an event with the given author and kind.
func CustomEventFixture(author PubKey, kind int) *Event {
	return &Event{
		ID:        EventIDFixture(),
		PubKey:    author,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Content:   "test content",
	}
}

// TaggedEventFixture returns an event carrying the given tags.
func TaggedEventFixture(tags ...Tag) *Event {
	e := EventFixture()
	e.Tags = tags
	return e
}

// EnvelopeFixture returns a locally originated envelope around a random event.
func EnvelopeFixture(ttl uint8) *Envelope {
	return NewLocalEnvelope(EventFixture(), ttl, time.Now())
}

// RelayedEnvelopeFixture returns an envelope as received from sender.
func RelayedEnvelopeFixture(sender PeerID, ttl uint8) *Envelope {
	return &Envelope{
		Event:      EventFixture(),
		Sender:     &sender,
		TTL:        ttl,
		ReceivedAt: time.Now(),
	}
}
