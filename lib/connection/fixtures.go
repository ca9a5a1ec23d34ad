package connection

import (
	"context"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/stream"
	"github.com/notemesh/notemesh/localdb"
)

// StoreFixture returns a Store backed by a temporary database.
func StoreFixture() (*Store, func()) {
	db, cleanup := localdb.Fixture()
	return NewStore(db), cleanup
}

// PeerConnectionFixture returns a discovered peer record.
func PeerConnectionFixture(peer core.PeerID) *PeerConnection {
	return &PeerConnection{
		PubKey:   peer.String(),
		State:    StateDiscovering,
		Priority: 10,
	}
}

// FakeDialer stubs transport dialing for lifecycle tests. Dial and
// channel errors may be injected per peer.
type FakeDialer struct {
	mu         sync.Mutex
	DialErr    error
	ChannelErr error
	dialCount  int
	lastDialed *core.PeerID
	newHandle  func() stream.Handle
}

// NewFakeDialer creates a new FakeDialer which hands out fake streams.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{newHandle: func() stream.Handle { return stream.NewFake() }}
}

func (d *FakeDialer) Dial(ctx context.Context, peer core.PeerID) (stream.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCount++
	d.lastDialed = &peer
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return d.newHandle(), nil
}

func (d *FakeDialer) OpenChannel(ctx context.Context, peer core.PeerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ChannelErr
}

// DialCount returns the number of Dial calls made.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// SetDialErr injects err into subsequent Dial calls.
func (d *FakeDialer) SetDialErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialErr = err
}

// LifecycleFixture returns a Lifecycle wired to a temporary store, a fake
// dialer and a mock clock.
func LifecycleFixture(config Config) (*Lifecycle, *FakeDialer, *clock.Mock, func()) {
	store, cleanup := StoreFixture()
	clk := clock.NewMock()
	clk.Set(time.Now())
	dialer := NewFakeDialer()
	l := NewLifecycle(
		config, tally.NoopScope, clk, zap.NewNop().Sugar(), store, dialer)
	return l, dialer, clk, cleanup
}
