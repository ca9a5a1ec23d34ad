package gossip

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/eventstore"
	"github.com/notemesh/notemesh/lib/subscription"
	"github.com/notemesh/notemesh/localdb"
)

// FakeDisconnector records peers torn down by the engine.
type FakeDisconnector struct {
	mu    sync.Mutex
	peers []core.PeerID
}

func (d *FakeDisconnector) Disconnect(peer core.PeerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = append(d.peers, peer)
	return nil
}

// Disconnected returns the peers torn down so far.
func (d *FakeDisconnector) Disconnected() []core.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.PeerID(nil), d.peers...)
}

// EngineFixture returns an Engine over a temporary archive, a fresh
// subscription manager and a mock clock.
func EngineFixture(config Config) (
	*Engine, *subscription.Manager, *FakeDisconnector, *clock.Mock, func()) {

	db, cleanup := localdb.Fixture()
	clk := clock.NewMock()
	clk.Set(time.Now())
	archive := eventstore.NewSQLStore(db, clk)
	subs := subscription.NewManager(
		subscription.Config{}, tally.NoopScope, clk, zap.NewNop().Sugar())
	conns := &FakeDisconnector{}
	e := New(config, tally.NoopScope, clk, zap.NewNop().Sugar(), subs, archive, conns)
	return e, subs, conns, clk, func() {
		subs.Stop()
		cleanup()
	}
}
