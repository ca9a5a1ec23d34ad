// Package gossip implements the event propagation hot path: every
// envelope entering the node flows through the engine exactly once and
// fans out to the peers whose subscriptions match it.
package gossip

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/sync/syncmap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/eventstore"
	"github.com/notemesh/notemesh/lib/gossip/peertracker"
	"github.com/notemesh/notemesh/lib/gossip/ratelimit"
	"github.com/notemesh/notemesh/lib/gossip/seencache"
	"github.com/notemesh/notemesh/lib/stream"
	"github.com/notemesh/notemesh/lib/subscription"
)

// ErrShutdownTimeout is returned when in-flight fan-outs do not drain
// within the configured shutdown window.
var ErrShutdownTimeout = errors.New("timed out draining fan-outs")

// Disconnector tears down the connection of a peer whose stream broke
// mid-send.
type Disconnector interface {
	Disconnect(peer core.PeerID) error
}

// Engine propagates events. Ingest is reentrant; envelopes for the same
// destination peer are serialized, everything else proceeds concurrently.
//
// Normal drops (duplicate, exhausted relay budget, rate limited, source
// echo) are counted and absorbed. Only archive failures surface to the
// caller, since an unarchived event cannot be deduplicated across
// restarts.
type Engine struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	logger *zap.SugaredLogger

	seen    *seencache.Cache
	sent    *peertracker.Tracker
	limiter *ratelimit.Limiter
	subs    *subscription.Manager
	archive eventstore.Store
	conns   Disconnector

	fanoutSize tally.Histogram

	// peerLocks serializes the check-send-mark sequence per destination
	// peer, so concurrent ingests never double-send to one peer.
	peerLocks syncmap.Map

	wg sync.WaitGroup
}

// New creates a new Engine.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	subs *subscription.Manager,
	archive eventstore.Store,
	conns Disconnector) *Engine {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "gossip",
	})
	return &Engine{
		config:  config,
		stats:   stats,
		clk:     clk,
		logger:  logger,
		seen:    seencache.New(config.SeenCacheSize),
		sent:    peertracker.New(config.SentCacheSizePerPeer),
		limiter: ratelimit.New(config.RateLimit, clk),
		subs:    subs,
		archive: archive,
		conns:   conns,
		fanoutSize: stats.Histogram(
			"fanout_size", tally.MustMakeExponentialValueBuckets(1, 2, 12)),
	}
}

// MaxTTL returns the relay budget cap after defaults are applied. The
// transport validates inbound envelopes against the same cap the engine
// enforces.
func (e *Engine) MaxTTL() uint8 {
	return e.config.MaxTTL
}

// Publish wraps a locally created event and ingests it with the full
// relay budget.
func (e *Engine) Publish(ev *core.Event) error {
	return e.Ingest(core.NewLocalEnvelope(ev, e.config.MaxTTL, e.clk.Now()))
}

// Ingest runs one envelope through the propagation pipeline: duplicate
// suppression, relay budget check, rate limiting, archival, subscription
// matching and per-peer fan-out. The gate order is load-bearing; cheap
// gates run first so floods are shed before touching storage.
func (e *Engine) Ingest(env *core.Envelope) error {
	ev := env.Event

	if !e.seen.MarkSeen(ev.ID) {
		e.stats.Counter("drops_dedup").Inc(1)
		return nil
	}
	if env.TTL == 0 || env.HopCount >= e.config.MaxTTL {
		e.stats.Counter("drops_ttl").Inc(1)
		return nil
	}
	if !e.limiter.AllowInbound(env.Sender) {
		e.stats.Counter("drops_rate").Inc(1)
		return nil
	}

	if err := e.archive.SaveEvent(ev); err != nil {
		if err == eventstore.ErrExpired {
			e.stats.Counter("drops_expired").Inc(1)
			return nil
		}
		return fmt.Errorf("archive event: %s", err)
	}

	matched := e.subs.FindMatching(ev)
	e.fanoutSize.RecordValue(float64(len(matched)))
	if len(matched) == 0 {
		return nil
	}

	// Relaying consumes one hop of budget; the publisher's own fan-out is
	// the event's first hop and sends the budget untouched. A spent
	// budget still archives the event above, it just reaches no further
	// peers.
	out := &core.Envelope{
		Event:      ev,
		Sender:     env.Sender,
		TTL:        env.TTL,
		HopCount:   env.HopCount,
		ReceivedAt: env.ReceivedAt,
	}
	if env.Sender != nil {
		if env.TTL == 1 {
			e.stats.Counter("drops_ttl").Inc(1)
			return nil
		}
		out.TTL--
		out.HopCount++
	}
	b, err := out.MarshalWire()
	if err != nil {
		return fmt.Errorf("marshal envelope: %s", err)
	}

	// Group by destination so each peer gets an independent fan-out with
	// sends in matching order.
	byPeer := make(map[core.PeerID][]*subscription.Subscription)
	var order []core.PeerID
	for _, sub := range matched {
		if _, ok := byPeer[sub.Subscriber]; !ok {
			order = append(order, sub.Subscriber)
		}
		byPeer[sub.Subscriber] = append(byPeer[sub.Subscriber], sub)
	}
	for _, peer := range order {
		if env.Sender != nil && peer == *env.Sender {
			e.stats.Counter("drops_echo").Inc(1)
			continue
		}
		subs := byPeer[peer]
		e.wg.Add(1)
		go func(peer core.PeerID, subs []*subscription.Subscription) {
			defer e.wg.Done()
			e.forward(peer, subs, ev, b)
		}(peer, subs)
	}
	return nil
}

// forward attempts delivery of one event to one peer. Holds the peer's
// lock across the entire sequence so the sent-tracker check and mark are
// atomic with the send.
func (e *Engine) forward(
	peer core.PeerID, subs []*subscription.Subscription, ev *core.Event, packet []byte) {

	l, _ := e.peerLocks.LoadOrStore(peer, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if e.sent.HasSent(peer, ev.ID) {
		e.stats.Counter("drops_peer_dedup").Inc(1)
		return
	}
	if !e.limiter.AllowOutbound(peer) {
		e.stats.Counter("drops_rate").Inc(1)
		return
	}
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		if err := sub.Stream.SendPacket(packet); err != nil {
			if err == stream.ErrClosed {
				e.teardown(peer)
				return
			}
			e.stats.Counter("send_failures").Inc(1)
			e.logger.Warnw("Event send failed",
				"peer", peer, "subscription", sub.ID, "error", err)
			continue
		}
		e.sent.MarkSent(peer, ev.ID)
		e.stats.Counter("forwarded").Inc(1)
		// One copy per peer, even when several of its subscriptions
		// match.
		return
	}
}

// teardown reacts to a broken stream discovered mid-send: the peer's
// connection is torn down and its subscriptions dropped. The rest of the
// fan-out is unaffected.
func (e *Engine) teardown(peer core.PeerID) {
	e.stats.Counter("drops_stream_closed").Inc(1)
	e.logger.Infow("Stream closed during fan-out, tearing down peer", "peer", peer)
	if err := e.conns.Disconnect(peer); err != nil {
		e.logger.Errorw("Failed to disconnect peer", "peer", peer, "error", err)
	}
	e.subs.RemoveBySubscriber(peer)
	e.sent.ClearPeer(peer)
	e.peerLocks.Delete(peer)
}

// Shutdown waits for in-flight fan-outs to drain, bounded by the
// configured timeout.
func (e *Engine) Shutdown() error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}
