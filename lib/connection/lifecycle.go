package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/lib/stream"
)

// Dialer establishes transport streams and payment channels to peers.
type Dialer interface {
	Dial(ctx context.Context, peer core.PeerID) (stream.Handle, error)
	OpenChannel(ctx context.Context, peer core.PeerID) error
}

// Lifecycle drives peer connections through their state machine and owns
// the live stream for each connected peer. State changes are checked
// against the legal transition table and persisted before they take
// effect in memory, so a crash never leaves a stream without a record.
type Lifecycle struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	logger *zap.SugaredLogger

	store  *Store
	dialer Dialer

	mu      sync.Mutex
	streams map[core.PeerID]stream.Handle

	// onDisconnect fires after a peer has entered Disconnected, outside
	// of any lifecycle lock.
	onDisconnect func(core.PeerID)
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	store *Store,
	dialer Dialer) *Lifecycle {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "connection",
	})
	return &Lifecycle{
		config:  config,
		stats:   stats,
		clk:     clk,
		logger:  logger,
		store:   store,
		dialer:  dialer,
		streams: make(map[core.PeerID]stream.Handle),
	}
}

// Store returns the backing peer record store.
func (l *Lifecycle) Store() *Store {
	return l.store
}

// OnDisconnect registers f to be called whenever a peer enters
// Disconnected. Must be called before any connection activity.
func (l *Lifecycle) OnDisconnect(f func(core.PeerID)) {
	l.onDisconnect = f
}

// Discover registers peer as a known, discovered peer. Existing records
// in Disconnected or Failed are moved back to Discovering; an already
// connected or in-flight peer is left alone.
func (l *Lifecycle) Discover(peer core.PeerID, signals Signals) error {
	c, err := l.store.Get(peer)
	if err == ErrPeerNotFound {
		return l.store.Upsert(&PeerConnection{
			PubKey:          peer.String(),
			State:           StateDiscovering,
			Priority:        Priority(signals),
			SubscriberCount: signals.SubscriberCount,
			LastLatencyMs:   signals.AvgLatencyMs,
			IsFollowed:      signals.IsFollowed,
		})
	} else if err != nil {
		return fmt.Errorf("store get: %s", err)
	}
	switch c.State {
	case StateDiscovering:
		return nil
	case StateConnecting, StateChannelOpening:
		return ErrAlreadyConnecting
	case StateConnected:
		return ErrAlreadyConnected
	}
	return l.transition(peer, c.State, StateDiscovering)
}

// Connect dials peer, opens a payment channel and promotes the peer to
// Connected. On any failure the peer lands in Disconnected and the
// disconnect callback fires.
func (l *Lifecycle) Connect(ctx context.Context, peer core.PeerID) error {
	c, err := l.store.Get(peer)
	if err != nil {
		return fmt.Errorf("store get: %s", err)
	}
	switch c.State {
	case StateConnecting, StateChannelOpening:
		return ErrAlreadyConnecting
	case StateConnected:
		return ErrAlreadyConnected
	case StateFailed:
		return ErrPeerFailed
	}
	if err := l.transition(peer, c.State, StateConnecting); err != nil {
		return err
	}

	start := l.clk.Now()
	h, err := l.dialer.Dial(ctx, peer)
	if err != nil {
		l.stats.Counter("dial_failures").Inc(1)
		l.demote(peer, StateConnecting)
		return fmt.Errorf("dial %s: %s", peer, err)
	}
	latency := l.clk.Now().Sub(start).Milliseconds()

	if err := l.transition(peer, StateConnecting, StateChannelOpening); err != nil {
		h.Close()
		return err
	}
	if err := l.dialer.OpenChannel(ctx, peer); err != nil {
		l.stats.Counter("channel_failures").Inc(1)
		h.Close()
		l.demote(peer, StateChannelOpening)
		return fmt.Errorf("open channel %s: %s", peer, err)
	}

	if err := l.transition(peer, StateChannelOpening, StateConnected); err != nil {
		h.Close()
		return err
	}
	if err := l.store.TouchContact(peer, l.clk.Now().UnixMilli(), latency); err != nil {
		l.logger.Errorw("Failed to record peer contact", "peer", peer, "error", err)
	}

	l.mu.Lock()
	l.streams[peer] = h
	l.mu.Unlock()

	l.stats.Counter("connects").Inc(1)
	l.logger.Infow("Peer connected", "peer", peer, "latency_ms", latency)
	return nil
}

// HandleInbound adopts an inbound stream from peer, which skips dialing
// but still walks the full state machine so records stay consistent.
// A previous stream for the same peer is closed and replaced.
func (l *Lifecycle) HandleInbound(peer core.PeerID, h stream.Handle) error {
	c, err := l.store.Get(peer)
	if err == ErrPeerNotFound {
		if err := l.store.Upsert(&PeerConnection{
			PubKey:   peer.String(),
			State:    StateDiscovering,
			Priority: Priority(Signals{}),
		}); err != nil {
			return err
		}
		c = &PeerConnection{State: StateDiscovering}
	} else if err != nil {
		return fmt.Errorf("store get: %s", err)
	}

	if c.State == StateConnected {
		// Replace the stale stream.
		if err := l.Disconnect(peer); err != nil && err != ErrNotConnected {
			return err
		}
		c.State = StateDisconnected
	}
	if c.State == StateDisconnected || c.State == StateFailed {
		if err := l.transition(peer, c.State, StateDiscovering); err != nil {
			return err
		}
		c.State = StateDiscovering
	}
	for _, next := range []State{StateConnecting, StateChannelOpening, StateConnected} {
		if err := l.transition(peer, c.State, next); err != nil {
			return err
		}
		c.State = next
	}
	if err := l.store.TouchContact(peer, l.clk.Now().UnixMilli(), c.LastLatencyMs); err != nil {
		l.logger.Errorw("Failed to record peer contact", "peer", peer, "error", err)
	}

	l.mu.Lock()
	l.streams[peer] = h
	l.mu.Unlock()

	l.stats.Counter("inbound_connects").Inc(1)
	return nil
}

// ObserveSignals records fresh priority signals for peer and recomputes
// its priority tier when the change is significant. Jittery updates leave
// the tier untouched.
func (l *Lifecycle) ObserveSignals(peer core.PeerID, next Signals) error {
	c, err := l.store.Get(peer)
	if err != nil {
		return err
	}
	prev := c.Signals()
	if err := l.store.UpdateSignals(peer, next); err != nil {
		return fmt.Errorf("update signals: %s", err)
	}
	if !ShouldRecalc(prev, next) {
		return nil
	}
	p := Priority(next)
	if p == c.Priority {
		return nil
	}
	if err := l.store.UpdatePriority(peer, p); err != nil {
		return fmt.Errorf("update priority: %s", err)
	}
	l.stats.Counter("priority_recalcs").Inc(1)
	l.logger.Infow("Peer priority changed", "peer", peer, "from", c.Priority, "to", p)
	return nil
}

// Stream returns the live stream for peer, or ErrNotConnected.
func (l *Lifecycle) Stream(peer core.PeerID) (stream.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.streams[peer]
	if !ok {
		return nil, ErrNotConnected
	}
	return h, nil
}

// ConnectedPeers returns the peers with a live stream.
func (l *Lifecycle) ConnectedPeers() []core.PeerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	peers := make([]core.PeerID, 0, len(l.streams))
	for p := range l.streams {
		peers = append(peers, p)
	}
	return peers
}

// Disconnect tears down peer's stream and moves it to Disconnected. The
// stream is always closed when leaving Connected, even if the record
// update fails.
func (l *Lifecycle) Disconnect(peer core.PeerID) error {
	l.mu.Lock()
	h, ok := l.streams[peer]
	delete(l.streams, peer)
	l.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	h.Close()

	err := l.transition(peer, StateConnected, StateDisconnected)
	l.stats.Counter("disconnects").Inc(1)
	if l.onDisconnect != nil {
		l.onDisconnect(peer)
	}
	return err
}

// Fail marks a disconnected peer as failed. Failed peers are not
// reconnected until rediscovered.
func (l *Lifecycle) Fail(peer core.PeerID) error {
	if err := l.transition(peer, StateDisconnected, StateFailed); err != nil {
		return err
	}
	l.stats.Counter("failed_peers").Inc(1)
	l.logger.Infow("Peer marked failed", "peer", peer)
	return nil
}

// demote lands peer in Disconnected after a failed connect step and
// fires the disconnect callback so reconnection gets scheduled.
func (l *Lifecycle) demote(peer core.PeerID, from State) {
	if err := l.transition(peer, from, StateDisconnected); err != nil {
		l.logger.Errorw("Failed to demote peer", "peer", peer, "error", err)
		return
	}
	if l.onDisconnect != nil {
		l.onDisconnect(peer)
	}
}

// transition validates and persists a single state change.
func (l *Lifecycle) transition(peer core.PeerID, from, to State) error {
	if !from.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	if err := l.store.UpdateState(peer, to); err != nil {
		return fmt.Errorf("update state: %s", err)
	}
	return nil
}
