package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/utils/backoff"
)

// Connector is the subset of Lifecycle the reconnection scheduler drives.
type Connector interface {
	Discover(peer core.PeerID, signals Signals) error
	Connect(ctx context.Context, peer core.PeerID) error
	Fail(peer core.PeerID) error
}

// Scheduler retries connections to disconnected peers with exponential
// backoff. A peer which exhausts its attempts is marked failed and left
// alone until it is rediscovered, which resets the attempt count.
type Scheduler struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	logger *zap.SugaredLogger

	store     *Store
	connector Connector
	backoff   *backoff.Backoff

	mu      sync.Mutex
	timers  map[core.PeerID]*clock.Timer
	stopped bool
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	store *Store,
	connector Connector) *Scheduler {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "reconnect",
	})
	return &Scheduler{
		config:    config,
		stats:     stats,
		clk:       clk,
		logger:    logger,
		store:     store,
		connector: connector,
		backoff:   backoff.New(config.Reconnect.Backoff),
		timers:    make(map[core.PeerID]*clock.Timer),
	}
}

// PeerDisconnected schedules a reconnection attempt for peer, delayed by
// backoff on the peer's attempt count. Once the count reaches the attempt
// limit the peer is marked failed instead. Safe to call repeatedly; a
// pending attempt is never double-scheduled.
func (s *Scheduler) PeerDisconnected(peer core.PeerID) {
	c, err := s.store.Get(peer)
	if err != nil {
		s.logger.Errorw("Failed to load peer for reconnect", "peer", peer, "error", err)
		return
	}
	if c.ReconnectAttempts >= s.config.Reconnect.MaxAttempts {
		if err := s.connector.Fail(peer); err != nil {
			s.logger.Errorw("Failed to mark peer failed", "peer", peer, "error", err)
			return
		}
		s.stats.Counter("exhausted").Inc(1)
		return
	}
	delay := s.backoff.Duration(c.ReconnectAttempts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[peer]; ok {
		return
	}
	s.timers[peer] = s.clk.AfterFunc(delay, func() { s.attempt(peer) })
	s.stats.Counter("scheduled").Inc(1)
	s.logger.Infow("Reconnect scheduled",
		"peer", peer, "delay", delay, "attempts", c.ReconnectAttempts)
}

// PeerConnected cancels any pending reconnection attempt for peer.
func (s *Scheduler) PeerConnected(peer core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[peer]; ok {
		t.Stop()
		delete(s.timers, peer)
	}
}

// ReconcileOnStartup repairs peer records left over from a previous run.
// Peers recorded mid-connection or connected have no live stream anymore
// and are demoted to disconnected. When auto reconnect on startup is
// enabled, all reconnectable peers are then scheduled, best priority
// first.
func (s *Scheduler) ReconcileOnStartup() error {
	conns, err := s.store.ListAll()
	if err != nil {
		return fmt.Errorf("list peers: %s", err)
	}
	for _, c := range conns {
		switch c.State {
		case StateConnecting, StateChannelOpening, StateConnected:
			peer, err := c.PeerID()
			if err != nil {
				return fmt.Errorf("corrupt peer record %q: %s", c.PubKey, err)
			}
			if err := s.store.UpdateState(peer, StateDisconnected); err != nil {
				return fmt.Errorf("demote stale peer %s: %s", peer, err)
			}
			c.State = StateDisconnected
		}
	}
	if s.config.Reconnect.DisableAutoOnStartup {
		return nil
	}
	// ListAll orders by ascending priority, so better peers get their
	// timers registered first.
	for _, c := range conns {
		peer, err := c.PeerID()
		if err != nil {
			return fmt.Errorf("corrupt peer record %q: %s", c.PubKey, err)
		}
		switch c.State {
		case StateDisconnected:
			s.PeerDisconnected(peer)
		case StateDiscovering:
			s.schedule(peer, 0)
		}
	}
	return nil
}

// Stop cancels all pending reconnection attempts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for peer, t := range s.timers {
		t.Stop()
		delete(s.timers, peer)
	}
}

func (s *Scheduler) schedule(peer core.PeerID, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[peer]; ok {
		return
	}
	s.timers[peer] = s.clk.AfterFunc(delay, func() { s.attempt(peer) })
	s.stats.Counter("scheduled").Inc(1)
}

// attempt performs one reconnection attempt. Failures land the peer back
// in Disconnected via the lifecycle's disconnect callback, which calls
// PeerDisconnected and schedules the next attempt.
func (s *Scheduler) attempt(peer core.PeerID) {
	s.mu.Lock()
	delete(s.timers, peer)
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	if _, err := s.store.IncrementReconnect(peer); err != nil {
		s.logger.Errorw("Failed to count reconnect attempt", "peer", peer, "error", err)
		return
	}
	if err := s.connector.Discover(peer, Signals{}); err != nil {
		if err == ErrAlreadyConnected || err == ErrAlreadyConnecting {
			// The peer dialed us while our timer was pending.
			return
		}
		s.logger.Errorw("Failed to rediscover peer", "peer", peer, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := s.connector.Connect(ctx, peer); err != nil {
		s.stats.Counter("attempt_failures").Inc(1)
		s.logger.Infow("Reconnect attempt failed", "peer", peer, "error", err)
		return
	}
	s.stats.Counter("reconnects").Inc(1)
	s.PeerConnected(peer)
}
