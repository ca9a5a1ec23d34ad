package subscription

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
)

// Manager errors.
var (
	ErrDuplicateSubscription = errors.New("subscription id already exists")
	ErrNotFound              = errors.New("subscription not found")
	ErrIDTooLong             = errors.New("subscription id exceeds max length")
)

// closePacket notifies a subscriber that its subscription is gone.
type closePacket struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
	Reason         string `json:"reason"`
}

func marshalClosePacket(id, reason string) []byte {
	b, _ := json.Marshal(closePacket{Type: "CLOSE", SubscriptionID: id, Reason: reason})
	return b
}

// Manager owns the subscription map and its inverted index. Find/match
// take a read lock; add/remove take a write lock.
type Manager struct {
	config Config
	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	subs  map[string]*Subscription
	index *Index

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a new Manager and starts its expiry loop.
func NewManager(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger) *Manager {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "subscription",
	})

	m := &Manager{
		config: config,
		clk:    clk,
		stats:  stats,
		logger: logger,
		subs:   make(map[string]*Subscription),
		index:  NewIndex(),
		done:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.expiryLoop()

	return m
}

// Add inserts and indexes sub. Fails with ErrDuplicateSubscription if the
// id is taken.
func (m *Manager) Add(sub *Subscription) error {
	if len(sub.ID) > m.config.MaxIDLength {
		return ErrIDTooLong
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[sub.ID]; ok {
		return ErrDuplicateSubscription
	}
	m.subs[sub.ID] = sub
	m.index.Add(sub)
	m.stats.Gauge("active_subscriptions").Update(float64(len(m.subs)))
	return nil
}

// Remove deactivates and removes the subscription with the given id.
// Returns false if no such subscription exists.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) bool {
	sub, ok := m.subs[id]
	if !ok {
		return false
	}
	sub.Deactivate()
	m.index.Remove(sub)
	delete(m.subs, id)
	m.stats.Gauge("active_subscriptions").Update(float64(len(m.subs)))
	return true
}

// Get returns the subscription with the given id.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	return sub, ok
}

// FindMatching returns every active, unexpired subscription with at least
// one filter matching e.
func (m *Manager) FindMatching(e *core.Event) []*Subscription {
	timer := m.stats.Timer("match_time").Start()
	defer timer.Stop()

	now := m.clk.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Subscription
	for id := range m.index.FindCandidates(e) {
		sub, ok := m.subs[id]
		if !ok {
			continue
		}
		if sub.Matches(e, now) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// ListBySubscriber returns all subscriptions owned by peer.
func (m *Manager) ListBySubscriber(peer core.PeerID) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range m.subs {
		if sub.Subscriber == peer {
			subs = append(subs, sub)
		}
	}
	return subs
}

// RemoveBySubscriber deactivates and removes all of peer's subscriptions,
// returning them.
func (m *Manager) RemoveBySubscriber(peer core.PeerID) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []*Subscription
	for id, sub := range m.subs {
		if sub.Subscriber == peer {
			removed = append(removed, sub)
			m.removeLocked(id)
		}
	}
	return removed
}

// ExpiringWithin returns active subscriptions whose expiry falls within d
// from now.
func (m *Manager) ExpiringWithin(d time.Duration) []*Subscription {
	now := m.clk.Now()
	horizon := now.Add(d)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range m.subs {
		if !sub.Active() || sub.Expired(now) {
			continue
		}
		if sub.ExpiresAt().Before(horizon) {
			subs = append(subs, sub)
		}
	}
	return subs
}

// ReapExpired deactivates every subscription past its expiry and returns
// them for cleanup. The entries remain in the map until removed.
func (m *Manager) ReapExpired() []*Subscription {
	now := m.clk.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []*Subscription
	for _, sub := range m.subs {
		if sub.Active() && sub.Expired(now) {
			sub.Deactivate()
			reaped = append(reaped, sub)
		}
	}
	return reaped
}

// Stop terminates the expiry loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Manager) expiryLoop() {
	defer m.wg.Done()

	ticker := m.clk.Ticker(m.config.ExpiryTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.expireTick()
		case <-m.done:
			return
		}
	}
}

// expireTick reaps expired subscriptions, issues a best-effort CLOSE over
// each one's stream, and removes the entries. A failed stream send is
// logged but never prevents removal.
func (m *Manager) expireTick() {
	for _, sub := range m.ReapExpired() {
		if err := sub.Stream.SendPacket(marshalClosePacket(sub.ID, "expired")); err != nil {
			m.log("subscription", sub).Infof("Error sending CLOSE for expired subscription: %s", err)
		}
		m.Remove(sub.ID)
		m.stats.Counter("expired_subscriptions").Inc(1)
	}
}

func (m *Manager) log(args ...interface{}) *zap.SugaredLogger {
	return m.logger.With(args...)
}
