package subscription

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/lib/payment"
)

// renewPacket asks a subscriber's node to extend a subscription, carrying
// the attached payment.
type renewPacket struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
	ExtensionMs    int64  `json:"extension_ms"`
	Payment        int64  `json:"payment"`
}

// Renewer periodically renews subscriptions whose expiry falls inside the
// configured look-ahead window, paying per renewal over the settlement
// layer. Overlapping ticks are coalesced.
type Renewer struct {
	config   RenewerConfig
	clk      clock.Clock
	stats    tally.Scope
	logger   *zap.SugaredLogger
	manager  *Manager
	channels payment.Channels

	inflight sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRenewer creates a new Renewer. It is inert until Start.
func NewRenewer(
	config RenewerConfig,
	stats tally.Scope,
	clk clock.Clock,
	manager *Manager,
	channels payment.Channels,
	logger *zap.SugaredLogger) *Renewer {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{
		"module": "renewer",
	})

	return &Renewer{
		config:   config,
		clk:      clk,
		stats:    stats,
		logger:   logger,
		manager:  manager,
		channels: channels,
		done:     make(chan struct{}),
	}
}

// Start launches the renewal loop. No-op when renewal is disabled.
func (r *Renewer) Start() {
	if r.config.Disabled {
		r.logger.Info("Subscription renewal disabled")
		return
	}
	r.wg.Add(1)
	go r.loop()
}

// Stop terminates the renewal loop.
func (r *Renewer) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Renewer) loop() {
	defer r.wg.Done()

	ticker := r.clk.Ticker(r.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-r.done:
			return
		}
	}
}

// Tick performs one renewal sweep. Concurrent ticks coalesce: a tick that
// arrives while another runs returns immediately.
func (r *Renewer) Tick() {
	if !r.inflight.TryLock() {
		return
	}
	defer r.inflight.Unlock()

	for _, sub := range r.manager.ExpiringWithin(r.config.Window) {
		switch err := r.renew(sub); err {
		case nil:
			r.stats.Counter("renewed").Inc(1)
		case errSkipped:
			r.stats.Counter("skipped").Inc(1)
		default:
			r.stats.Counter("renew_failures").Inc(1)
			r.log("subscription", sub).Errorf("Error renewing subscription: %s", err)
		}
	}
}

// errSkipped marks renewals withheld for non-error reasons (preference,
// insufficient balance).
var errSkipped = fmt.Errorf("renewal skipped")

func (r *Renewer) renew(sub *Subscription) error {
	if !sub.AutoRenew {
		return errSkipped
	}

	balance, err := r.channels.Balance(sub.Subscriber)
	if err == payment.ErrNoChannel {
		return errSkipped
	} else if err != nil {
		return fmt.Errorf("channel balance: %s", err)
	}
	if balance < r.config.Price {
		r.log("subscription", sub).Info("Skipping renewal: insufficient channel balance")
		return errSkipped
	}

	b, err := json.Marshal(renewPacket{
		Type:           "RENEW",
		SubscriptionID: sub.ID,
		ExtensionMs:    r.config.Extension.Milliseconds(),
		Payment:        r.config.Price,
	})
	if err != nil {
		return fmt.Errorf("marshal renew packet: %s", err)
	}
	if err := sub.Stream.SendPacket(b); err != nil {
		return fmt.Errorf("send renew packet: %s", err)
	}

	sub.SetExpiresAt(sub.ExpiresAt().Add(r.config.Extension))
	r.log("subscription", sub).Infof("Renewed subscription until %s", sub.ExpiresAt())
	return nil
}

func (r *Renewer) log(args ...interface{}) *zap.SugaredLogger {
	return r.logger.With(args...)
}
