// Package ratelimit provides per-peer token-bucket admission control over
// inbound and outbound event rates, plus a node-wide ingress bucket.
package ratelimit

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"golang.org/x/time/rate"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/utils/dedup"
)

// Idle peer buckets are garbage collected on this interval.
const _bucketGCInterval = 10 * time.Minute

// BucketConfig defines one token bucket's parameters.
type BucketConfig struct {
	Capacity     int     `yaml:"capacity"`
	RefillPerSec float64 `yaml:"refill_per_sec"`
}

func (c BucketConfig) applyDefaults() BucketConfig {
	if c.Capacity == 0 {
		c.Capacity = 100
	}
	if c.RefillPerSec == 0 {
		c.RefillPerSec = 20
	}
	return c
}

// Config defines rate limiter configuration.
type Config struct {
	PerPeer BucketConfig `yaml:"per_peer"`
	Global  BucketConfig `yaml:"global"`
	Local   BucketConfig `yaml:"local"`
}

func (c Config) applyDefaults() Config {
	c.PerPeer = c.PerPeer.applyDefaults()
	if c.Global.Capacity == 0 {
		c.Global.Capacity = 10 * c.PerPeer.Capacity
	}
	if c.Global.RefillPerSec == 0 {
		c.Global.RefillPerSec = 10 * c.PerPeer.RefillPerSec
	}
	c.Local = c.Local.applyDefaults()
	return c
}

type peerBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter admits or drops events per peer. A nil peer (locally published
// events) consults the local-publisher bucket instead.
type Limiter struct {
	config Config
	clk    clock.Clock

	mu     sync.Mutex
	peers  map[core.PeerID]*peerBucket
	global *rate.Limiter
	local  *rate.Limiter

	gc *dedup.IntervalTrap
}

// New creates a new Limiter.
func New(config Config, clk clock.Clock) *Limiter {
	config = config.applyDefaults()
	l := &Limiter{
		config: config,
		clk:    clk,
		peers:  make(map[core.PeerID]*peerBucket),
		global: rate.NewLimiter(rate.Limit(config.Global.RefillPerSec), config.Global.Capacity),
		local:  rate.NewLimiter(rate.Limit(config.Local.RefillPerSec), config.Local.Capacity),
	}
	l.gc = dedup.NewIntervalTrap(_bucketGCInterval, clk, &bucketGC{l})
	return l
}

// AllowInbound consumes one token from the global bucket and from sender's
// bucket (or the local-publisher bucket when sender is nil). Returns false
// without side effect on the peer bucket if the global bucket is drained.
func (l *Limiter) AllowInbound(sender *core.PeerID) bool {
	if !l.global.AllowN(l.clk.Now(), 1) {
		return false
	}
	if sender == nil {
		return l.local.AllowN(l.clk.Now(), 1)
	}
	return l.allowPeer(*sender)
}

// AllowOutbound consumes one token from peer's bucket for an outbound send.
func (l *Limiter) AllowOutbound(peer core.PeerID) bool {
	return l.allowPeer(peer)
}

func (l *Limiter) allowPeer(peer core.PeerID) bool {
	l.gc.Trap()

	now := l.clk.Now()

	l.mu.Lock()
	b, ok := l.peers[peer]
	if !ok {
		b = &peerBucket{
			limiter: rate.NewLimiter(
				rate.Limit(l.config.PerPeer.RefillPerSec), l.config.PerPeer.Capacity),
		}
		l.peers[peer] = b
	}
	b.lastUsed = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

type bucketGC struct {
	limiter *Limiter
}

func (gc *bucketGC) Run() {
	l := gc.limiter

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clk.Now().Add(-_bucketGCInterval)
	for peer, b := range l.peers {
		if b.lastUsed.Before(cutoff) {
			delete(l.peers, peer)
		}
	}
}
