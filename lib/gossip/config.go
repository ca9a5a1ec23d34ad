package gossip

import (
	"time"

	"github.com/notemesh/notemesh/lib/gossip/ratelimit"
)

// Config defines propagation engine configuration.
type Config struct {
	// MaxTTL caps the relay budget of locally published events and
	// bounds the hop count accepted from peers.
	MaxTTL uint8 `yaml:"max_ttl"`

	// SeenCacheSize bounds the node-wide duplicate suppression window,
	// in number of event ids.
	SeenCacheSize int `yaml:"seen_cache_size"`

	// SentCacheSizePerPeer bounds the per-peer forwarded-event window.
	SentCacheSizePerPeer int `yaml:"sent_cache_size_per_peer"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`

	// ShutdownTimeout bounds how long Shutdown waits for in-flight
	// fan-outs to drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.MaxTTL == 0 {
		c.MaxTTL = 5
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}
