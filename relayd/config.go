package main

import (
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/lib/connection"
	"github.com/notemesh/notemesh/lib/eventstore"
	"github.com/notemesh/notemesh/lib/gossip"
	"github.com/notemesh/notemesh/lib/subscription"
	"github.com/notemesh/notemesh/localdb"
	"github.com/notemesh/notemesh/metrics"
)

// Config defines relayd configuration.
type Config struct {
	ZapLogging   zap.Config                 `yaml:"zap"`
	Port         int                        `yaml:"port"`
	Metrics      metrics.Config             `yaml:"metrics"`
	Database     localdb.Config             `yaml:"database"`
	EventCache   eventstore.RedisConfig     `yaml:"event_cache"`
	Subscription subscription.Config        `yaml:"subscription"`
	Renewer      subscription.RenewerConfig `yaml:"renewer"`
	Connection   connection.Config          `yaml:"connection"`
	Gossip       gossip.Config              `yaml:"gossip"`

	// Peers maps peer public keys to dialable addresses. Peer discovery
	// is static in this deployment model.
	Peers map[string]string `yaml:"peers"`

	// Channels maps peer public keys to spendable payment channel
	// balances observed from the settlement layer.
	Channels map[string]int64 `yaml:"channels"`
}
