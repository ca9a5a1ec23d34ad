package connection

import (
	"time"

	"github.com/notemesh/notemesh/utils/backoff"
)

// Config defines connection lifecycle configuration.
type Config struct {
	// DialTimeout bounds a single transport dial plus payment channel
	// open during reconnection.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	c.Reconnect = c.Reconnect.applyDefaults()
	return c
}

// ReconnectConfig defines reconnection scheduling configuration.
type ReconnectConfig struct {
	// MaxAttempts is the number of reconnection attempts made before a
	// peer is marked failed and left to rediscovery.
	MaxAttempts int `yaml:"max_attempts"`

	// DisableAutoOnStartup turns off the startup pass that schedules
	// reconnection for all known non-failed peers, ordered by priority.
	DisableAutoOnStartup bool `yaml:"disable_auto_on_startup"`

	Backoff backoff.Config `yaml:"backoff"`
}

func (c ReconnectConfig) applyDefaults() ReconnectConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	return c
}
