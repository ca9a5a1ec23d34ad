package subscription

import "time"

// Config defines subscription manager configuration.
type Config struct {
	// ExpiryTick is the cadence of the background reap of expired
	// subscriptions.
	ExpiryTick time.Duration `yaml:"expiry_tick"`

	// MaxIDLength bounds caller-supplied subscription ids.
	MaxIDLength int `yaml:"max_id_length"`
}

func (c Config) applyDefaults() Config {
	if c.ExpiryTick == 0 {
		c.ExpiryTick = time.Minute
	}
	if c.MaxIDLength == 0 {
		c.MaxIDLength = 64
	}
	return c
}

// RenewerConfig defines subscription renewer configuration. Renewal runs
// unless explicitly disabled.
type RenewerConfig struct {
	Disabled bool `yaml:"disabled"`

	// CheckInterval is the cadence of renewal sweeps.
	CheckInterval time.Duration `yaml:"check_interval"`

	// Window is the look-ahead horizon: subscriptions expiring within it
	// are candidates for renewal.
	Window time.Duration `yaml:"window"`

	// Extension is how far a successful renewal advances the expiry.
	Extension time.Duration `yaml:"extension"`

	// Price is the payment attached to each renewal request.
	Price int64 `yaml:"price"`
}

func (c RenewerConfig) applyDefaults() RenewerConfig {
	if c.CheckInterval == 0 {
		c.CheckInterval = time.Hour
	}
	if c.Window == 0 {
		c.Window = 6 * time.Hour
	}
	if c.Extension == 0 {
		c.Extension = 24 * time.Hour
	}
	if c.Price == 0 {
		c.Price = 1
	}
	return c
}
