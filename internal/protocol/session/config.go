package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTimeout = errors.New("session: timeout must be positive")
)

// Recommended bounds for connect/read timeouts. Both peers should agree on
// the read timeout so neither side gives up mid-transfer.
const (
	MinRecommendedTimeout = 8 * time.Second
	MaxRecommendedTimeout = 15 * time.Second
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transfer timeouts shared by the listener and the sender.
//
// ReadTimeout is the single authoritative deadline for one inbound
// transfer: command line and payload must both arrive within it.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    12 * time.Second,
		WriteTimeout:   12 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay == 0 && c.Backoff.MaxDelay == 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Validate rejects non-finite timeouts. A timeout always yields a failure,
// so zero or negative values are never accepted.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout=%s", ErrInvalidTimeout, c.ConnectTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout=%s", ErrInvalidTimeout, c.ReadTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout=%s", ErrInvalidTimeout, c.WriteTimeout)
	}
	return nil
}

// OutsideRecommended lists timeout names outside the recommended range.
func (c Config) OutsideRecommended() []string {
	var out []string
	check := func(name string, d time.Duration) {
		if d < MinRecommendedTimeout || d > MaxRecommendedTimeout {
			out = append(out, name)
		}
	}
	check("connect_timeout", c.ConnectTimeout)
	check("read_timeout", c.ReadTimeout)
	return out
}
