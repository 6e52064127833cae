package watch

import (
	"errors"
	"sync"
	"time"
)

// CadenceConfig holds the base, step and ceiling of both check periods.
type CadenceConfig struct {
	BaseShort      time.Duration
	BaseLong       time.Duration
	ShortIncrement time.Duration
	LongIncrement  time.Duration
	MaxShort       time.Duration
	MaxLong        time.Duration
}

// DefaultCadence returns the stock check periods.
func DefaultCadence() CadenceConfig {
	return CadenceConfig{
		BaseShort:      30 * time.Second,
		BaseLong:       10 * time.Minute,
		ShortIncrement: 15 * time.Second,
		LongIncrement:  5 * time.Minute,
		MaxShort:       5 * time.Minute,
		MaxLong:        time.Hour,
	}
}

// Validate checks that periods are positive and ceilings are not below bases.
func (c CadenceConfig) Validate() error {
	if c.BaseShort <= 0 || c.BaseLong <= 0 {
		return errors.New("cadence: base periods must be positive")
	}
	if c.ShortIncrement < 0 || c.LongIncrement < 0 {
		return errors.New("cadence: increments must not be negative")
	}
	if c.MaxShort < c.BaseShort || c.MaxLong < c.BaseLong {
		return errors.New("cadence: max period below base period")
	}
	return nil
}

// Cadence adapts check periods to wall activity: any change snaps both back
// to base, quiet checks stretch them up to their ceilings.
type Cadence struct {
	mu    sync.Mutex
	cfg   CadenceConfig
	short time.Duration
	long  time.Duration
}

// NewCadence starts at the base periods.
func NewCadence(cfg CadenceConfig) *Cadence {
	return &Cadence{cfg: cfg, short: cfg.BaseShort, long: cfg.BaseLong}
}

// Observe records the outcome of a check.
func (c *Cadence) Observe(changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if changed {
		c.short = c.cfg.BaseShort
		c.long = c.cfg.BaseLong
		return
	}
	c.short = min(c.short+c.cfg.ShortIncrement, c.cfg.MaxShort)
	c.long = min(c.long+c.cfg.LongIncrement, c.cfg.MaxLong)
}

// Short returns the current short period.
func (c *Cadence) Short() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.short
}

// Long returns the current long period.
func (c *Cadence) Long() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.long
}
