package classifier

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the classifier's tuning. Thresholds are in bits per second
// and must be ascending.
type Config struct {
	Alpha              float64
	MinBytes           int64
	MinElapsed         time.Duration
	FloorBitsPerSecond float64
	PoorBelow          float64
	ModerateBelow      float64
	GoodBelow          float64

	dispatch func(func())
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:              0.2,
		MinBytes:           20_000,
		MinElapsed:         10 * time.Millisecond,
		FloorBitsPerSecond: 10_000,
		PoorBelow:          150_000,
		ModerateBelow:      550_000,
		GoodBelow:          2_000_000,
	}
}

func (c Config) bucket(bps float64) Quality {
	switch {
	case bps <= 0:
		return Unknown
	case bps < c.PoorBelow:
		return Poor
	case bps < c.ModerateBelow:
		return Moderate
	case bps < c.GoodBelow:
		return Good
	default:
		return Excellent
	}
}

// Option is a functional option for [New].
type Option func(*Config) error

// WithSmoothing sets the weight given to the newest sample, in (0, 1].
func WithSmoothing(alpha float64) Option {
	return func(c *Config) error {
		if alpha <= 0 || alpha > 1 {
			return fmt.Errorf("smoothing factor %v must be in (0, 1]", alpha)
		}
		c.Alpha = alpha
		return nil
	}
}

// WithMinimumSample sets the size and duration below which samples are ignored.
func WithMinimumSample(bytes int64, elapsed time.Duration) Option {
	return func(c *Config) error {
		if bytes < 0 || elapsed < 0 {
			return errors.New("minimum sample must not be negative")
		}
		c.MinBytes = bytes
		c.MinElapsed = elapsed
		return nil
	}
}

// WithThresholds sets the upper bounds of the poor, moderate and good buckets.
func WithThresholds(poor, moderate, good float64) Option {
	return func(c *Config) error {
		if poor <= 0 || poor >= moderate || moderate >= good {
			return fmt.Errorf("thresholds %v < %v < %v must be positive and ascending", poor, moderate, good)
		}
		c.PoorBelow = poor
		c.ModerateBelow = moderate
		c.GoodBelow = good
		return nil
	}
}

// WithDispatcher routes listener notifications through fn.
func WithDispatcher(fn func(func())) Option {
	return func(c *Config) error {
		c.dispatch = fn
		return nil
	}
}
