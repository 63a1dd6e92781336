package gateway

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vnykmshr/stageflow/pkg/common/clock"
	sferrors "github.com/vnykmshr/stageflow/pkg/common/errors"
	"github.com/vnykmshr/stageflow/pkg/common/validation"
)

// Backoff describes the delay between attempts.
type Backoff struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration `yaml:"initial"`

	// Max caps any single delay.
	Max time.Duration `yaml:"max"`

	// Multiplier grows the delay after each attempt.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes each delay by up to this fraction.
	Jitter float64 `yaml:"jitter"`
}

// Policy bounds a single gateway call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout"`

	Backoff Backoff `yaml:"backoff"`
}

// DefaultPolicy returns three attempts with a two second per-attempt
// timeout and exponential backoff starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     2 * time.Second,
		Backoff: Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if err := validation.ValidatePositive("gateway", "max_attempts", p.MaxAttempts); err != nil {
		return err
	}
	if err := validation.ValidateDuration("gateway", "timeout", p.Timeout); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("gateway", "backoff.initial", p.Backoff.Initial.Seconds()); err != nil {
		return err
	}
	if p.Backoff.Multiplier != 0 && p.Backoff.Multiplier < 1 {
		return sferrors.NewValidationError("gateway", "backoff.multiplier", p.Backoff.Multiplier, "must be at least 1").
			WithHint("use 1 for constant delays or 0 for the default")
	}
	return validation.ValidateProbability("gateway", "backoff.jitter", p.Backoff.Jitter)
}

// newBackOff builds the delay sequence for one call. Elapsed time is
// measured on clk so tests can drive it with a fake clock.
func (b Backoff) newBackOff(clk clock.Clock) backoff.BackOff {
	multiplier := b.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}
	maxInterval := b.Max
	if maxInterval <= 0 {
		maxInterval = b.Initial
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: b.Jitter,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	eb.Reset()
	return eb
}
