package connection

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// Retry policy kinds.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// minRetryDelay is the floor applied to every retry delay so no policy can
// produce a tight reconnect loop.
const minRetryDelay = 500 * time.Millisecond

// RetryPolicy configures the delay between automatic reconnect attempts.
type RetryPolicy struct {
	// Kind is RetryFixed or RetryExponential.
	Kind string

	// InitialDelay is the fixed delay, or the first exponential delay.
	InitialDelay time.Duration

	// MaxDelay caps exponential growth. Ignored for fixed policies.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Default: 1.5
	Multiplier float64

	// Jitter is the randomisation factor in [0,1). Default: 0
	Jitter float64
}

// DefaultRetryPolicy returns 3s growing by 1.5x up to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Kind:         RetryExponential,
		InitialDelay: 3 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.5,
	}
}

// Validate checks the policy for obvious mistakes.
func (p RetryPolicy) Validate() error {
	switch p.Kind {
	case RetryFixed, RetryExponential, "":
	default:
		return fmt.Errorf("retry policy %q: must be %q or %q", p.Kind, RetryFixed, RetryExponential)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry policy: delays must not be negative")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("retry policy: jitter must be in [0,1)")
	}
	return nil
}

// newBackOff builds the backoff sequence for the policy. The clock is only
// used for elapsed-time bookkeeping; MaxElapsedTime is disabled so retries
// never stop on their own.
func (p RetryPolicy) newBackOff(clk clock.Clock) backoff.BackOff {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultRetryPolicy().InitialDelay
	}

	if p.Kind == RetryFixed {
		return boundedBackOff{backoff.NewConstantBackOff(initial)}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval < initial {
		b.MaxInterval = initial
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = DefaultRetryPolicy().Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Clock = clk
	b.Reset()

	return boundedBackOff{b}
}

// boundedBackOff clamps every delay to at least minRetryDelay and turns
// backoff.Stop into the floor as well.
type boundedBackOff struct {
	backoff.BackOff
}

func (b boundedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop || d < minRetryDelay {
		return minRetryDelay
	}
	return d
}
