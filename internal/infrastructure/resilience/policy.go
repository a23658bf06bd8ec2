package resilience

import "time"

// Config tunes provider calls. A single attempt is the default: documents are
// not retried automatically, a failed job is resubmitted by its owner.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// ProviderPolicy is the policy for parser and LLM calls. attempts <= 0 keeps
// the single-attempt default.
func ProviderPolicy(attempts int, breaker bool) Config {
	cfg := DefaultConfig()
	if attempts > 0 {
		cfg.RetryMaxAttempts = attempts
	}
	cfg.BreakerEnabled = breaker
	return cfg
}

// EventPolicy is the policy for job-finished notifications. Publishing is
// cheap and consumers tolerate duplicates, so transient failures are retried
// and the breaker trips sooner than for providers.
func EventPolicy() Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     50 * time.Millisecond,
		RetryMaxBackoff:         500 * time.Millisecond,
		RetryMultiplier:         2.0,
		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      10 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

// backoff is the wait after the given failed attempt, starting at 1.
func (c Config) backoff(attempt int) time.Duration {
	wait := c.RetryInitialBackoff
	for i := 1; i < attempt && wait < c.RetryMaxBackoff; i++ {
		wait = time.Duration(float64(wait) * c.RetryMultiplier)
	}
	return min(wait, c.RetryMaxBackoff)
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
