package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrExhausted is returned when every attempt of a call failed
var ErrExhausted = errors.New("retries exhausted")

// Config bounds calls to an external service
type Config struct {
	Attempts        int           // total attempts including the first, default 3
	InitialInterval time.Duration // first backoff delay, default 500ms
	MaxInterval     time.Duration // backoff cap, default 10s
	Timeout         time.Duration // per attempt, default 30s; 0 in a literal Config means none
	RatePerSecond   float64       // 0 disables rate limiting
	Burst           int
}

// DefaultConfig returns the standard retry policy
func DefaultConfig() Config {
	return Config{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Timeout:         30 * time.Second,
		RatePerSecond:   2,
		Burst:           1,
	}
}

// Policy runs calls with a rate limit, a per-attempt timeout and exponential
// backoff between attempts. It is safe for concurrent use.
type Policy struct {
	config  Config
	limiter *rate.Limiter
}

// NewPolicy creates a policy from config
func NewPolicy(config Config) *Policy {
	if config.Attempts <= 0 {
		config.Attempts = 1
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultConfig().InitialInterval
	}
	if config.MaxInterval < config.InitialInterval {
		config.MaxInterval = config.InitialInterval
	}

	p := &Policy{config: config}
	if config.RatePerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}
	return p
}

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a permanent error or runs out of
// attempts. Exhaustion is reported as ErrExhausted wrapping the last error.
// Cancellation of ctx returns ctx.Err().
func (p *Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialInterval
	b.MaxInterval = p.config.MaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	permanent := false
	var lastErr error

	op := func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				permanent = true
				return backoff.Permanent(err)
			}
		}

		attempts++
		callCtx := ctx
		if p.config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *backoff.PermanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("call", name).Int("attempt", attempts).Dur("retry_in", wait).Msg("call failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.Attempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case permanent:
		var perm *backoff.PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		return err
	case lastErr == nil:
		return err
	}

	log.Warn().Err(lastErr).Str("call", name).Int("attempts", attempts).Msg("giving up")
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, attempts, lastErr)
}
