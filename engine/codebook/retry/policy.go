package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/compozy/codebook/pkg/config"
	"github.com/compozy/codebook/pkg/logger"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Policy describes how a single call site retries.
type Policy struct {
	Name     string
	Attempts uint64
	Backoff  BackoffKind
	Base     time.Duration
	// Max caps each individual wait for exponential backoff.
	Max time.Duration
	// Retryable decides which errors are worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

// FromConfig builds a policy from its configuration block.
func FromConfig(name string, cfg config.RetryPolicyConfig, retryable func(error) bool) Policy {
	return Policy{
		Name:      name,
		Attempts:  cfg.Attempts,
		Backoff:   BackoffKind(cfg.Backoff),
		Base:      cfg.Base,
		Max:       cfg.Max,
		Retryable: retryable,
	}
}

func UpsertPolicy(cfg *config.Config, retryable func(error) bool) Policy {
	return FromConfig("upsert", cfg.Retry.Upsert, retryable)
}

func StatusPolicy(cfg *config.Config, retryable func(error) bool) Policy {
	return FromConfig("status", cfg.Retry.Status, retryable)
}

func MaintenancePolicy(cfg *config.Config, retryable func(error) bool) Policy {
	return FromConfig("maintenance", cfg.Retry.Maintenance, retryable)
}

// QueryPolicy wraps a whole question, retrieval included.
func QueryPolicy(cfg *config.Config, retryable func(error) bool) Policy {
	return FromConfig("query", cfg.Retry.Query, retryable)
}

// WithRetryable returns a copy of p using the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Nanosecond
	}
	var b retry.Backoff
	switch p.Backoff {
	case BackoffExponential:
		b = retry.NewExponential(base)
		if p.Max > 0 {
			b = retry.WithCappedDuration(p.Max, b)
		}
	default:
		b = retry.NewConstant(base)
	}
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.WithMaxRetries(attempts-1, b)
}

func (p Policy) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts
// run out. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.shouldRetry(err) {
			return err
		}
		if uint64(attempt) < p.Attempts {
			log.Warn("Retrying after transient failure", "op", p.Name, "attempt", attempt, "max_attempts", p.Attempts, "error", err)
		}
		return retry.RetryableError(err)
	})
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
