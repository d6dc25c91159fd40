package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// Retrier runs an operation under a Policy.
type Retrier struct {
	policy    Policy
	retryable func(error) bool
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithRetryIf replaces the default classification, which retries only the
// error kinds zkerr marks retryable.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryable = fn }
}

// WithLogger sets the logger for retry notices.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) { r.logger = l }
}

// New creates a Retrier. An invalid policy is replaced by a single attempt.
func New(p Policy, opts ...Option) *Retrier {
	if p.Validate() != nil {
		p = Policy{ID: p.ID, MaxAttempts: 1}
	}
	r := &Retrier{
		policy:    p,
		retryable: func(err error) bool { return zkerr.KindOf(err).Retryable() },
		sleep:     sleepCtx,
		logger:    slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. It returns the number of attempts made. Waiting
// stops as soon as ctx is done, with a KindCancelled error.
func (r *Retrier) Do(ctx context.Context, key string, fn func(ctx context.Context, attempt int) error) (int, error) {
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.policy.Backoff(key, attempt)
			r.logger.WarnContext(ctx, "retrying",
				"policy", r.policy.ID, "key", key, "attempt", attempt+1, "delay", delay, "error", err)
			if serr := r.sleep(ctx, delay); serr != nil {
				return attempt, zkerr.New(zkerr.KindCancelled, r.policy.ID, serr)
			}
		}
		err = fn(ctx, attempt)
		if err == nil || !r.retryable(err) || ctx.Err() != nil {
			return attempt + 1, err
		}
	}
	return r.policy.MaxAttempts, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
