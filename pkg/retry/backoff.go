// Package retry computes deterministic exponential backoff and runs
// operations under it.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Policy bounds retries of one operation.
type Policy struct {
	ID          string        `yaml:"id"`
	MaxAttempts int           `yaml:"max_attempts"`
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
}

// DefaultPolicy is used for proving.
func DefaultPolicy() Policy {
	return Policy{
		ID:          "prove",
		MaxAttempts: 3,
		Base:        200 * time.Millisecond,
		Max:         10 * time.Second,
		MaxJitter:   100 * time.Millisecond,
	}
}

// Validate checks that p describes at least one attempt with sane delays.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry: max_attempts must be >= 1, got %d", p.MaxAttempts)
	case p.Base < 0 || p.Max < 0 || p.MaxJitter < 0:
		return errors.New("retry: delays must not be negative")
	case p.Max < p.Base:
		return fmt.Errorf("retry: max %s below base %s", p.Max, p.Base)
	}
	return nil
}

// Backoff returns the delay before attempt (attempt 0 is the first try and
// never waits). The exponential part is base*2^attempt capped at Max; the
// jitter is a function of (policy, key, attempt) so a replayed run waits
// exactly as long as the original.
func (p Policy) Backoff(key string, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	exp := attempt
	if exp > 30 {
		exp = 30
	}
	delay := p.Max
	if p.Base <= p.Max>>exp {
		delay = p.Base << exp
	}
	return delay + p.Jitter(key, attempt)
}

// Jitter returns the deterministic jitter for an attempt, in [0, MaxJitter).
func (p Policy) Jitter(key string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", p.ID, key, attempt)))
	basis := binary.BigEndian.Uint64(sum[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is positive
}

// Schedule lists the delay before each attempt.
func (p Policy) Schedule(key string) []time.Duration {
	out := make([]time.Duration, max(p.MaxAttempts, 0))
	for i := range out {
		out[i] = p.Backoff(key, i)
	}
	return out
}
