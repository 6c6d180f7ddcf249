package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded wraps the last error once the policy gives up
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy bounds an exponential backoff
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	RetryableFunc func(error) bool
}

// DefaultPolicy matches the outbound HTTP clients: 3 retries at 1s, 2s, 4s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return errors.New("delays must be >= 0")
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		return errors.New("initial delay exceeds max delay")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Backoff computes the delay before a given retry attempt (1-based)
type Backoff struct {
	policy Policy
}

func NewBackoff(policy Policy) *Backoff {
	if policy.Multiplier == 0 {
		policy.Multiplier = 2
	}
	return &Backoff{policy: policy}
}

func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(b.policy.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= b.policy.Multiplier
		if b.policy.MaxDelay > 0 && d >= float64(b.policy.MaxDelay) {
			d = float64(b.policy.MaxDelay)
			break
		}
	}
	if b.policy.Jitter && d > 0 {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
