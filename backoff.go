package chatlink

import "time"

const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
)

// ReconnectPolicy tracks consecutive connection failures for one target.
type ReconnectPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultReconnectPolicy returns the 1s..30s doubling policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay: DefaultReconnectBaseDelay,
		MaxDelay:  DefaultReconnectMaxDelay,
	}
}

// Delay returns the wait before the next reconnect at the current attempt count.
func (p ReconnectPolicy) Delay() time.Duration {
	return BackoffDelay(p.BaseDelay, p.MaxDelay, p.Attempts)
}

// Fail records a failed or closed connection. The first failure always
// counts; after that the counter stops growing once the delay has reached
// MaxDelay.
func (p *ReconnectPolicy) Fail() {
	if p.Attempts > 0 && p.Delay() >= p.MaxDelay {
		return
	}
	p.Attempts++
}

// Reset clears the failure count after a successful open.
func (p *ReconnectPolicy) Reset() {
	p.Attempts = 0
}

// BackoffDelay computes min(max, base * 2^attempt) without overflowing.
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultReconnectBaseDelay
	}
	if max < base {
		max = base
	}
	wait := base
	for i := 0; i < attempt; i++ {
		if wait > max/2 {
			return max
		}
		wait *= 2
	}
	if wait > max {
		return max
	}
	return wait
}
