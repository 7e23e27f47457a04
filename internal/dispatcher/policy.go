package dispatcher

import "time"

const (
	RetryModeInfinite = "infinite_retries"
	RetryModeBounded  = "bounded_retries"
)

// RetryPolicy tells a chunk task how long to wait between attempts and when to
// give up. MaxAttempts <= 0 means the task retries until it succeeds.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

func UnboundedRetry(delay time.Duration) RetryPolicy {
	return RetryPolicy{Delay: delay}
}

func BoundedRetry(delay time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicy{Delay: delay, MaxAttempts: maxAttempts}
}

func (p RetryPolicy) Bounded() bool {
	return p.MaxAttempts > 0
}

func (p RetryPolicy) Mode() string {
	if p.Bounded() {
		return RetryModeBounded
	}
	return RetryModeInfinite
}

// allows reports whether another attempt may follow the given failed attempt.
func (p RetryPolicy) allows(attempt int) bool {
	return !p.Bounded() || attempt < p.MaxAttempts
}
