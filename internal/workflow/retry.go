package workflow

import "time"

// Decision is the retry policy's verdict on a failed attempt.
type Decision int

const (
	// DecisionRetry schedules another attempt of the same run.
	DecisionRetry Decision = iota
	// DecisionFail stops the run because the failure is terminal.
	DecisionFail
	// DecisionExhausted stops the run because no attempts remain.
	DecisionExhausted
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionFail:
		return "fail"
	case DecisionExhausted:
		return "exhausted"
	}
	return "unknown"
}

// RetryPolicy bounds how often a run is re-attempted after transient failures.
// Retries counts re-attempts, so a run gets at most Retries+1 attempts.
type RetryPolicy struct {
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy mirrors the two retries declared by both ticket workflows.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:        2,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

// MaxAttempts returns the attempt ceiling.
func (p RetryPolicy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Decide classifies the failure of the given 1-based attempt.
func (p RetryPolicy) Decide(err error, attempt int) Decision {
	if IsTerminal(err) {
		return DecisionFail
	}
	if attempt >= p.MaxAttempts() {
		return DecisionExhausted
	}
	return DecisionRetry
}

// Backoff returns the delay before the attempt that follows attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
