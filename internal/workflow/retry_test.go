package workflow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDecide(t *testing.T) {
	policy := RetryPolicy{Retries: 2}
	transient := errors.New("smtp timeout")
	terminal := Terminal("ticket not found")

	tests := []struct {
		name    string
		err     error
		attempt int
		want    Decision
	}{
		{"transient first attempt", transient, 1, DecisionRetry},
		{"transient second attempt", transient, 2, DecisionRetry},
		{"transient last attempt", transient, 3, DecisionExhausted},
		{"terminal first attempt", terminal, 1, DecisionFail},
		{"wrapped terminal", fmt.Errorf("step: %w", terminal), 1, DecisionFail},
		{"explicit transient", Transient(transient), 1, DecisionRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Decide(tt.err, tt.attempt))
		})
	}
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, DefaultRetryPolicy().MaxAttempts())
	assert.Equal(t, 1, RetryPolicy{}.MaxAttempts())
	assert.Equal(t, 1, RetryPolicy{Retries: -4}.MaxAttempts())
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, policy.Backoff(1))
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
	assert.Equal(t, 4*time.Second, policy.Backoff(3))
	assert.Equal(t, 5*time.Second, policy.Backoff(4))
	assert.Equal(t, 5*time.Second, policy.Backoff(10))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(1))
}

func TestTerminalErrorWrapping(t *testing.T) {
	cause := errors.New("no rows")
	err := TerminalWrap("ticket not found", cause)

	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ticket not found: no rows", err.Error())
	assert.False(t, IsTerminal(Transient(cause)))
	assert.Nil(t, Transient(nil))
}
