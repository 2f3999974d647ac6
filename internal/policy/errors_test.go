package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"code and message only",
			NewConfigError("bad rate %d", 99),
			"CONFIGURATION: bad rate 99",
		},
		{
			"action only",
			NewReentrancyError("release"),
			"REENTRANCY: operator is already executing an action (action=release)",
		},
		{
			"action and payment",
			NewDeniedError("authorize", "abc123"),
			"POLICY_DENIED: condition evaluated false (action=authorize, payment=abc123)",
		},
		{
			"state error",
			NewStateError("freeze", "abc123", "escrow period has elapsed"),
			"STATE: escrow period has elapsed (action=freeze, payment=abc123)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsConfigError(NewConfigError("x")))
	assert.True(t, IsPolicyDenied(NewDeniedError("a", "h")))
	assert.True(t, IsStateError(NewStateError("a", "h", "x")))
	assert.True(t, IsReentrancyError(NewReentrancyError("a")))
	assert.True(t, IsOverflowError(NewOverflowError("x")))

	assert.False(t, IsConfigError(NewStateError("a", "h", "x")))
	assert.False(t, IsStateError(nil))
	assert.False(t, IsPolicyDenied(fmt.Errorf("plain")))
}

func TestErrorPredicates_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDeniedError("release", "h1"))
	assert.True(t, IsPolicyDenied(err))
	assert.False(t, IsStateError(err))
}
