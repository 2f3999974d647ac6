package policy

import (
	"errors"
	"fmt"
)

// Error is the structured error type shared by the policy engine and the
// payment operator. It carries a code identifying the failure category plus
// identifying fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Action names the operator action that failed, when applicable.
	Action string

	// PaymentHash identifies the affected payment, when known.
	PaymentHash string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes policy and lifecycle errors.
type ErrorCode string

const (
	// CodeConfiguration marks construction-time failures: invalid principal
	// ids, fee rate out of range, empty or oversized combinator lists. Fatal,
	// never recoverable.
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// CodePolicyDenied marks a Condition that evaluated false. Recoverable by
	// retrying once the underlying policy state changes.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeState marks lifecycle violations: already captured/refunded/voided,
	// amount exceeds available balance, escrow period not elapsed, freeze
	// state mismatch, zero amount. Recoverable by respecting the state
	// machine.
	CodeState ErrorCode = "STATE"

	// CodeReentrancy marks a nested call back into an operator that is
	// already executing an action. Fatal to the nested call only.
	CodeReentrancy ErrorCode = "REENTRANCY"

	// CodeOverflow marks checked-arithmetic failure. The enclosing action
	// aborts rather than wrapping silently.
	CodeOverflow ErrorCode = "OVERFLOW"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Action != "" && e.PaymentHash != "":
		return fmt.Sprintf("%s: %s (action=%s, payment=%s)", e.Code, e.Message, e.Action, e.PaymentHash)
	case e.Action != "":
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, e.Message, e.Action)
	case e.PaymentHash != "":
		return fmt.Sprintf("%s: %s (payment=%s)", e.Code, e.Message, e.PaymentHash)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewDeniedError creates a policy-denied error for the named action.
func NewDeniedError(action, paymentHash string) *Error {
	return &Error{
		Code:        CodePolicyDenied,
		Message:     "condition evaluated false",
		Action:      action,
		PaymentHash: paymentHash,
	}
}

// NewStateError creates a lifecycle state error.
func NewStateError(action, paymentHash, format string, args ...any) *Error {
	return &Error{
		Code:        CodeState,
		Message:     fmt.Sprintf(format, args...),
		Action:      action,
		PaymentHash: paymentHash,
	}
}

// NewReentrancyError creates a reentrancy error for the rejected nested call.
func NewReentrancyError(action string) *Error {
	return &Error{
		Code:    CodeReentrancy,
		Message: "operator is already executing an action",
		Action:  action,
	}
}

// NewOverflowError creates a checked-arithmetic overflow error.
func NewOverflowError(op string) *Error {
	return &Error{
		Code:    CodeOverflow,
		Message: fmt.Sprintf("arithmetic overflow in %s", op),
	}
}

// codeIs reports whether err is (or wraps) an *Error with the given code.
func codeIs(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return codeIs(err, CodeConfiguration) }

// IsPolicyDenied reports whether err is a policy denial.
func IsPolicyDenied(err error) bool { return codeIs(err, CodePolicyDenied) }

// IsStateError reports whether err is a lifecycle state error.
func IsStateError(err error) bool { return codeIs(err, CodeState) }

// IsReentrancyError reports whether err is a reentrancy rejection.
func IsReentrancyError(err error) bool { return codeIs(err, CodeReentrancy) }

// IsOverflowError reports whether err is a checked-arithmetic overflow.
func IsOverflowError(err error) bool { return codeIs(err, CodeOverflow) }
