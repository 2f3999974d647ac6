package compiler

import (
	"fmt"
	"sort"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
)

// Validation error codes. Stable identifiers for tooling; the message is
// for humans.
const (
	ErrFeeRateTooHigh      = "V100" // single fee component exceeds 10000 bps
	ErrCombinedRateTooHigh = "V101" // protocol + operator fee exceeds 10000 bps
	ErrFeeWithoutRecipient = "V102" // fee rate configured with no recipient
	ErrPeriodNotPositive   = "V103" // timelock period must be > 0
	ErrNegativeDuration    = "V104" // freeze duration must be >= 0
	ErrTimelockRequired    = "V105" // node references timelock state without a timelock
	ErrNodeAmbiguous       = "V106" // condition node sets more than one form
	ErrNodeEmpty           = "V107" // condition node sets no form
	ErrCombinatorArity     = "V108" // combinator child list outside 1..10
	ErrRecorderAmbiguous   = "V109" // recorder node sets more than one form
	ErrRecorderEmpty       = "V110" // recorder node sets no form
)

// ValidationError is one semantic problem in a compiled definition.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled definition against the policy engine's rules.
// It collects every problem rather than stopping at the first, so a single
// run reports everything wrong with a definition file.
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError

	names := make([]string, 0, len(def.Operators))
	for name := range def.Operators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errs = append(errs, validateOperator(name, def.Operators[name])...)
	}
	return errs
}

func validateOperator(name string, spec *OperatorSpec) []ValidationError {
	var errs []ValidationError
	field := func(parts ...string) string {
		out := "operator." + name
		for _, p := range parts {
			out += "." + p
		}
		return out
	}

	errs = append(errs, validateFees(field, spec)...)

	hasTimelock := spec.Timelock != nil
	if hasTimelock {
		if spec.Timelock.Period <= 0 {
			errs = append(errs, ValidationError{
				Field:   field("timelock", "period"),
				Message: fmt.Sprintf("escrow period must be positive, got %d", spec.Timelock.Period),
				Code:    ErrPeriodNotPositive,
			})
		}
		if spec.Timelock.FreezeDuration < 0 {
			errs = append(errs, ValidationError{
				Field:   field("timelock", "freeze_duration"),
				Message: fmt.Sprintf("freeze duration must not be negative, got %d", spec.Timelock.FreezeDuration),
				Code:    ErrNegativeDuration,
			})
		}
		// The freeze and unfreeze gates are constructed before the timelock
		// itself, so they cannot reference releasable state.
		errs = append(errs, validateNode(field("timelock", "freeze"), spec.Timelock.Freeze, false)...)
		errs = append(errs, validateNode(field("timelock", "unfreeze"), spec.Timelock.Unfreeze, false)...)
	}

	slots := []struct {
		name string
		slot SlotSpec
	}{
		{"authorize", spec.Authorize},
		{"charge", spec.Charge},
		{"release", spec.Release},
		{"refund_in_escrow", spec.RefundInEscrow},
		{"refund_post_escrow", spec.RefundPostEscrow},
	}
	for _, entry := range slots {
		errs = append(errs, validateNode(field(entry.name, "condition"), entry.slot.Condition, hasTimelock)...)
		errs = append(errs, validateRecorderNode(field(entry.name, "recorder"), entry.slot.Recorder, hasTimelock)...)
	}

	return errs
}

func validateFees(field func(...string) string, spec *OperatorSpec) []ValidationError {
	var errs []ValidationError

	var combined uint64
	rates := []struct {
		name      string
		bps       *uint32
		recipient string
		recField  string
	}{
		{"protocol_fee_bps", spec.ProtocolFeeBps, spec.ProtocolFeeRecipient, "protocol_fee_recipient"},
		{"operator_fee_bps", spec.OperatorFeeBps, spec.FeeRecipient, "fee_recipient"},
	}
	for _, rate := range rates {
		if rate.bps == nil {
			continue
		}
		combined += uint64(*rate.bps)
		if *rate.bps > pay.MaxFeeBps {
			errs = append(errs, ValidationError{
				Field:   field(rate.name),
				Message: fmt.Sprintf("fee rate %d exceeds %d basis points", *rate.bps, pay.MaxFeeBps),
				Code:    ErrFeeRateTooHigh,
			})
		}
		if *rate.bps > 0 && rate.recipient == "" {
			errs = append(errs, ValidationError{
				Field:   field(rate.name),
				Message: fmt.Sprintf("fee rate is set but %s is empty", rate.recField),
				Code:    ErrFeeWithoutRecipient,
			})
		}
	}
	if combined > pay.MaxFeeBps {
		errs = append(errs, ValidationError{
			Field:   field(),
			Message: fmt.Sprintf("combined fee rate %d exceeds %d basis points", combined, pay.MaxFeeBps),
			Code:    ErrCombinedRateTooHigh,
		})
	}

	return errs
}

func validateNode(field string, n *policy.Node, hasTimelock bool) []ValidationError {
	if n == nil {
		return nil
	}
	var errs []ValidationError

	forms := 0
	if n.All != nil {
		forms++
		errs = append(errs, validateArity(field+".all", len(n.All))...)
		for i, child := range n.All {
			errs = append(errs, validateNode(fmt.Sprintf("%s.all[%d]", field, i), child, hasTimelock)...)
		}
	}
	if n.Any != nil {
		forms++
		errs = append(errs, validateArity(field+".any", len(n.Any))...)
		for i, child := range n.Any {
			errs = append(errs, validateNode(fmt.Sprintf("%s.any[%d]", field, i), child, hasTimelock)...)
		}
	}
	if n.Not != nil {
		forms++
		errs = append(errs, validateNode(field+".not", n.Not, hasTimelock)...)
	}
	if n.Payer {
		forms++
	}
	if n.Receiver {
		forms++
	}
	if n.Principal != "" {
		forms++
	}
	if n.Always {
		forms++
	}
	if n.TVLLimit > 0 {
		forms++
	}
	if n.Releasable {
		forms++
		if !hasTimelock {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "releasable condition requires a timelock",
				Code:    ErrTimelockRequired,
			})
		}
	}

	switch {
	case forms == 0:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "condition node sets no recognized form",
			Code:    ErrNodeEmpty,
		})
	case forms > 1:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("condition node sets %d forms, want exactly one", forms),
			Code:    ErrNodeAmbiguous,
		})
	}

	return errs
}

func validateRecorderNode(field string, n *policy.RecorderNode, hasTimelock bool) []ValidationError {
	if n == nil {
		return nil
	}
	var errs []ValidationError

	forms := 0
	if n.FanOut != nil {
		forms++
		errs = append(errs, validateArity(field+".fan_out", len(n.FanOut))...)
		for i, child := range n.FanOut {
			errs = append(errs, validateRecorderNode(fmt.Sprintf("%s.fan_out[%d]", field, i), child, hasTimelock)...)
		}
	}
	if n.StampAuthorization {
		forms++
		if !hasTimelock {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "stamp_authorization recorder requires a timelock",
				Code:    ErrTimelockRequired,
			})
		}
	}
	if n.IndexPayment {
		forms++
	}

	switch {
	case forms == 0:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: "recorder node sets no recognized form",
			Code:    ErrRecorderEmpty,
		})
	case forms > 1:
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("recorder node sets %d forms, want exactly one", forms),
			Code:    ErrRecorderAmbiguous,
		})
	}

	return errs
}

func validateArity(field string, n int) []ValidationError {
	if n >= 1 && n <= policy.MaxFanIn {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Message: fmt.Sprintf("combinator takes 1 to %d children, got %d", policy.MaxFanIn, n),
		Code:    ErrCombinatorArity,
	}}
}
