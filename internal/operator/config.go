package operator

import "github.com/covenant-labs/covenant/internal/policy"

// Slot pairs the policy gate and side effect for one lifecycle action. A nil
// Condition admits every caller; a nil Recorder records nothing.
type Slot struct {
	Condition policy.Condition
	Recorder  policy.Recorder
}

// Config is the immutable per-operator configuration fixed at construction.
// It participates in the operator's registry address, so two operators with
// the same config are the same operator.
type Config struct {
	// FeeRecipient receives the operator's fee share on distribution.
	FeeRecipient string

	// ProtocolFeeRecipient receives the accrued protocol fee share.
	ProtocolFeeRecipient string

	// ProtocolFee and OperatorFee compute the two fee components charged at
	// release time. Nil means that component is zero.
	ProtocolFee policy.FeeCalculator
	OperatorFee policy.FeeCalculator

	// Per-action policy slots.
	Authorize        Slot
	Charge           Slot
	Release          Slot
	RefundInEscrow   Slot
	RefundPostEscrow Slot

	// Timelock is the optional escrow-period/freeze sub-policy. Nil
	// disables Freeze and Unfreeze and any releasable conditions.
	Timelock *policy.Timelock
}

func (c Config) validate() error {
	if c.OperatorFee != nil && c.FeeRecipient == "" {
		return policy.NewConfigError("operator config: operator fee requires a fee recipient")
	}
	if c.ProtocolFee != nil && c.ProtocolFeeRecipient == "" {
		return policy.NewConfigError("operator config: protocol fee requires a protocol fee recipient")
	}
	return nil
}
