package operator

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
	"github.com/covenant-labs/covenant/internal/store"
)

// Authorize collects amount into escrow for the payment. fundSource names
// the account the funds are drawn from; empty means the payer.
func (o *Operator) Authorize(ctx context.Context, p pay.Descriptor, amount uint64, fundSource, caller string) error {
	hash, err := o.checkPayment("authorize", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "authorize", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		if err := o.collect(ctx, tx, env, "authorize", hash, p, amount, fundSource, caller, o.cfg.Authorize); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.Authorize, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// Charge collects and immediately captures amount in a single action, gated
// by the charge slot alone. The two halves share one transaction: a failure
// anywhere rolls back the collection too.
func (o *Operator) Charge(ctx context.Context, p pay.Descriptor, amount uint64, fundSource, caller string) error {
	hash, err := o.checkPayment("charge", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "charge", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		if err := o.collect(ctx, tx, env, "charge", hash, p, amount, fundSource, caller, o.cfg.Charge); err != nil {
			return 0, err
		}
		if err := o.captureAndPay(ctx, tx, env, "charge", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.Charge, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// Release captures amount from escrow and pays the receiver net of fees.
func (o *Operator) Release(ctx context.Context, p pay.Descriptor, amount uint64, caller string) error {
	hash, err := o.checkPayment("release", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "release", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		if amount == 0 {
			return 0, policy.NewStateError("release", hash, "amount must be positive")
		}
		if env.Now >= p.AuthorizationExpiry {
			return 0, policy.NewStateError("release", hash, "authorization window closed")
		}
		st, ok, err := o.ledger.PaymentState(ctx, hash)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, policy.NewStateError("release", hash, "payment not collected")
		}
		if st.Capturable < amount {
			return 0, policy.NewStateError("release", hash, "amount %d exceeds capturable %d", amount, st.Capturable)
		}
		if err := evalSlot(ctx, env, o.cfg.Release, "release", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := o.captureAndPay(ctx, tx, env, "release", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.Release, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// RefundInEscrow returns amount from escrow to the payer before capture.
func (o *Operator) RefundInEscrow(ctx context.Context, p pay.Descriptor, amount uint64, caller string) error {
	hash, err := o.checkPayment("refund_in_escrow", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "refund_in_escrow", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		if amount == 0 {
			return 0, policy.NewStateError("refund_in_escrow", hash, "amount must be positive")
		}
		if env.Now >= p.RefundExpiry {
			return 0, policy.NewStateError("refund_in_escrow", hash, "refund window closed")
		}
		st, ok, err := o.ledger.PaymentState(ctx, hash)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, policy.NewStateError("refund_in_escrow", hash, "payment not collected")
		}
		if st.Capturable < amount {
			return 0, policy.NewStateError("refund_in_escrow", hash, "amount %d exceeds capturable %d", amount, st.Capturable)
		}
		if err := evalSlot(ctx, env, o.cfg.RefundInEscrow, "refund_in_escrow", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := o.ledger.Refund(ctx, p, amount, ""); err != nil {
			return 0, err
		}
		if err := tx.SubTVL(ctx, p.Token, amount); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.RefundInEscrow, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// RefundPostEscrow returns amount to the payer after capture, drawing from
// fundSource. The captured funds sit with whoever received them, so the
// refunder must name the account to pull from.
func (o *Operator) RefundPostEscrow(ctx context.Context, p pay.Descriptor, amount uint64, fundSource, caller string) error {
	if fundSource == "" {
		return policy.NewConfigError("refund_post_escrow: fund source is required")
	}
	hash, err := o.checkPayment("refund_post_escrow", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "refund_post_escrow", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		if amount == 0 {
			return 0, policy.NewStateError("refund_post_escrow", hash, "amount must be positive")
		}
		if env.Now >= p.RefundExpiry {
			return 0, policy.NewStateError("refund_post_escrow", hash, "refund window closed")
		}
		st, ok, err := o.ledger.PaymentState(ctx, hash)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, policy.NewStateError("refund_post_escrow", hash, "payment not collected")
		}
		if st.Refundable < amount {
			return 0, policy.NewStateError("refund_post_escrow", hash, "amount %d exceeds refundable %d", amount, st.Refundable)
		}
		if err := evalSlot(ctx, env, o.cfg.RefundPostEscrow, "refund_post_escrow", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := o.ledger.Refund(ctx, p, amount, fundSource); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.RefundPostEscrow, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// Void cancels the remaining authorization, refunding the full capturable
// balance to the payer. It shares the in-escrow refund slot: voiding is a
// full in-escrow refund, and the same policy governs both. Unlike refunds it
// has no window check; cancelling an authorization must always be possible.
func (o *Operator) Void(ctx context.Context, p pay.Descriptor, caller string) error {
	hash, err := o.checkPayment("void", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "void", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		st, ok, err := o.ledger.PaymentState(ctx, hash)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, policy.NewStateError("void", hash, "payment not collected")
		}
		if st.Capturable == 0 {
			return 0, policy.NewStateError("void", hash, "nothing to void")
		}
		amount := st.Capturable
		if err := evalSlot(ctx, env, o.cfg.RefundInEscrow, "void", hash, p, amount, caller); err != nil {
			return 0, err
		}
		if err := o.ledger.Refund(ctx, p, amount, ""); err != nil {
			return 0, err
		}
		if err := tx.SubTVL(ctx, p.Token, amount); err != nil {
			return 0, err
		}
		if err := recordSlot(ctx, env, o.cfg.RefundInEscrow, p, amount, caller); err != nil {
			return 0, err
		}
		return amount, nil
	})
}

// DistributeFees sweeps the operator's account for a token: the accrued
// protocol fee goes to the protocol fee recipient, the remainder to the
// operator's fee recipient. A zero balance is a no-op, not an error.
func (o *Operator) DistributeFees(ctx context.Context, token, caller string) error {
	if token == "" {
		return policy.NewConfigError("distribute_fees: token is required")
	}
	return o.run(ctx, "distribute_fees", "", caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		balance, err := o.transfers.Balance(ctx, token, o.address)
		if err != nil {
			return 0, err
		}
		accrued, err := tx.AccruedFee(ctx, o.address, token)
		if err != nil {
			return 0, err
		}
		if balance == 0 && accrued == 0 {
			return 0, nil
		}
		if accrued > balance {
			return 0, policy.NewStateError("distribute_fees", "", "accrued fee %d exceeds operator balance %d", accrued, balance)
		}
		if accrued > 0 {
			if err := o.transfers.Transfer(ctx, token, o.address, o.cfg.ProtocolFeeRecipient, accrued); err != nil {
				return 0, err
			}
		}
		if remainder := balance - accrued; remainder > 0 {
			if o.cfg.FeeRecipient == "" {
				return 0, policy.NewConfigError("distribute_fees: no fee recipient for remainder %d", remainder)
			}
			if err := o.transfers.Transfer(ctx, token, o.address, o.cfg.FeeRecipient, remainder); err != nil {
				return 0, err
			}
		}
		if err := tx.ZeroAccruedFee(ctx, o.address, token); err != nil {
			return 0, err
		}
		return balance, nil
	})
}

// Freeze sets the timelock freeze latch on a payment.
func (o *Operator) Freeze(ctx context.Context, p pay.Descriptor, caller string) error {
	if o.cfg.Timelock == nil {
		return policy.NewConfigError("freeze: operator has no timelock policy")
	}
	hash, err := o.checkPayment("freeze", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "freeze", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		return 0, o.cfg.Timelock.Freeze(ctx, env, p, caller)
	})
}

// Unfreeze lifts the timelock freeze latch on a payment.
func (o *Operator) Unfreeze(ctx context.Context, p pay.Descriptor, caller string) error {
	if o.cfg.Timelock == nil {
		return policy.NewConfigError("unfreeze: operator has no timelock policy")
	}
	hash, err := o.checkPayment("unfreeze", p)
	if err != nil {
		return err
	}
	return o.run(ctx, "unfreeze", hash, caller, func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error) {
		return 0, o.cfg.Timelock.Unfreeze(ctx, env, p, caller)
	})
}

// collect performs the authorize half shared by Authorize and Charge:
// validation, window check, policy gate, escrow collection, descriptor
// persistence, and TVL accounting.
func (o *Operator) collect(ctx context.Context, tx *store.Tx, env *policy.Env, action, hash string, p pay.Descriptor, amount uint64, fundSource, caller string, slot Slot) error {
	if amount == 0 {
		return policy.NewStateError(action, hash, "amount must be positive")
	}
	if amount > p.MaxAmount {
		return policy.NewStateError(action, hash, "amount %d exceeds max %d", amount, p.MaxAmount)
	}
	if env.Now >= p.PreApprovalExpiry {
		return policy.NewStateError(action, hash, "pre-approval window closed")
	}
	_, collected, err := o.ledger.PaymentState(ctx, hash)
	if err != nil {
		return err
	}
	if collected {
		return policy.NewStateError(action, hash, "payment already collected")
	}
	if err := evalSlot(ctx, env, slot, action, hash, p, amount, caller); err != nil {
		return err
	}
	if err := o.ledger.Authorize(ctx, p, amount, fundSource); err != nil {
		return err
	}
	if err := tx.WritePayment(ctx, p, env.Now); err != nil {
		return err
	}
	return tx.AddTVL(ctx, p.Token, amount)
}

// captureAndPay performs the release half shared by Release and Charge:
// fee computation, escrow capture, receiver payout, protocol fee accrual,
// and TVL release. The operator fee component stays in the operator account
// until DistributeFees sweeps it.
func (o *Operator) captureAndPay(ctx context.Context, tx *store.Tx, env *policy.Env, action, hash string, p pay.Descriptor, amount uint64, caller string) error {
	protocolFee, totalFee, err := o.computeFees(action, hash, p, amount, caller)
	if err != nil {
		return err
	}
	if err := o.ledger.Capture(ctx, p, amount); err != nil {
		return err
	}
	if payout := amount - totalFee; payout > 0 {
		if err := o.transfers.Transfer(ctx, p.Token, o.address, p.Receiver, payout); err != nil {
			return err
		}
	}
	if protocolFee > 0 {
		if err := tx.AddAccruedFee(ctx, o.address, p.Token, protocolFee); err != nil {
			return err
		}
	}
	return tx.SubTVL(ctx, p.Token, amount)
}

// computeFees evaluates both fee components and enforces the descriptor's
// constraints: the combined fee never exceeds the amount, the combined rate
// (when both components report one) stays inside [MinFeeBps, MaxFeeBps],
// and a payer-designated fee receiver pins the operator's fee recipient.
func (o *Operator) computeFees(action, hash string, p pay.Descriptor, amount uint64, caller string) (protocolFee, totalFee uint64, err error) {
	if p.FeeReceiver != "" && p.FeeReceiver != o.cfg.FeeRecipient {
		return 0, 0, policy.NewStateError(action, hash, "payment requires fee receiver %s", p.FeeReceiver)
	}

	var operatorFee uint64
	if o.cfg.ProtocolFee != nil {
		protocolFee, err = o.cfg.ProtocolFee.Fee(p, amount, caller)
		if err != nil {
			return 0, 0, err
		}
	}
	if o.cfg.OperatorFee != nil {
		operatorFee, err = o.cfg.OperatorFee.Fee(p, amount, caller)
		if err != nil {
			return 0, 0, err
		}
	}
	totalFee, err = policy.AddChecked(protocolFee, operatorFee)
	if err != nil {
		return 0, 0, err
	}
	if totalFee > amount {
		return 0, 0, policy.NewStateError(action, hash, "combined fee %d exceeds amount %d", totalFee, amount)
	}

	combinedRate := uint32(0)
	reportable := true
	for _, calc := range []policy.FeeCalculator{o.cfg.ProtocolFee, o.cfg.OperatorFee} {
		if calc == nil {
			continue
		}
		reporter, ok := calc.(policy.RateReporter)
		if !ok {
			reportable = false
			break
		}
		combinedRate += reporter.RateBps()
	}
	if reportable && (combinedRate < p.MinFeeBps || combinedRate > p.MaxFeeBps) {
		return 0, 0, policy.NewStateError(action, hash,
			"applied fee rate %d bps outside payment bounds [%d, %d]", combinedRate, p.MinFeeBps, p.MaxFeeBps)
	}

	return protocolFee, totalFee, nil
}
