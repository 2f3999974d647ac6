// Package operator implements the payment lifecycle state machine: a
// single-writer actor that drives authorize, charge, release, refund, void,
// fee distribution, and freeze transitions over an escrow ledger, gated by
// composable policy conditions.
package operator

import (
	"context"
	"log/slog"

	"github.com/covenant-labs/covenant/internal/escrow"
	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
	"github.com/covenant-labs/covenant/internal/store"
)

// Operator drives payment lifecycles under a fixed policy configuration.
//
// Every action runs inside one store transaction: escrow movements, journal
// writes, fee accrual, and the audit row commit or roll back together. The
// operator is single-threaded by contract; the reentrancy latch rejects
// nested calls made from inside a Recorder rather than deadlocking on the
// store's single connection.
type Operator struct {
	address   string
	cfg       Config
	store     *store.Store
	ledger    escrow.Ledger
	transfers escrow.Transfers
	clock     Clock
	tokens    TokenGenerator

	inAction bool
}

// New creates an operator bound to its store and escrow ledger. A nil clock
// defaults to the system clock; a nil token generator defaults to UUIDv7.
func New(address string, cfg Config, st *store.Store, ledger escrow.Ledger, transfers escrow.Transfers, clock Clock, tokens TokenGenerator) (*Operator, error) {
	if address == "" {
		return nil, policy.NewConfigError("operator: address is required")
	}
	if st == nil {
		return nil, policy.NewConfigError("operator: store is required")
	}
	if ledger == nil {
		return nil, policy.NewConfigError("operator: escrow ledger is required")
	}
	if transfers == nil {
		return nil, policy.NewConfigError("operator: transfers are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}
	return &Operator{
		address:   address,
		cfg:       cfg,
		store:     st,
		ledger:    ledger,
		transfers: transfers,
		clock:     clock,
		tokens:    tokens,
	}, nil
}

// Address returns the operator's principal id.
func (o *Operator) Address() string { return o.address }

// run executes one lifecycle action: reentrancy latch, clock reading, one
// store transaction carrying the policy env, and the audit row. fn performs
// the action body and returns the amount to audit; any error rolls back
// everything fn wrote.
func (o *Operator) run(ctx context.Context, action, paymentHash, caller string, fn func(ctx context.Context, tx *store.Tx, env *policy.Env) (uint64, error)) error {
	if o.inAction {
		return policy.NewReentrancyError(action)
	}
	o.inAction = true
	defer func() { o.inAction = false }()

	token := o.tokens.Generate()
	now := o.clock.Now()

	slog.Debug("action starting",
		"action", action,
		"token", token,
		"payment", paymentHash,
		"caller", caller)

	err := o.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		env := &policy.Env{Now: now, State: tx, Journal: tx}
		amount, err := fn(ctx, tx, env)
		if err != nil {
			return err
		}
		return tx.RecordAction(ctx, token, action, paymentHash, amount, caller, now)
	})
	if err != nil {
		slog.Warn("action failed",
			"action", action,
			"token", token,
			"payment", paymentHash,
			"error", err)
		return err
	}

	slog.Info("action completed",
		"action", action,
		"token", token,
		"payment", paymentHash)
	return nil
}

// checkPayment validates the descriptor and that it names this operator.
func (o *Operator) checkPayment(action string, p pay.Descriptor) (string, error) {
	if err := p.Validate(); err != nil {
		return "", policy.NewConfigError("%s: %v", action, err)
	}
	hash, err := p.Hash()
	if err != nil {
		return "", err
	}
	if p.Operator != o.address {
		return "", policy.NewStateError(action, hash, "payment names operator %s, not %s", p.Operator, o.address)
	}
	return hash, nil
}

// evalSlot runs a slot's condition against a read-only env. A nil condition
// admits the caller.
func evalSlot(ctx context.Context, env *policy.Env, slot Slot, action, hash string, p pay.Descriptor, amount uint64, caller string) error {
	if slot.Condition == nil {
		return nil
	}
	ok, err := slot.Condition.Check(ctx, env.ReadOnly(), p, amount, caller)
	if err != nil {
		return err
	}
	if !ok {
		return policy.NewDeniedError(action, hash)
	}
	return nil
}

// recordSlot runs a slot's recorder with the writable env.
func recordSlot(ctx context.Context, env *policy.Env, slot Slot, p pay.Descriptor, amount uint64, caller string) error {
	if slot.Recorder == nil {
		return nil
	}
	return slot.Recorder.Record(ctx, env, p, amount, caller)
}

// PaymentExists reports whether a payment descriptor has been persisted.
func (o *Operator) PaymentExists(ctx context.Context, paymentHash string) (bool, error) {
	if o.inAction {
		return false, policy.NewReentrancyError("payment_exists")
	}
	var exists bool
	err := o.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		exists, err = tx.HasPayment(ctx, paymentHash)
		return err
	})
	return exists, err
}

// EscrowState returns the escrow position for a payment.
func (o *Operator) EscrowState(ctx context.Context, paymentHash string) (escrow.State, bool, error) {
	if o.inAction {
		return escrow.State{}, false, policy.NewReentrancyError("escrow_state")
	}
	var st escrow.State
	var ok bool
	err := o.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		st, ok, err = o.ledger.PaymentState(ctx, paymentHash)
		return err
	})
	return st, ok, err
}

// AccruedFee returns the protocol fee this operator has accrued for a token.
func (o *Operator) AccruedFee(ctx context.Context, token string) (uint64, error) {
	if o.inAction {
		return 0, policy.NewReentrancyError("accrued_fee")
	}
	var fee uint64
	err := o.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		fee, err = tx.AccruedFee(ctx, o.address, token)
		return err
	})
	return fee, err
}

// PaymentsByPayer returns one page of payment hashes indexed under the payer,
// plus the total count.
func (o *Operator) PaymentsByPayer(ctx context.Context, payer string, offset, count int) ([]string, int, error) {
	return o.paymentsByRole(ctx, "payer", payer, offset, count)
}

// PaymentsByReceiver returns one page of payment hashes indexed under the
// receiver, plus the total count.
func (o *Operator) PaymentsByReceiver(ctx context.Context, receiver string, offset, count int) ([]string, int, error) {
	return o.paymentsByRole(ctx, "receiver", receiver, offset, count)
}

func (o *Operator) paymentsByRole(ctx context.Context, role, principal string, offset, count int) ([]string, int, error) {
	if o.inAction {
		return nil, 0, policy.NewReentrancyError("payments_by_" + role)
	}
	var page []string
	var total int
	err := o.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		page, total, err = tx.PaymentsByRole(ctx, role, principal, offset, count)
		return err
	})
	return page, total, err
}
