package policy

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
)

// StateReader is the read-only view of core-owned persistent state available
// to Conditions during evaluation. Implementations are transaction-scoped:
// every read observes the state as of the enclosing operator action.
type StateReader interface {
	// AuthorizationTime returns the timestamp stamped at authorize time for
	// the payment, or 0 if the payment was never authorized through an
	// escrow-period policy.
	AuthorizationTime(ctx context.Context, paymentHash string) (int64, error)

	// FreezeRecord returns the freeze latch for the payment. A zero expiry
	// means the freeze never auto-expires. Absent records read as
	// (false, 0).
	FreezeRecord(ctx context.Context, paymentHash string) (frozen bool, expiry int64, err error)

	// TVL returns the total value currently locked for a token across all
	// payments driven by this store.
	TVL(ctx context.Context, token string) (uint64, error)
}

// Journal is the write surface available to Recorders. Writes join the
// enclosing action's transaction: they commit or roll back with it.
type Journal interface {
	// SetAuthorizationTime stamps the authorize-time record for a payment.
	// Write-once: a second stamp for the same payment is ignored.
	SetAuthorizationTime(ctx context.Context, paymentHash string, ts int64) error

	// SetFreeze writes the freeze latch for a payment.
	SetFreeze(ctx context.Context, paymentHash string, frozen bool, expiry, now int64) error

	// IndexPayment adds the payment to the payer and receiver secondary
	// indices used for paginated lookup.
	IndexPayment(ctx context.Context, paymentHash, payer, receiver string, now int64) error
}

// Env carries the evaluation context for one operator action. Now is the
// host clock reading taken once at action entry; all temporal comparisons
// inside the action use this single value.
//
// Journal is nil while Conditions are evaluated: condition checks are pure
// and must not write.
type Env struct {
	Now     int64
	State   StateReader
	Journal Journal
}

// ReadOnly returns a copy of the env with the Journal stripped, for handing
// to Conditions.
func (e *Env) ReadOnly() *Env {
	return &Env{Now: e.Now, State: e.State}
}

// Condition is a pure boolean predicate over (payment, amount, caller).
// Check must be deterministic, side-effect-free, and bounded-cost. A false
// result (or an error) fails the enclosing action closed.
type Condition interface {
	Check(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) (bool, error)
}

// Recorder performs a side effect after a policy check passes. An error
// aborts the entire enclosing action, including any escrow state change
// already staged in the same transaction.
type Recorder interface {
	Record(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, caller string) error
}

// FeeCalculator maps (payment, amount, caller) to a fee. Implementations
// must be pure and must never return a fee exceeding amount.
type FeeCalculator interface {
	Fee(p pay.Descriptor, amount uint64, caller string) (uint64, error)
}

// RateReporter is implemented by fee calculators whose fee is a fixed
// basis-point rate. The operator uses it to check the combined applied rate
// against the descriptor's min/max bounds; calculators that cannot report a
// rate simply skip that check.
type RateReporter interface {
	RateBps() uint32
}

// AddChecked returns a+b, or an overflow error if the sum wraps.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, NewOverflowError("addition")
	}
	return sum, nil
}
