// Package escrow defines the ledger the payment operator drives: collection
// into escrow at authorize time, capture toward the receiver, and refunds
// both in and after escrow. Implementations must be transactional with the
// enclosing operator action; the SQLite ledger achieves this by joining the
// action's store transaction through the context.
package escrow

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
)

// Account is the ledger-internal account that holds collected funds between
// authorize and capture.
const Account = "escrow"

// State is the per-payment escrow position.
type State struct {
	// Collected is the amount collected at authorize time. Immutable once
	// set; it records what entered escrow, not what remains.
	Collected uint64

	// Capturable is the amount still held in escrow, available for capture
	// or in-escrow refund.
	Capturable uint64

	// Refundable is the captured amount still eligible for post-escrow
	// refund.
	Refundable uint64
}

// Ledger moves funds for a payment's lifecycle. All amounts are in the
// payment's token.
type Ledger interface {
	// Authorize collects amount into escrow. fundSource is the account the
	// funds are drawn from; empty means the payment's payer. A payment may
	// be collected exactly once.
	Authorize(ctx context.Context, p pay.Descriptor, amount uint64, fundSource string) error

	// Capture moves amount from escrow to the payment's operator account
	// and makes it refundable post-escrow.
	Capture(ctx context.Context, p pay.Descriptor, amount uint64) error

	// Refund returns amount to the payer. An empty fundSource refunds from
	// escrow, reducing the capturable balance; a non-empty fundSource
	// refunds post-escrow from that account, reducing the refundable
	// balance.
	Refund(ctx context.Context, p pay.Descriptor, amount uint64, fundSource string) error

	// PaymentState returns the escrow position for a payment. ok is false
	// if the payment was never collected.
	PaymentState(ctx context.Context, paymentHash string) (State, bool, error)
}

// Transfers is the flat account/balance surface beneath the ledger. The
// operator uses it for payouts and fee distribution.
type Transfers interface {
	Transfer(ctx context.Context, token, from, to string, amount uint64) error
	Balance(ctx context.Context, token, account string) (uint64, error)
}
