package store

import (
	"context"
	"fmt"
	"math"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
)

// toDBAmount validates that an amount fits the int64 column type.
func toDBAmount(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d exceeds storable range", v)
	}
	return int64(v), nil
}

// WritePayment persists a payment descriptor keyed by its content hash.
// Uses ON CONFLICT(hash) DO NOTHING for idempotency - the descriptor is
// immutable, so a duplicate write carries identical content.
func (t *Tx) WritePayment(ctx context.Context, p pay.Descriptor, now int64) error {
	hash, err := p.Hash()
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}
	canonical, err := p.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}
	maxAmount, err := toDBAmount(p.MaxAmount)
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO payments
		(hash, operator, payer, receiver, token, max_amount, descriptor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, p.Operator, p.Payer, p.Receiver, p.Token, maxAmount, string(canonical), now)
	if err != nil {
		return fmt.Errorf("write payment: %w", err)
	}
	return nil
}

// SetAuthorizationTime stamps the authorize-time record for a payment.
// Write-once: ON CONFLICT DO NOTHING keeps the first stamp.
func (t *Tx) SetAuthorizationTime(ctx context.Context, paymentHash string, ts int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO authorizations (payment_hash, auth_time)
		VALUES (?, ?)
		ON CONFLICT(payment_hash) DO NOTHING
	`, paymentHash, ts)
	if err != nil {
		return fmt.Errorf("set authorization time: %w", err)
	}
	return nil
}

// SetFreeze writes the freeze latch for a payment, replacing any prior latch.
func (t *Tx) SetFreeze(ctx context.Context, paymentHash string, frozen bool, expiry, now int64) error {
	frozenInt := 0
	if frozen {
		frozenInt = 1
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO freezes (payment_hash, frozen, expiry, updated_at)
		VALUES (?, ?, ?, ?)
	`, paymentHash, frozenInt, expiry, now)
	if err != nil {
		return fmt.Errorf("set freeze: %w", err)
	}
	return nil
}

// IndexPayment adds the payment to the payer and receiver secondary indices.
// Idempotent per (payment, role).
func (t *Tx) IndexPayment(ctx context.Context, paymentHash, payer, receiver string, now int64) error {
	for _, entry := range []struct {
		role      string
		principal string
	}{
		{"payer", payer},
		{"receiver", receiver},
	} {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO payment_index (payment_hash, role, principal, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(payment_hash, role) DO NOTHING
		`, paymentHash, entry.role, entry.principal, now)
		if err != nil {
			return fmt.Errorf("index payment (%s): %w", entry.role, err)
		}
	}
	return nil
}

// AddTVL increases the total value locked for a token.
func (t *Tx) AddTVL(ctx context.Context, token string, delta uint64) error {
	current, err := t.TVL(ctx, token)
	if err != nil {
		return err
	}
	next, err := policy.AddChecked(current, delta)
	if err != nil {
		return err
	}
	return t.putTVL(ctx, token, next)
}

// SubTVL decreases the total value locked for a token. The balance going
// negative indicates a bookkeeping bug, not a recoverable condition.
func (t *Tx) SubTVL(ctx context.Context, token string, delta uint64) error {
	current, err := t.TVL(ctx, token)
	if err != nil {
		return err
	}
	if current < delta {
		return fmt.Errorf("tvl underflow for token %s: have %d, subtract %d", token, current, delta)
	}
	return t.putTVL(ctx, token, current-delta)
}

func (t *Tx) putTVL(ctx context.Context, token string, amount uint64) error {
	dbAmount, err := toDBAmount(amount)
	if err != nil {
		return fmt.Errorf("put tvl: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO tvl (token, amount) VALUES (?, ?)
	`, token, dbAmount)
	if err != nil {
		return fmt.Errorf("put tvl: %w", err)
	}
	return nil
}

// AddAccruedFee increases the protocol fee accrued by an operator for a token.
func (t *Tx) AddAccruedFee(ctx context.Context, operator, token string, delta uint64) error {
	current, err := t.AccruedFee(ctx, operator, token)
	if err != nil {
		return err
	}
	next, err := policy.AddChecked(current, delta)
	if err != nil {
		return err
	}
	dbAmount, err := toDBAmount(next)
	if err != nil {
		return fmt.Errorf("add accrued fee: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO accrued_fees (operator, token, amount) VALUES (?, ?, ?)
	`, operator, token, dbAmount)
	if err != nil {
		return fmt.Errorf("add accrued fee: %w", err)
	}
	return nil
}

// ZeroAccruedFee resets the accrued protocol fee after distribution.
func (t *Tx) ZeroAccruedFee(ctx context.Context, operator, token string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO accrued_fees (operator, token, amount) VALUES (?, ?, 0)
	`, operator, token)
	if err != nil {
		return fmt.Errorf("zero accrued fee: %w", err)
	}
	return nil
}

// Register records an instance at its content-derived address. Returns
// whether a new row was inserted; an existing registration is left untouched
// so creation stays idempotent.
func (t *Tx) Register(ctx context.Context, address, kind, config string, now int64) (inserted bool, err error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO registrations (address, kind, config, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, address, kind, config, now)
	if err != nil {
		return false, fmt.Errorf("register: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register: rows affected: %w", err)
	}
	return rows > 0, nil
}

// PutEscrowRecord writes the escrow ledger state for a payment.
func (t *Tx) PutEscrowRecord(ctx context.Context, paymentHash, token, payer string, collected, capturable, refundable uint64) error {
	dbCollected, err := toDBAmount(collected)
	if err != nil {
		return fmt.Errorf("put escrow record: %w", err)
	}
	dbCapturable, err := toDBAmount(capturable)
	if err != nil {
		return fmt.Errorf("put escrow record: %w", err)
	}
	dbRefundable, err := toDBAmount(refundable)
	if err != nil {
		return fmt.Errorf("put escrow record: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO escrow_payments
		(payment_hash, token, payer, collected, capturable, refundable)
		VALUES (?, ?, ?, ?, ?, ?)
	`, paymentHash, token, payer, dbCollected, dbCapturable, dbRefundable)
	if err != nil {
		return fmt.Errorf("put escrow record: %w", err)
	}
	return nil
}

// AddBalance credits an account.
func (t *Tx) AddBalance(ctx context.Context, token, account string, delta uint64) error {
	current, err := t.Balance(ctx, token, account)
	if err != nil {
		return err
	}
	next, err := policy.AddChecked(current, delta)
	if err != nil {
		return err
	}
	return t.putBalance(ctx, token, account, next)
}

// SubBalance debits an account. Insufficient funds is an error.
func (t *Tx) SubBalance(ctx context.Context, token, account string, delta uint64) error {
	current, err := t.Balance(ctx, token, account)
	if err != nil {
		return err
	}
	if current < delta {
		return fmt.Errorf("insufficient balance for %s/%s: have %d, need %d", token, account, current, delta)
	}
	return t.putBalance(ctx, token, account, current-delta)
}

func (t *Tx) putBalance(ctx context.Context, token, account string, amount uint64) error {
	dbAmount, err := toDBAmount(amount)
	if err != nil {
		return fmt.Errorf("put balance: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO balances (token, account, amount) VALUES (?, ?, ?)
	`, token, account, dbAmount)
	if err != nil {
		return fmt.Errorf("put balance: %w", err)
	}
	return nil
}

// RecordAction appends an audit row for a completed operator action.
func (t *Tx) RecordAction(ctx context.Context, token, action, paymentHash string, amount uint64, caller string, at int64) error {
	dbAmount, err := toDBAmount(amount)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO actions (token, action, payment_hash, amount, caller, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, token, action, paymentHash, dbAmount, caller, at)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}
