package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/covenant-labs/covenant/internal/pay"
)

// AuthorizationTime returns the stamped authorize-time timestamp for a
// payment, or 0 if the payment was never stamped.
func (t *Tx) AuthorizationTime(ctx context.Context, paymentHash string) (int64, error) {
	var ts int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT auth_time FROM authorizations WHERE payment_hash = ?
	`, paymentHash).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read authorization time: %w", err)
	}
	return ts, nil
}

// FreezeRecord returns the freeze latch for a payment. Absent records read
// as (false, 0).
func (t *Tx) FreezeRecord(ctx context.Context, paymentHash string) (bool, int64, error) {
	var frozen int
	var expiry int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT frozen, expiry FROM freezes WHERE payment_hash = ?
	`, paymentHash).Scan(&frozen, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("read freeze record: %w", err)
	}
	return frozen != 0, expiry, nil
}

// TVL returns the total value locked for a token. Absent rows read as 0.
func (t *Tx) TVL(ctx context.Context, token string) (uint64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM tvl WHERE token = ?
	`, token).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read tvl: %w", err)
	}
	return uint64(amount), nil
}

// HasPayment reports whether a payment descriptor has been persisted.
func (t *Tx) HasPayment(ctx context.Context, paymentHash string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments WHERE hash = ?
	`, paymentHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check payment: %w", err)
	}
	return count > 0, nil
}

// GetPayment returns the persisted descriptor for a payment hash.
// Returns sql.ErrNoRows if not found.
func (t *Tx) GetPayment(ctx context.Context, paymentHash string) (pay.Descriptor, error) {
	var canonical string
	err := t.tx.QueryRowContext(ctx, `
		SELECT descriptor FROM payments WHERE hash = ?
	`, paymentHash).Scan(&canonical)
	if err != nil {
		return pay.Descriptor{}, err
	}

	var p pay.Descriptor
	if err := json.Unmarshal([]byte(canonical), &p); err != nil {
		return pay.Descriptor{}, fmt.Errorf("unmarshal payment %s: %w", paymentHash, err)
	}
	return p, nil
}

// PaymentsByRole returns one page of payment hashes for a principal in the
// given role ("payer" or "receiver"), plus the total match count. Ordering
// is deterministic: created_at ASC, then hash with binary collation. An
// offset past the end yields an empty page with the correct total.
func (t *Tx) PaymentsByRole(ctx context.Context, role, principal string, offset, count int) ([]string, int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_index WHERE role = ? AND principal = ?
	`, role, principal).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments by role: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT payment_hash FROM payment_index
		WHERE role = ? AND principal = ?
		ORDER BY created_at ASC, payment_hash COLLATE BINARY ASC
		LIMIT ? OFFSET ?
	`, role, principal, count, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query payments by role: %w", err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, 0, fmt.Errorf("scan payment hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payments by role: %w", err)
	}

	return hashes, total, nil
}

// AccruedFee returns the protocol fee accrued by an operator for a token.
// Absent rows read as 0.
func (t *Tx) AccruedFee(ctx context.Context, operator, token string) (uint64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM accrued_fees WHERE operator = ? AND token = ?
	`, operator, token).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read accrued fee: %w", err)
	}
	return uint64(amount), nil
}

// Registration returns the stored registration for an address.
func (t *Tx) Registration(ctx context.Context, address string) (kind, config string, ok bool, err error) {
	err = t.tx.QueryRowContext(ctx, `
		SELECT kind, config FROM registrations WHERE address = ?
	`, address).Scan(&kind, &config)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("read registration: %w", err)
	}
	return kind, config, true, nil
}

// EscrowRecord returns the escrow ledger state for a payment.
func (t *Tx) EscrowRecord(ctx context.Context, paymentHash string) (collected, capturable, refundable uint64, ok bool, err error) {
	var dbCollected, dbCapturable, dbRefundable int64
	err = t.tx.QueryRowContext(ctx, `
		SELECT collected, capturable, refundable FROM escrow_payments WHERE payment_hash = ?
	`, paymentHash).Scan(&dbCollected, &dbCapturable, &dbRefundable)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("read escrow record: %w", err)
	}
	return uint64(dbCollected), uint64(dbCapturable), uint64(dbRefundable), true, nil
}

// EscrowPayer returns the payer recorded on the escrow ledger entry.
func (t *Tx) EscrowPayer(ctx context.Context, paymentHash string) (string, bool, error) {
	var payer string
	err := t.tx.QueryRowContext(ctx, `
		SELECT payer FROM escrow_payments WHERE payment_hash = ?
	`, paymentHash).Scan(&payer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read escrow payer: %w", err)
	}
	return payer, true, nil
}

// Balance returns an account's token balance. Absent rows read as 0.
func (t *Tx) Balance(ctx context.Context, token, account string) (uint64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE token = ? AND account = ?
	`, token, account).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return uint64(amount), nil
}

// Action is one audit log row.
type Action struct {
	ID          int64
	Token       string
	Action      string
	PaymentHash string
	Amount      uint64
	Caller      string
	At          int64
}

// ActionsForPayment returns the audit log for a payment in append order.
func (t *Tx) ActionsForPayment(ctx context.Context, paymentHash string) ([]Action, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, token, action, payment_hash, amount, caller, at
		FROM actions
		WHERE payment_hash = ?
		ORDER BY id ASC
	`, paymentHash)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a Action
		var amount int64
		if err := rows.Scan(&a.ID, &a.Token, &a.Action, &a.PaymentHash, &amount, &a.Caller, &a.At); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Amount = uint64(amount)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	return actions, nil
}
