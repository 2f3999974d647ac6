package escrow

import (
	"context"
	"fmt"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/store"
)

// StoreLedger is the SQLite-backed Ledger and Transfers. It holds no
// connection of its own: every call joins the store transaction attached to
// the context by Store.WithTx, so ledger movements commit or roll back with
// the operator action that caused them.
type StoreLedger struct{}

// NewStoreLedger creates the SQLite-backed ledger.
func NewStoreLedger() *StoreLedger {
	return &StoreLedger{}
}

func ledgerTx(ctx context.Context) (*store.Tx, error) {
	tx, ok := store.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("escrow: no store transaction in context")
	}
	return tx, nil
}

func (l *StoreLedger) Authorize(ctx context.Context, p pay.Descriptor, amount uint64, fundSource string) error {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return err
	}
	hash, err := p.Hash()
	if err != nil {
		return err
	}

	_, _, _, exists, err := tx.EscrowRecord(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("escrow: payment %s already collected", hash)
	}

	source := fundSource
	if source == "" {
		source = p.Payer
	}
	if err := tx.SubBalance(ctx, p.Token, source, amount); err != nil {
		return err
	}
	if err := tx.AddBalance(ctx, p.Token, Account, amount); err != nil {
		return err
	}
	return tx.PutEscrowRecord(ctx, hash, p.Token, p.Payer, amount, amount, 0)
}

func (l *StoreLedger) Capture(ctx context.Context, p pay.Descriptor, amount uint64) error {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return err
	}
	hash, err := p.Hash()
	if err != nil {
		return err
	}

	collected, capturable, refundable, exists, err := tx.EscrowRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("escrow: payment %s not collected", hash)
	}
	if capturable < amount {
		return fmt.Errorf("escrow: capture %d exceeds capturable %d", amount, capturable)
	}

	if err := tx.SubBalance(ctx, p.Token, Account, amount); err != nil {
		return err
	}
	if err := tx.AddBalance(ctx, p.Token, p.Operator, amount); err != nil {
		return err
	}
	return tx.PutEscrowRecord(ctx, hash, p.Token, p.Payer, collected, capturable-amount, refundable+amount)
}

func (l *StoreLedger) Refund(ctx context.Context, p pay.Descriptor, amount uint64, fundSource string) error {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return err
	}
	hash, err := p.Hash()
	if err != nil {
		return err
	}

	collected, capturable, refundable, exists, err := tx.EscrowRecord(ctx, hash)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("escrow: payment %s not collected", hash)
	}

	if fundSource == "" {
		if capturable < amount {
			return fmt.Errorf("escrow: refund %d exceeds capturable %d", amount, capturable)
		}
		if err := tx.SubBalance(ctx, p.Token, Account, amount); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, p.Token, p.Payer, amount); err != nil {
			return err
		}
		return tx.PutEscrowRecord(ctx, hash, p.Token, p.Payer, collected, capturable-amount, refundable)
	}

	if refundable < amount {
		return fmt.Errorf("escrow: refund %d exceeds refundable %d", amount, refundable)
	}
	if err := tx.SubBalance(ctx, p.Token, fundSource, amount); err != nil {
		return err
	}
	if err := tx.AddBalance(ctx, p.Token, p.Payer, amount); err != nil {
		return err
	}
	return tx.PutEscrowRecord(ctx, hash, p.Token, p.Payer, collected, capturable, refundable-amount)
}

func (l *StoreLedger) PaymentState(ctx context.Context, paymentHash string) (State, bool, error) {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return State{}, false, err
	}
	collected, capturable, refundable, exists, err := tx.EscrowRecord(ctx, paymentHash)
	if err != nil {
		return State{}, false, err
	}
	if !exists {
		return State{}, false, nil
	}
	return State{Collected: collected, Capturable: capturable, Refundable: refundable}, true, nil
}

func (l *StoreLedger) Transfer(ctx context.Context, token, from, to string, amount uint64) error {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.SubBalance(ctx, token, from, amount); err != nil {
		return err
	}
	return tx.AddBalance(ctx, token, to, amount)
}

func (l *StoreLedger) Balance(ctx context.Context, token, account string) (uint64, error) {
	tx, err := ledgerTx(ctx)
	if err != nil {
		return 0, err
	}
	return tx.Balance(ctx, token, account)
}
