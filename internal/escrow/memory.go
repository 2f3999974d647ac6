package escrow

import (
	"context"
	"fmt"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
)

// Memory is an in-memory Ledger and Transfers for tests. It is not
// transactional: partial writes from a failed operator action stick, so it
// suits unit tests that never abort mid-action.
type Memory struct {
	payments map[string]State
	balances map[string]map[string]uint64 // token -> account -> amount
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		payments: map[string]State{},
		balances: map[string]map[string]uint64{},
	}
}

// Mint credits an account out of thin air. Test setup only.
func (m *Memory) Mint(token, account string, amount uint64) {
	if m.balances[token] == nil {
		m.balances[token] = map[string]uint64{}
	}
	m.balances[token][account] += amount
}

func (m *Memory) Authorize(_ context.Context, p pay.Descriptor, amount uint64, fundSource string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}
	if _, ok := m.payments[hash]; ok {
		return fmt.Errorf("escrow: payment %s already collected", hash)
	}
	source := fundSource
	if source == "" {
		source = p.Payer
	}
	if err := m.transfer(p.Token, source, Account, amount); err != nil {
		return err
	}
	m.payments[hash] = State{Collected: amount, Capturable: amount}
	return nil
}

func (m *Memory) Capture(_ context.Context, p pay.Descriptor, amount uint64) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}
	st, ok := m.payments[hash]
	if !ok {
		return fmt.Errorf("escrow: payment %s not collected", hash)
	}
	if st.Capturable < amount {
		return fmt.Errorf("escrow: capture %d exceeds capturable %d", amount, st.Capturable)
	}
	if err := m.transfer(p.Token, Account, p.Operator, amount); err != nil {
		return err
	}
	st.Capturable -= amount
	refundable, err := policy.AddChecked(st.Refundable, amount)
	if err != nil {
		return err
	}
	st.Refundable = refundable
	m.payments[hash] = st
	return nil
}

func (m *Memory) Refund(_ context.Context, p pay.Descriptor, amount uint64, fundSource string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}
	st, ok := m.payments[hash]
	if !ok {
		return fmt.Errorf("escrow: payment %s not collected", hash)
	}

	if fundSource == "" {
		if st.Capturable < amount {
			return fmt.Errorf("escrow: refund %d exceeds capturable %d", amount, st.Capturable)
		}
		if err := m.transfer(p.Token, Account, p.Payer, amount); err != nil {
			return err
		}
		st.Capturable -= amount
	} else {
		if st.Refundable < amount {
			return fmt.Errorf("escrow: refund %d exceeds refundable %d", amount, st.Refundable)
		}
		if err := m.transfer(p.Token, fundSource, p.Payer, amount); err != nil {
			return err
		}
		st.Refundable -= amount
	}
	m.payments[hash] = st
	return nil
}

func (m *Memory) PaymentState(_ context.Context, paymentHash string) (State, bool, error) {
	st, ok := m.payments[paymentHash]
	return st, ok, nil
}

func (m *Memory) Transfer(_ context.Context, token, from, to string, amount uint64) error {
	return m.transfer(token, from, to, amount)
}

func (m *Memory) Balance(_ context.Context, token, account string) (uint64, error) {
	return m.balances[token][account], nil
}

func (m *Memory) transfer(token, from, to string, amount uint64) error {
	accounts := m.balances[token]
	if accounts == nil {
		accounts = map[string]uint64{}
		m.balances[token] = accounts
	}
	if accounts[from] < amount {
		return fmt.Errorf("escrow: insufficient balance for %s/%s: have %d, need %d", token, from, accounts[from], amount)
	}
	credited, err := policy.AddChecked(accounts[to], amount)
	if err != nil {
		return err
	}
	accounts[from] -= amount
	accounts[to] = credited
	return nil
}
