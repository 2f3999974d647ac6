package operator

import (
	"context"

	"github.com/covenant-labs/covenant/internal/compiler"
	"github.com/covenant-labs/covenant/internal/escrow"
	"github.com/covenant-labs/covenant/internal/policy"
	"github.com/covenant-labs/covenant/internal/registry"
	"github.com/covenant-labs/covenant/internal/store"
)

// Kind is the registry kind operators register under.
const Kind = "operator"

// Factory builds operators from compiled definitions. Each operator
// registers under the content address of its definition, so building the
// same definition twice yields the same address and the same instance, and
// the address can be computed without building anything.
type Factory struct {
	registry  *registry.Registry[*Operator]
	store     *store.Store
	ledger    escrow.Ledger
	transfers escrow.Transfers
	clock     Clock
	tokens    TokenGenerator
}

// NewFactory creates an operator factory over one store and escrow ledger.
// clock and tokens may be nil; New applies the same defaults either way.
func NewFactory(st *store.Store, ledger escrow.Ledger, transfers escrow.Transfers, clock Clock, tokens TokenGenerator) *Factory {
	return &Factory{
		registry:  registry.New[*Operator](Kind, st),
		store:     st,
		ledger:    ledger,
		transfers: transfers,
		clock:     clock,
		tokens:    tokens,
	}
}

// Address computes the address a definition would register under.
func (f *Factory) Address(spec *compiler.OperatorSpec) (string, error) {
	return f.registry.Address(spec.EncodeMap())
}

// Build constructs and registers the operator a definition describes.
// created reports whether this call wrote a new registration.
func (f *Factory) Build(ctx context.Context, spec *compiler.OperatorSpec) (*Operator, bool, error) {
	_, op, created, err := f.registry.GetOrCreate(ctx, spec.EncodeMap(), func(address string) (*Operator, error) {
		cfg, err := configFromSpec(spec)
		if err != nil {
			return nil, err
		}
		return New(address, cfg, f.store, f.ledger, f.transfers, f.clock, f.tokens)
	})
	return op, created, err
}

// Get returns a previously built operator.
func (f *Factory) Get(address string) (*Operator, bool) {
	return f.registry.Get(address)
}

// configFromSpec converts a declarative spec into a runtime Config. A fee
// rate of 0 gets no calculator at all, so a zero-rate definition needs no
// recipient.
func configFromSpec(spec *compiler.OperatorSpec) (Config, error) {
	cfg := Config{
		FeeRecipient:         spec.FeeRecipient,
		ProtocolFeeRecipient: spec.ProtocolFeeRecipient,
	}

	var err error
	if spec.ProtocolFeeBps != nil && *spec.ProtocolFeeBps > 0 {
		if cfg.ProtocolFee, err = policy.BasisPoints(*spec.ProtocolFeeBps); err != nil {
			return Config{}, err
		}
	}
	if spec.OperatorFeeBps != nil && *spec.OperatorFeeBps > 0 {
		if cfg.OperatorFee, err = policy.BasisPoints(*spec.OperatorFeeBps); err != nil {
			return Config{}, err
		}
	}

	if spec.Timelock != nil {
		var freezeCond, unfreezeCond policy.Condition
		if spec.Timelock.Freeze != nil {
			if freezeCond, err = policy.BuildCondition(spec.Timelock.Freeze, nil); err != nil {
				return Config{}, err
			}
		}
		if spec.Timelock.Unfreeze != nil {
			if unfreezeCond, err = policy.BuildCondition(spec.Timelock.Unfreeze, nil); err != nil {
				return Config{}, err
			}
		}
		cfg.Timelock, err = policy.NewTimelock(spec.Timelock.Period, spec.Timelock.FreezeDuration, freezeCond, unfreezeCond)
		if err != nil {
			return Config{}, err
		}
	}

	slots := []struct {
		spec compiler.SlotSpec
		dst  *Slot
	}{
		{spec.Authorize, &cfg.Authorize},
		{spec.Charge, &cfg.Charge},
		{spec.Release, &cfg.Release},
		{spec.RefundInEscrow, &cfg.RefundInEscrow},
		{spec.RefundPostEscrow, &cfg.RefundPostEscrow},
	}
	for _, slot := range slots {
		if slot.spec.Condition != nil {
			if slot.dst.Condition, err = policy.BuildCondition(slot.spec.Condition, cfg.Timelock); err != nil {
				return Config{}, err
			}
		}
		if slot.spec.Recorder != nil {
			if slot.dst.Recorder, err = policy.BuildRecorder(slot.spec.Recorder, cfg.Timelock); err != nil {
				return Config{}, err
			}
		}
	}

	return cfg, nil
}
