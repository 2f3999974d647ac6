package policy

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
)

type payerIsCaller struct{}

// PayerIsCaller matches when the caller is the payment's payer.
func PayerIsCaller() Condition { return payerIsCaller{} }

func (payerIsCaller) Check(_ context.Context, _ *Env, p pay.Descriptor, _ uint64, caller string) (bool, error) {
	return caller == p.Payer, nil
}

type receiverIsCaller struct{}

// ReceiverIsCaller matches when the caller is the payment's receiver.
func ReceiverIsCaller() Condition { return receiverIsCaller{} }

func (receiverIsCaller) Check(_ context.Context, _ *Env, p pay.Descriptor, _ uint64, caller string) (bool, error) {
	return caller == p.Receiver, nil
}

type principalIsCaller struct {
	id string
}

// Principal matches when the caller is a fixed principal, typically an
// arbiter appointed at configuration time.
func Principal(id string) (Condition, error) {
	if id == "" {
		return nil, NewConfigError("principal: id is required")
	}
	return principalIsCaller{id: id}, nil
}

func (c principalIsCaller) Check(_ context.Context, _ *Env, _ pay.Descriptor, _ uint64, caller string) (bool, error) {
	return caller == c.id, nil
}

type alwaysTrue struct{}

// AlwaysTrue matches unconditionally. Useful as an explicit "open" leaf in
// composed trees.
func AlwaysTrue() Condition { return alwaysTrue{} }

func (alwaysTrue) Check(context.Context, *Env, pay.Descriptor, uint64, string) (bool, error) {
	return true, nil
}

type tvlLimit struct {
	limit uint64
}

// TVLLimit matches while the total value locked for the payment's token,
// including the amount under evaluation, stays at or below the limit. Used
// to cap an operator's aggregate exposure per token.
func TVLLimit(limit uint64) (Condition, error) {
	if limit == 0 {
		return nil, NewConfigError("tvl limit: limit must be positive")
	}
	return tvlLimit{limit: limit}, nil
}

func (c tvlLimit) Check(ctx context.Context, env *Env, p pay.Descriptor, amount uint64, _ string) (bool, error) {
	locked, err := env.State.TVL(ctx, p.Token)
	if err != nil {
		return false, err
	}
	total, err := AddChecked(locked, amount)
	if err != nil {
		return false, err
	}
	return total <= c.limit, nil
}

type paymentIndexRecorder struct{}

// PaymentIndex returns a recorder that adds the payment to the per-payer and
// per-receiver secondary indices, enabling paginated lookup.
func PaymentIndex() Recorder { return paymentIndexRecorder{} }

func (paymentIndexRecorder) Record(ctx context.Context, env *Env, p pay.Descriptor, _ uint64, _ string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}
	return env.Journal.IndexPayment(ctx, hash, p.Payer, p.Receiver, env.Now)
}
