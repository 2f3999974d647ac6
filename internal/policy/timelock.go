package policy

import (
	"context"

	"github.com/covenant-labs/covenant/internal/pay"
)

// Timelock is the escrow-period/freeze sub-policy: a temporal two-state gate
// layered over a release condition.
//
// At authorize time its StampRecorder writes the authorization timestamp. A
// payment is inside its escrow period while now < authTime + period; release
// eligibility requires the period to have elapsed. Independently, a freeze
// latch may be set (only while still inside the escrow period) that blocks
// release until it is explicitly lifted or auto-expires.
//
// Boundary behavior is deliberate: freezing fails at the exact instant
// release becomes legal (now == authTime + period). Tests assert this
// boundary; do not make freeze and release eligibility mutually exclusive by
// construction without confirming intent.
type Timelock struct {
	period         int64
	freezeDuration int64
	freezeCond     Condition
	unfreezeCond   Condition
}

// NewTimelock creates an escrow-period/freeze policy.
//
// period is the minimum dwell time (seconds) before unconditional release.
// freezeDuration is how long a freeze lasts; 0 means a freeze never
// auto-expires and must be explicitly lifted. freezeCond and unfreezeCond
// gate who may set and lift the latch; nil means unrestricted, matching the
// operator's treatment of unconfigured slots.
func NewTimelock(period, freezeDuration int64, freezeCond, unfreezeCond Condition) (*Timelock, error) {
	if period <= 0 {
		return nil, NewConfigError("timelock: period must be positive")
	}
	if freezeDuration < 0 {
		return nil, NewConfigError("timelock: freeze duration must not be negative")
	}
	return &Timelock{
		period:         period,
		freezeDuration: freezeDuration,
		freezeCond:     freezeCond,
		unfreezeCond:   unfreezeCond,
	}, nil
}

// Period returns the escrow period in seconds.
func (t *Timelock) Period() int64 { return t.period }

// FreezeDuration returns the configured freeze duration in seconds.
func (t *Timelock) FreezeDuration() int64 { return t.freezeDuration }

// DuringEscrowPeriod reports whether the payment is still inside its escrow
// period. A payment never authorized through this policy (no stamp) reads as
// permanently inside the period: it can never become releasable.
func (t *Timelock) DuringEscrowPeriod(ctx context.Context, env *Env, p pay.Descriptor) (bool, error) {
	hash, err := p.Hash()
	if err != nil {
		return false, err
	}
	authTime, err := env.State.AuthorizationTime(ctx, hash)
	if err != nil {
		return false, err
	}
	if authTime == 0 {
		return true, nil
	}
	return env.Now < authTime+t.period, nil
}

// IsFrozen reports whether an active freeze blocks release. A freeze with a
// positive duration expires on its own once now >= freezeStart + duration;
// expiry 0 means the latch holds until explicitly lifted.
func (t *Timelock) IsFrozen(ctx context.Context, env *Env, p pay.Descriptor) (bool, error) {
	hash, err := p.Hash()
	if err != nil {
		return false, err
	}
	frozen, expiry, err := env.State.FreezeRecord(ctx, hash)
	if err != nil {
		return false, err
	}
	if !frozen {
		return false, nil
	}
	if expiry == 0 {
		return true, nil
	}
	return env.Now < expiry, nil
}

// Freeze sets the freeze latch. Only permitted strictly inside the escrow
// period: at or after the period boundary the payment has become releasable
// and may no longer be frozen.
func (t *Timelock) Freeze(ctx context.Context, env *Env, p pay.Descriptor, caller string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}

	authTime, err := env.State.AuthorizationTime(ctx, hash)
	if err != nil {
		return err
	}
	if authTime == 0 {
		return NewStateError("freeze", hash, "payment not authorized through this policy")
	}
	if env.Now >= authTime+t.period {
		return NewStateError("freeze", hash, "escrow period has elapsed")
	}

	frozen, err := t.IsFrozen(ctx, env, p)
	if err != nil {
		return err
	}
	if frozen {
		return NewStateError("freeze", hash, "payment is already frozen")
	}

	if t.freezeCond != nil {
		ok, err := t.freezeCond.Check(ctx, env.ReadOnly(), p, 0, caller)
		if err != nil {
			return err
		}
		if !ok {
			return NewDeniedError("freeze", hash)
		}
	}

	var expiry int64
	if t.freezeDuration > 0 {
		expiry = env.Now + t.freezeDuration
	}
	return env.Journal.SetFreeze(ctx, hash, true, expiry, env.Now)
}

// Unfreeze lifts the freeze latch. Permitted regardless of escrow-period
// state, but requires an active freeze: lifting an expired or absent freeze
// is a state error.
func (t *Timelock) Unfreeze(ctx context.Context, env *Env, p pay.Descriptor, caller string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}

	frozen, err := t.IsFrozen(ctx, env, p)
	if err != nil {
		return err
	}
	if !frozen {
		return NewStateError("unfreeze", hash, "payment is not frozen")
	}

	if t.unfreezeCond != nil {
		ok, err := t.unfreezeCond.Check(ctx, env.ReadOnly(), p, 0, caller)
		if err != nil {
			return err
		}
		if !ok {
			return NewDeniedError("unfreeze", hash)
		}
	}

	return env.Journal.SetFreeze(ctx, hash, false, 0, env.Now)
}

type stampRecorder struct {
	t *Timelock
}

// StampRecorder returns the authorize-slot recorder that stamps the
// authorization timestamp the escrow period is measured from.
func (t *Timelock) StampRecorder() Recorder { return stampRecorder{t: t} }

func (r stampRecorder) Record(ctx context.Context, env *Env, p pay.Descriptor, _ uint64, _ string) error {
	hash, err := p.Hash()
	if err != nil {
		return err
	}
	return env.Journal.SetAuthorizationTime(ctx, hash, env.Now)
}

type releasableCondition struct {
	t *Timelock
}

// ReleasableCondition returns the release-slot condition: true once the
// escrow period has elapsed and no active freeze holds.
func (t *Timelock) ReleasableCondition() Condition { return releasableCondition{t: t} }

func (c releasableCondition) Check(ctx context.Context, env *Env, p pay.Descriptor, _ uint64, _ string) (bool, error) {
	during, err := c.t.DuringEscrowPeriod(ctx, env, p)
	if err != nil {
		return false, err
	}
	if during {
		return false, nil
	}
	frozen, err := c.t.IsFrozen(ctx, env, p)
	if err != nil {
		return false, err
	}
	return !frozen, nil
}
