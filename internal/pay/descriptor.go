package pay

import (
	"fmt"
	"math"
)

// MaxFeeBps is the denominator of the basis-point fee scale. A combined fee
// rate above this would let fees exceed the released amount.
const MaxFeeBps = 10_000

// Descriptor is the immutable payment value object. It is created by the
// caller and never mutated; all per-payment state elsewhere is keyed by
// Hash(). Two descriptors with identical fields are the same payment; the
// salt exists so that otherwise-identical payments can be distinguished.
type Descriptor struct {
	// Operator is the principal id of the payment operator entitled to drive
	// this payment's lifecycle.
	Operator string `json:"operator"`

	// Payer funds the payment; Receiver is paid on release.
	Payer    string `json:"payer"`
	Receiver string `json:"receiver"`

	// Token identifies the asset.
	Token string `json:"token"`

	// MaxAmount caps the authorizable amount.
	MaxAmount uint64 `json:"max_amount"`

	// Expiry timestamps (unix seconds), strict upper bounds:
	// authorize before PreApprovalExpiry, release before AuthorizationExpiry,
	// refund before RefundExpiry. Ordering pre <= auth <= refund is enforced
	// by Validate.
	PreApprovalExpiry   int64 `json:"pre_approval_expiry"`
	AuthorizationExpiry int64 `json:"authorization_expiry"`
	RefundExpiry        int64 `json:"refund_expiry"`

	// MinFeeBps/MaxFeeBps bound the combined fee rate an operator may apply
	// at release time, in basis points.
	MinFeeBps uint32 `json:"min_fee_bps"`
	MaxFeeBps uint32 `json:"max_fee_bps"`

	// FeeReceiver is the payer-designated fee recipient recorded on the
	// payment. Empty means the payer imposes no constraint.
	FeeReceiver string `json:"fee_receiver,omitempty"`

	// Salt distinguishes otherwise-identical payments.
	Salt string `json:"salt"`
}

// Validate checks construction-time invariants. Violations are configuration
// errors: they block the descriptor from ever entering the lifecycle.
func (d Descriptor) Validate() error {
	if d.Operator == "" {
		return fmt.Errorf("descriptor: operator is required")
	}
	if d.Payer == "" {
		return fmt.Errorf("descriptor: payer is required")
	}
	if d.Receiver == "" {
		return fmt.Errorf("descriptor: receiver is required")
	}
	if d.Token == "" {
		return fmt.Errorf("descriptor: token is required")
	}
	if d.MaxAmount == 0 {
		return fmt.Errorf("descriptor: max amount must be positive")
	}
	if d.MaxAmount > math.MaxInt64 {
		return fmt.Errorf("descriptor: max amount out of range: %d", d.MaxAmount)
	}
	if d.MaxFeeBps > MaxFeeBps {
		return fmt.Errorf("descriptor: max fee rate %d exceeds %d bps", d.MaxFeeBps, MaxFeeBps)
	}
	if d.MinFeeBps > d.MaxFeeBps {
		return fmt.Errorf("descriptor: min fee rate %d exceeds max fee rate %d", d.MinFeeBps, d.MaxFeeBps)
	}
	if d.PreApprovalExpiry > d.AuthorizationExpiry {
		return fmt.Errorf("descriptor: pre-approval expiry after authorization expiry")
	}
	if d.AuthorizationExpiry > d.RefundExpiry {
		return fmt.Errorf("descriptor: authorization expiry after refund expiry")
	}
	return nil
}

// canonicalObject returns the full field set as a canonical Object. Every
// field participates in identity, including empty ones.
func (d Descriptor) canonicalObject() Object {
	return Object{
		"operator":             String(d.Operator),
		"payer":                String(d.Payer),
		"receiver":             String(d.Receiver),
		"token":                String(d.Token),
		"max_amount":           Int(d.MaxAmount),
		"pre_approval_expiry":  Int(d.PreApprovalExpiry),
		"authorization_expiry": Int(d.AuthorizationExpiry),
		"refund_expiry":        Int(d.RefundExpiry),
		"min_fee_bps":          Int(d.MinFeeBps),
		"max_fee_bps":          Int(d.MaxFeeBps),
		"fee_receiver":         String(d.FeeReceiver),
		"salt":                 String(d.Salt),
	}
}

// Hash computes the content-addressed identity of the payment. It is stable
// across processes and restarts given the same field values.
func (d Descriptor) Hash() (string, error) {
	canonical, err := MarshalCanonical(d.canonicalObject())
	if err != nil {
		return "", fmt.Errorf("descriptor hash: %w", err)
	}
	return HashWithDomain(DomainPayment, canonical), nil
}

// MustHash is like Hash but panics on error. Use only in tests or when the
// descriptor is known to be valid.
func (d Descriptor) MustHash() string {
	h, err := d.Hash()
	if err != nil {
		panic(err)
	}
	return h
}

// MarshalCanonical serializes the descriptor as canonical JSON, suitable for
// persistence next to the hash.
func (d Descriptor) MarshalCanonical() ([]byte, error) {
	return MarshalCanonical(d.canonicalObject())
}
