package pay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() Descriptor {
	return Descriptor{
		Operator:            "op-1",
		Payer:               "alice",
		Receiver:            "bob",
		Token:               "usd",
		MaxAmount:           1000,
		PreApprovalExpiry:   1000,
		AuthorizationExpiry: 2000,
		RefundExpiry:        3000,
		MinFeeBps:           0,
		MaxFeeBps:           500,
		Salt:                "s-1",
	}
}

func TestDescriptor_Validate(t *testing.T) {
	require.NoError(t, validDescriptor().Validate())
}

func TestDescriptor_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"missing operator", func(d *Descriptor) { d.Operator = "" }},
		{"missing payer", func(d *Descriptor) { d.Payer = "" }},
		{"missing receiver", func(d *Descriptor) { d.Receiver = "" }},
		{"missing token", func(d *Descriptor) { d.Token = "" }},
		{"zero max amount", func(d *Descriptor) { d.MaxAmount = 0 }},
		{"max fee rate too high", func(d *Descriptor) { d.MaxFeeBps = 10_001 }},
		{"min above max fee rate", func(d *Descriptor) { d.MinFeeBps = 600; d.MaxFeeBps = 500 }},
		{"pre-approval after authorization", func(d *Descriptor) { d.PreApprovalExpiry = 2500 }},
		{"authorization after refund", func(d *Descriptor) { d.AuthorizationExpiry = 3500; d.RefundExpiry = 3000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			assert.Error(t, d.Validate())
		})
	}
}

func TestDescriptor_Hash_Deterministic(t *testing.T) {
	a := validDescriptor()
	b := validDescriptor()

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "identical fields must produce identical hashes")
	assert.Len(t, ha, 64, "hex-encoded SHA-256")
}

func TestDescriptor_Hash_EveryFieldParticipates(t *testing.T) {
	base := validDescriptor().MustHash()

	mutations := []struct {
		name   string
		mutate func(*Descriptor)
	}{
		{"operator", func(d *Descriptor) { d.Operator = "op-2" }},
		{"payer", func(d *Descriptor) { d.Payer = "carol" }},
		{"receiver", func(d *Descriptor) { d.Receiver = "dave" }},
		{"token", func(d *Descriptor) { d.Token = "eur" }},
		{"max amount", func(d *Descriptor) { d.MaxAmount = 1001 }},
		{"pre-approval expiry", func(d *Descriptor) { d.PreApprovalExpiry = 999 }},
		{"authorization expiry", func(d *Descriptor) { d.AuthorizationExpiry = 2001 }},
		{"refund expiry", func(d *Descriptor) { d.RefundExpiry = 3001 }},
		{"min fee", func(d *Descriptor) { d.MinFeeBps = 1 }},
		{"max fee", func(d *Descriptor) { d.MaxFeeBps = 501 }},
		{"fee receiver", func(d *Descriptor) { d.FeeReceiver = "treasury" }},
		{"salt", func(d *Descriptor) { d.Salt = "s-2" }},
	}

	seen := map[string]string{base: "base"}
	for _, m := range mutations {
		d := validDescriptor()
		m.mutate(&d)
		h := d.MustHash()
		prev, dup := seen[h]
		assert.False(t, dup, "mutating %s collided with %s", m.name, prev)
		seen[h] = m.name
	}
}
