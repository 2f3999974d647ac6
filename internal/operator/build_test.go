package operator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/internal/compiler"
	"github.com/covenant-labs/covenant/internal/escrow"
	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/store"
	"github.com/covenant-labs/covenant/internal/testutil"
)

const checkoutDefinition = `
operator: checkout: {
	fee_recipient:          "fee-box"
	protocol_fee_recipient: "protocol-box"
	protocol_fee_bps:       25
	operator_fee_bps:       50

	timelock: {
		period: 100
		freeze:   {receiver: true}
		unfreeze: {receiver: true}
	}

	authorize: {
		condition: {payer: true}
		recorder: {stamp_authorization: true}
	}
	release: {
		condition: {all: [
			{receiver: true},
			{releasable: true},
		]}
	}
}
`

func compileOperatorSpec(t *testing.T, src string) *compiler.OperatorSpec {
	t.Helper()
	def, err := compiler.CompileBytes([]byte(src), "test.cue")
	require.NoError(t, err)
	require.Empty(t, compiler.Validate(def))
	require.Len(t, def.Operators, 1)
	for _, spec := range def.Operators {
		return spec
	}
	return nil
}

func factoryFixture(t *testing.T) (*store.Store, *Factory, *testutil.ManualClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "covenant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewManualClock(50)
	ledger := &escrow.StoreLedger{}
	return st, NewFactory(st, ledger, ledger, clock, testutil.NewFixedTokenGenerator()), clock
}

func TestFactory_BuildIdempotent(t *testing.T) {
	_, factory, _ := factoryFixture(t)
	ctx := context.Background()
	spec := compileOperatorSpec(t, checkoutDefinition)

	precomputed, err := factory.Address(spec)
	require.NoError(t, err)

	op1, created, err := factory.Build(ctx, spec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, precomputed, op1.Address())

	op2, created, err := factory.Build(ctx, spec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, op1, op2)

	got, ok := factory.Get(precomputed)
	require.True(t, ok)
	assert.Same(t, op1, got)
}

func TestFactory_DistinctDefinitionsDistinctOperators(t *testing.T) {
	_, factory, _ := factoryFixture(t)
	ctx := context.Background()

	op1, _, err := factory.Build(ctx, compileOperatorSpec(t, `operator: a: {operator_fee_bps: 10, fee_recipient: "a"}`))
	require.NoError(t, err)
	op2, _, err := factory.Build(ctx, compileOperatorSpec(t, `operator: b: {operator_fee_bps: 20, fee_recipient: "b"}`))
	require.NoError(t, err)
	assert.NotEqual(t, op1.Address(), op2.Address())
}

func TestFactory_BuiltOperatorRunsLifecycle(t *testing.T) {
	st, factory, clock := factoryFixture(t)
	ctx := context.Background()

	op, _, err := factory.Build(ctx, compileOperatorSpec(t, checkoutDefinition))
	require.NoError(t, err)

	p := pay.Descriptor{
		Operator:            op.Address(),
		Payer:               "alice",
		Receiver:            "bob",
		Token:               "usd",
		MaxAmount:           10_000,
		PreApprovalExpiry:   1000,
		AuthorizationExpiry: 2000,
		RefundExpiry:        3000,
		MaxFeeBps:           500,
		Salt:                "s-1",
	}

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.AddBalance(ctx, "usd", "alice", 5000)
	}))

	// The authorize condition admits only the payer.
	err = op.Authorize(ctx, p, 1000, "", "bob")
	require.Error(t, err)
	require.NoError(t, op.Authorize(ctx, p, 1000, "", "alice"))

	// Inside the escrow period the release condition denies even the receiver.
	err = op.Release(ctx, p, 1000, "bob")
	require.Error(t, err)

	clock.Advance(100)
	require.NoError(t, op.Release(ctx, p, 1000, "bob"))

	balance := func(account string) uint64 {
		var got uint64
		require.NoError(t, st.View(ctx, func(ctx context.Context, tx *store.Tx) error {
			var err error
			got, err = tx.Balance(ctx, "usd", account)
			return err
		}))
		return got
	}
	assert.Equal(t, uint64(993), balance("bob"), "payout net of 75 bps on 1000")
	assert.Equal(t, uint64(4000), balance("alice"))

	accrued, err := op.AccruedFee(ctx, "usd")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), accrued)
}

func TestFactory_FreezeGateFromDefinition(t *testing.T) {
	st, factory, clock := factoryFixture(t)
	ctx := context.Background()

	op, _, err := factory.Build(ctx, compileOperatorSpec(t, checkoutDefinition))
	require.NoError(t, err)

	p := pay.Descriptor{
		Operator:            op.Address(),
		Payer:               "alice",
		Receiver:            "bob",
		Token:               "usd",
		MaxAmount:           10_000,
		PreApprovalExpiry:   1000,
		AuthorizationExpiry: 2000,
		RefundExpiry:        3000,
		MaxFeeBps:           500,
		Salt:                "s-2",
	}

	require.NoError(t, st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.AddBalance(ctx, "usd", "alice", 5000)
	}))
	require.NoError(t, op.Authorize(ctx, p, 1000, "", "alice"))

	// The freeze gate admits only the receiver.
	require.Error(t, op.Freeze(ctx, p, "alice"))
	require.NoError(t, op.Freeze(ctx, p, "bob"))

	clock.Advance(100)
	require.Error(t, op.Release(ctx, p, 1000, "bob"), "frozen past the escrow period")

	require.NoError(t, op.Unfreeze(ctx, p, "bob"))
	require.NoError(t, op.Release(ctx, p, 1000, "bob"))
}

func TestFactory_ZeroRateNeedsNoRecipient(t *testing.T) {
	_, factory, _ := factoryFixture(t)
	_, _, err := factory.Build(context.Background(), compileOperatorSpec(t, `operator: x: {operator_fee_bps: 0}`))
	require.NoError(t, err)
}

func TestFactory_RejectsReleasableWithoutTimelock(t *testing.T) {
	_, factory, _ := factoryFixture(t)
	def, err := compiler.CompileBytes([]byte(`operator: x: release: condition: releasable: true`), "bad.cue")
	require.NoError(t, err)

	var spec *compiler.OperatorSpec
	for _, s := range def.Operators {
		spec = s
	}
	_, _, err = factory.Build(context.Background(), spec)
	require.Error(t, err)
}
