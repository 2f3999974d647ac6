package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasisPoints_RateBounds(t *testing.T) {
	_, err := BasisPoints(10_001)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = BasisPoints(10_000)
	assert.NoError(t, err)

	_, err = BasisPoints(0)
	assert.NoError(t, err)
}

func TestBasisPoints_Fee(t *testing.T) {
	p := testPayment()

	tests := []struct {
		name   string
		rate   uint32
		amount uint64
		want   uint64
	}{
		{"zero rate", 0, 1000, 0},
		{"zero amount", 50, 0, 0},
		{"25 bps of 1000", 25, 1000, 2},
		{"50 bps of 1000", 50, 1000, 5},
		{"floors below one unit", 50, 199, 0},
		{"first unit at 200", 50, 200, 1},
		{"full rate", 10_000, 1234, 1234},
		{"half rate", 5_000, 1001, 500},
		{"large amount", 25, math.MaxInt64, 23058430092136939},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := BasisPoints(tt.rate)
			require.NoError(t, err)
			fee, err := calc.Fee(p, tt.amount, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, fee)
		})
	}
}

// Protocol and operator fees floor independently. With protocol at 25 bps and
// operator at 50 bps on 1000 units: 2 + 5 = 7, and payout is 993.
func TestBasisPoints_IndependentFlooring(t *testing.T) {
	p := testPayment()

	protocol, err := BasisPoints(25)
	require.NoError(t, err)
	operator, err := BasisPoints(50)
	require.NoError(t, err)

	pf, err := protocol.Fee(p, 1000, "bob")
	require.NoError(t, err)
	of, err := operator.Fee(p, 1000, "bob")
	require.NoError(t, err)

	assert.Equal(t, uint64(2), pf)
	assert.Equal(t, uint64(5), of)
	assert.Equal(t, uint64(7), pf+of)
	assert.LessOrEqual(t, pf+of, uint64(1000))
}

// Combined per-component fees never exceed the fee of the summed rate by more
// than the number of components, and never exceed the amount itself.
func TestBasisPoints_FeeNeverExceedsAmount(t *testing.T) {
	p := testPayment()
	for _, rate := range []uint32{1, 50, 9_999, 10_000} {
		calc, err := BasisPoints(rate)
		require.NoError(t, err)
		for _, amount := range []uint64{0, 1, 199, 200, 1000, math.MaxInt64} {
			fee, err := calc.Fee(p, amount, "bob")
			require.NoError(t, err)
			assert.LessOrEqual(t, fee, amount, "rate=%d amount=%d", rate, amount)
		}
	}
}

func TestBasisPoints_ReportsRate(t *testing.T) {
	calc, err := BasisPoints(125)
	require.NoError(t, err)

	reporter, ok := calc.(RateReporter)
	require.True(t, ok)
	assert.Equal(t, uint32(125), reporter.RateBps())
}

func TestBasisPoints_MaxAmountNoOverflow(t *testing.T) {
	calc, err := BasisPoints(10_000)
	require.NoError(t, err)

	fee, err := calc.Fee(testPayment(), math.MaxUint64, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), fee)
}
