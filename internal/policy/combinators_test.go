package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/internal/pay"
)

// countingCondition returns a fixed result and counts invocations, for
// verifying short-circuit behavior.
type countingCondition struct {
	result bool
	calls  int
}

func (c *countingCondition) Check(context.Context, *Env, pay.Descriptor, uint64, string) (bool, error) {
	c.calls++
	return c.result, nil
}

type failingCondition struct{}

func (failingCondition) Check(context.Context, *Env, pay.Descriptor, uint64, string) (bool, error) {
	return false, fmt.Errorf("condition backend unavailable")
}

func testPayment() pay.Descriptor {
	return pay.Descriptor{
		Operator:            "op-1",
		Payer:               "alice",
		Receiver:            "bob",
		Token:               "usd",
		MaxAmount:           1000,
		PreApprovalExpiry:   1000,
		AuthorizationExpiry: 2000,
		RefundExpiry:        3000,
		MaxFeeBps:           500,
		Salt:                "s-1",
	}
}

func TestAnd_ConstructionBounds(t *testing.T) {
	_, err := And()
	require.Error(t, err)
	assert.True(t, IsConfigError(err), "empty list is a configuration error")

	children := make([]Condition, MaxFanIn+1)
	for i := range children {
		children[i] = AlwaysTrue()
	}
	_, err = And(children...)
	require.Error(t, err)
	assert.True(t, IsConfigError(err), "oversized list is a configuration error")

	_, err = And(AlwaysTrue(), nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err), "nil child is a configuration error")

	_, err = And(children[:MaxFanIn]...)
	assert.NoError(t, err, "exactly %d children is allowed", MaxFanIn)
}

func TestAnd_ShortCircuitsOnFirstFalse(t *testing.T) {
	first := &countingCondition{result: true}
	second := &countingCondition{result: false}
	third := &countingCondition{result: true}

	cond, err := And(first, second, third)
	require.NoError(t, err)

	env, _ := testEnv(100)
	ok, err := cond.Check(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)

	assert.False(t, ok)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls, "short-circuit must not evaluate past the first false")
}

func TestAnd_AllPass(t *testing.T) {
	first := &countingCondition{result: true}
	second := &countingCondition{result: true}

	cond, err := And(first, second)
	require.NoError(t, err)

	env, _ := testEnv(100)
	ok, err := cond.Check(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestOr_ShortCircuitsOnFirstTrue(t *testing.T) {
	first := &countingCondition{result: false}
	second := &countingCondition{result: true}
	third := &countingCondition{result: false}

	cond, err := Or(first, second, third)
	require.NoError(t, err)

	env, _ := testEnv(100)
	ok, err := cond.Check(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)

	assert.True(t, ok)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls, "short-circuit must not evaluate past the first true")
}

func TestOr_AllFail(t *testing.T) {
	cond, err := Or(&countingCondition{result: false}, &countingCondition{result: false})
	require.NoError(t, err)

	env, _ := testEnv(100)
	ok, err := cond.Check(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOr_ConstructionBounds(t *testing.T) {
	_, err := Or()
	assert.True(t, IsConfigError(err))

	children := make([]Condition, MaxFanIn+1)
	for i := range children {
		children[i] = AlwaysTrue()
	}
	_, err = Or(children...)
	assert.True(t, IsConfigError(err))
}

func TestNot_Negates(t *testing.T) {
	cond, err := Not(AlwaysTrue())
	require.NoError(t, err)

	env, _ := testEnv(100)
	ok, err := cond.Check(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNot_NilChild(t *testing.T) {
	_, err := Not(nil)
	assert.True(t, IsConfigError(err))
}

func TestCombinators_PropagateErrors(t *testing.T) {
	env, _ := testEnv(100)
	ctx := context.Background()

	and, err := And(AlwaysTrue(), failingCondition{})
	require.NoError(t, err)
	_, err = and.Check(ctx, env, testPayment(), 10, "alice")
	assert.Error(t, err)

	or, err := Or(failingCondition{}, AlwaysTrue())
	require.NoError(t, err)
	_, err = or.Check(ctx, env, testPayment(), 10, "alice")
	assert.Error(t, err)
}

func TestNesting_PayerOrArbiterAndNotReceiver(t *testing.T) {
	// "payer OR arbiter, AND NOT receiver" built purely from atoms.
	arbiter, err := Principal("arbiter-1")
	require.NoError(t, err)
	either, err := Or(PayerIsCaller(), arbiter)
	require.NoError(t, err)
	notReceiver, err := Not(ReceiverIsCaller())
	require.NoError(t, err)
	cond, err := And(either, notReceiver)
	require.NoError(t, err)

	env, _ := testEnv(100)
	ctx := context.Background()
	p := testPayment()

	for caller, want := range map[string]bool{
		"alice":     true,
		"arbiter-1": true,
		"bob":       false,
		"mallory":   false,
	} {
		ok, err := cond.Check(ctx, env, p, 10, caller)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "caller %s", caller)
	}
}

// countingRecorder counts invocations and optionally fails.
type countingRecorder struct {
	calls int
	fail  bool
	order *[]string
	name  string
}

func (r *countingRecorder) Record(context.Context, *Env, pay.Descriptor, uint64, string) error {
	r.calls++
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	if r.fail {
		return fmt.Errorf("recorder %s failed", r.name)
	}
	return nil
}

func TestFanOut_InvokesAllInOrder(t *testing.T) {
	var order []string
	a := &countingRecorder{name: "a", order: &order}
	b := &countingRecorder{name: "b", order: &order}
	c := &countingRecorder{name: "c", order: &order}

	rec, err := FanOut(a, b, c)
	require.NoError(t, err)

	env, _ := testEnv(100)
	err = rec.Record(context.Background(), env, testPayment(), 10, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFanOut_FirstFailureAborts(t *testing.T) {
	a := &countingRecorder{name: "a"}
	b := &countingRecorder{name: "b", fail: true}
	c := &countingRecorder{name: "c"}

	rec, err := FanOut(a, b, c)
	require.NoError(t, err)

	env, _ := testEnv(100)
	err = rec.Record(context.Background(), env, testPayment(), 10, "alice")
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, c.calls, "failure propagates without invoking later recorders")
}

func TestFanOut_ConstructionBounds(t *testing.T) {
	_, err := FanOut()
	assert.True(t, IsConfigError(err))

	children := make([]Recorder, MaxFanIn+1)
	for i := range children {
		children[i] = &countingRecorder{}
	}
	_, err = FanOut(children...)
	assert.True(t, IsConfigError(err))

	_, err = FanOut(children[:MaxFanIn]...)
	assert.NoError(t, err)
}
