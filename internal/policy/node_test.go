package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/internal/pay"
)

func TestBuildCondition_Atoms(t *testing.T) {
	env, _ := testEnv(100)
	ctx := context.Background()
	p := testPayment()

	tests := []struct {
		name   string
		node   *Node
		caller string
		want   bool
	}{
		{"payer matches", &Node{Payer: true}, "alice", true},
		{"payer mismatch", &Node{Payer: true}, "bob", false},
		{"receiver matches", &Node{Receiver: true}, "bob", true},
		{"principal matches", &Node{Principal: "arbiter-1"}, "arbiter-1", true},
		{"always", &Node{Always: true}, "anyone", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := BuildCondition(tt.node, nil)
			require.NoError(t, err)
			ok, err := cond.Check(ctx, env, p, 10, tt.caller)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestBuildCondition_Nested(t *testing.T) {
	node := &Node{
		All: []*Node{
			{Any: []*Node{{Payer: true}, {Principal: "arbiter-1"}}},
			{Not: &Node{Receiver: true}},
		},
	}
	cond, err := BuildCondition(node, nil)
	require.NoError(t, err)

	env, _ := testEnv(100)
	ctx := context.Background()
	p := testPayment()

	for caller, want := range map[string]bool{
		"alice":     true,
		"arbiter-1": true,
		"bob":       false,
	} {
		ok, err := cond.Check(ctx, env, p, 10, caller)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "caller %s", caller)
	}
}

func TestBuildCondition_Errors(t *testing.T) {
	_, err := BuildCondition(nil, nil)
	assert.True(t, IsConfigError(err))

	_, err = BuildCondition(&Node{}, nil)
	assert.True(t, IsConfigError(err), "empty node sets no form")

	_, err = BuildCondition(&Node{All: []*Node{}}, nil)
	assert.True(t, IsConfigError(err), "empty combinator list")

	_, err = BuildCondition(&Node{Releasable: true}, nil)
	assert.True(t, IsConfigError(err), "releasable requires a timelock")
}

func TestBuildCondition_ReleasableWithTimelock(t *testing.T) {
	tl := mustTimelock(t, 100, 0)
	cond, err := BuildCondition(&Node{Releasable: true}, tl)
	require.NoError(t, err)

	p := testPayment()
	_, st := testEnv(0)
	stampAt(t, tl, st, p, 1000)

	env := &Env{Now: 1100, State: st, Journal: st}
	ok, err := cond.Check(context.Background(), env, p, 0, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildRecorder(t *testing.T) {
	tl := mustTimelock(t, 100, 0)
	node := &RecorderNode{
		FanOut: []*RecorderNode{
			{StampAuthorization: true},
			{IndexPayment: true},
		},
	}
	rec, err := BuildRecorder(node, tl)
	require.NoError(t, err)

	p := testPayment()
	hash, err := p.Hash()
	require.NoError(t, err)

	env, st := testEnv(500)
	err = rec.Record(context.Background(), env, p, 10, "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(500), st.authTimes[hash])
	assert.Equal(t, []string{hash}, st.indexed)
}

func TestBuildRecorder_Errors(t *testing.T) {
	_, err := BuildRecorder(nil, nil)
	assert.True(t, IsConfigError(err))

	_, err = BuildRecorder(&RecorderNode{}, nil)
	assert.True(t, IsConfigError(err))

	_, err = BuildRecorder(&RecorderNode{StampAuthorization: true}, nil)
	assert.True(t, IsConfigError(err), "stamp requires a timelock")
}

func TestNodeEncodeMap_Deterministic(t *testing.T) {
	node := &Node{
		All: []*Node{
			{Any: []*Node{{Payer: true}, {Principal: "arbiter-1"}}},
			{Not: &Node{Receiver: true}},
			{TVLLimit: 5000},
		},
	}
	a, err := pay.MarshalCanonical(node.EncodeMap())
	require.NoError(t, err)
	b, err := pay.MarshalCanonical(node.EncodeMap())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := &Node{
		All: []*Node{
			{Any: []*Node{{Payer: true}, {Principal: "arbiter-2"}}},
			{Not: &Node{Receiver: true}},
			{TVLLimit: 5000},
		},
	}
	c, err := pay.MarshalCanonical(other.EncodeMap())
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "a changed leaf changes the encoding")
}

func TestRecorderNodeEncodeMap(t *testing.T) {
	node := &RecorderNode{
		FanOut: []*RecorderNode{
			{StampAuthorization: true},
			{IndexPayment: true},
		},
	}
	got, err := pay.MarshalCanonical(node.EncodeMap())
	require.NoError(t, err)
	assert.Equal(t,
		`{"fan_out":[{"stamp_authorization":true},{"index_payment":true}]}`,
		string(got))
}
