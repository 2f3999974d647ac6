package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/internal/store"
)

type widget struct {
	address string
	rate    uint64
}

func widgetConfig(rate uint64) map[string]any {
	return map[string]any{"rate": rate, "name": "widget"}
}

func buildWidget(config map[string]any) func(string) (*widget, error) {
	return func(address string) (*widget, error) {
		return &widget{address: address, rate: config["rate"].(uint64)}, nil
	}
}

func TestAddress_Deterministic(t *testing.T) {
	a, err := Address("widget", widgetConfig(25))
	require.NoError(t, err)
	b, err := Address("widget", widgetConfig(25))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Address("widget", widgetConfig(50))
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "config change changes the address")

	d, err := Address("gadget", widgetConfig(25))
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "kind participates in the address")
}

func TestAddress_RejectsUnmarshalable(t *testing.T) {
	_, err := Address("widget", map[string]any{"rate": 1.5})
	assert.Error(t, err, "floats are not canonical-marshalable")
}

func TestGetOrCreate_ComputedAddressMatchesCreation(t *testing.T) {
	r := New[*widget]("widget", nil)
	config := widgetConfig(25)

	precomputed, err := r.Address(config)
	require.NoError(t, err)

	addr, w, created, err := r.GetOrCreate(context.Background(), config, buildWidget(config))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, precomputed, addr)
	assert.Equal(t, addr, w.address)
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	r := New[*widget]("widget", nil)
	ctx := context.Background()
	config := widgetConfig(25)

	addr1, w1, created, err := r.GetOrCreate(ctx, config, buildWidget(config))
	require.NoError(t, err)
	assert.True(t, created)

	addr2, w2, created, err := r.GetOrCreate(ctx, config, buildWidget(config))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, addr1, addr2)
	assert.Same(t, w1, w2, "second create returns the cached instance")

	got, ok := r.Get(addr1)
	require.True(t, ok)
	assert.Same(t, w1, got)
}

func TestGetOrCreate_DistinctConfigsDistinctInstances(t *testing.T) {
	r := New[*widget]("widget", nil)
	ctx := context.Background()

	addr1, _, _, err := r.GetOrCreate(ctx, widgetConfig(25), buildWidget(widgetConfig(25)))
	require.NoError(t, err)
	addr2, _, _, err := r.GetOrCreate(ctx, widgetConfig(50), buildWidget(widgetConfig(50)))
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr2)
}

func TestGetOrCreate_BuildFailure(t *testing.T) {
	r := New[*widget]("widget", nil)
	_, _, _, err := r.GetOrCreate(context.Background(), widgetConfig(25), func(string) (*widget, error) {
		return nil, fmt.Errorf("build failed")
	})
	require.Error(t, err)

	addr, err := r.Address(widgetConfig(25))
	require.NoError(t, err)
	_, ok := r.Get(addr)
	assert.False(t, ok, "failed build registers nothing")
}

func TestGetOrCreate_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "covenant.db")
	ctx := context.Background()
	config := widgetConfig(25)

	s1, err := store.Open(path)
	require.NoError(t, err)
	r1 := New[*widget]("widget", s1)

	addr1, _, created, err := r1.GetOrCreate(ctx, config, buildWidget(config))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, s1.Close())

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()
	r2 := New[*widget]("widget", s2)

	addr2, w, created, err := r2.GetOrCreate(ctx, config, buildWidget(config))
	require.NoError(t, err)
	assert.False(t, created, "registration row already exists")
	assert.Equal(t, addr1, addr2)
	assert.Equal(t, addr2, w.address)
}
