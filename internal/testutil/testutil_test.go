package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	clock := NewManualClock(1000)
	assert.Equal(t, int64(1000), clock.Now())

	clock.Advance(50)
	assert.Equal(t, int64(1050), clock.Now())

	clock.Set(2000)
	assert.Equal(t, int64(2000), clock.Now())

	assert.Equal(t, clock.Now(), clock.Now(), "time only moves when moved")
}

func TestFixedTokenGenerator(t *testing.T) {
	gen := NewFixedTokenGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Equal(t, "token-3", gen.Generate(), "falls back to counter tokens")
	assert.Equal(t, "token-4", gen.Generate())
}
