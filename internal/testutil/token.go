package testutil

import (
	"fmt"
	"sync"
)

// FixedTokenGenerator returns predetermined action tokens for testing.
//
// This enables deterministic audit rows and golden trace comparison. Tests
// provide a known sequence of tokens and verify exact output.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedTokenGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokenGenerator creates a generator that returns tokens in order.
// Once the list is exhausted it keeps generating "token-N" with an
// incrementing counter, so tests that don't care about token values never
// run dry.
func NewFixedTokenGenerator(tokens ...string) *FixedTokenGenerator {
	return &FixedTokenGenerator{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx < len(g.tokens) {
		token := g.tokens[g.idx]
		g.idx++
		return token
	}
	g.idx++
	return fmt.Sprintf("token-%d", g.idx)
}
