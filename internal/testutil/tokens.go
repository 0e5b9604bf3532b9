package testutil

import "sync"

// SequenceTokens returns predetermined round tokens for testing, then
// "token-exhausted" once they run out.
//
// Thread-safety: SequenceTokens is safe for concurrent use via internal mutex.
type SequenceTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewSequenceTokens creates a generator that returns tokens in order.
func NewSequenceTokens(tokens ...string) *SequenceTokens {
	return &SequenceTokens{tokens: tokens}
}

// Generate returns the next token.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		return "token-exhausted"
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
