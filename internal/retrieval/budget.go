package retrieval

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// TokenBudget trims prompt context to a maximum number of tokens.
type TokenBudget struct {
	enc *tiktoken.Tiktoken
	max int
}

// NewTokenBudget loads the tokenizer. When it is unavailable the budget
// does nothing and context is passed through whole.
func NewTokenBudget(max int) *TokenBudget {
	if max <= 0 {
		return &TokenBudget{}
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		slog.Warn("tokenizer unavailable, context will not be trimmed", "encoding", encodingName, "error", err)
		return &TokenBudget{max: max}
	}
	return &TokenBudget{enc: enc, max: max}
}

// Trim returns s cut to at most the budget's token count.
func (b *TokenBudget) Trim(s string) string {
	if b == nil || b.enc == nil || b.max <= 0 {
		return s
	}
	tokens := b.enc.Encode(s, nil, nil)
	if len(tokens) <= b.max {
		return s
	}
	return b.enc.Decode(tokens[:b.max])
}

// Count returns the number of tokens in s, or -1 without a tokenizer.
func (b *TokenBudget) Count(s string) int {
	if b == nil || b.enc == nil {
		return -1
	}
	return len(b.enc.Encode(s, nil, nil))
}
