// Package collect implements the message collection pipeline: token
// counting, noise filtering, sentiment labelling, and the gate that feeds
// accepted messages into the usage ledger.
package collect

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter converts text to a token count. Implementations must be
// deterministic and safe for concurrent use; the counts feed quota-like
// accounting, so the same text must always yield the same number.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the model-specific BPE encoding. The
// encoding choice is part of the persisted schema's semantics: counts for
// different encodings are not comparable.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter using the encoding for the given
// model name (e.g. "gpt-4o-mini").
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("collect: load encoding for %q: %w", model, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the token count of text. Counting is best-effort and must
// never block message flow: on any internal failure it returns 0.
func (c *TiktokenCounter) Count(text string) int {
	if c == nil || c.enc == nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates token counts at ~4 characters per token, the
// common English heuristic. Used when the BPE dictionary cannot be loaded
// (e.g. no network at startup) and in tests that need fixed arithmetic.
type EstimateCounter struct{}

// Count returns len(text)/4, with a floor of 1 for non-empty text.
func (EstimateCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
