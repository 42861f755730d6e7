package prompt

import (
	"fmt"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter measures text in tokens.
type Counter interface {
	Count(s string) int
}

// Truncator is a Counter that can also cut text down to a token budget.
type Truncator interface {
	Counter
	Truncate(s string, maxTokens int) string
}

// Tokenizer counts tokens with tiktoken's cl100k_base encoding, a close
// enough approximation for every provider.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the cl100k_base encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("prompt: get encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Count(s string) int {
	if s == "" {
		return 0
	}
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate cuts s down to at most maxTokens tokens.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	if maxTokens <= 0 {
		return ""
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// Estimator approximates one token per four characters. It needs no
// encoding data.
type Estimator struct{}

func (Estimator) Count(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func (Estimator) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * 4
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// DefaultCounter returns a Tokenizer, or an Estimator when the encoding
// cannot be loaded (for example, offline with no cached data).
func DefaultCounter() Counter {
	if t, err := NewTokenizer(); err == nil {
		return t
	}
	return Estimator{}
}
