package token

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer is a model-specific exact counter.
type Tokenizer interface {
	Count(text string) (int, error)
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenizer) Count(text string) (int, error) {
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Tiktoken resolves the BPE encoding registered for model. Unknown models
// return an error so the estimator falls back to the heuristic.
func Tiktoken(model string) (Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("resolving encoding for %s: %w", model, err)
	}
	return &tiktokenizer{enc: enc}, nil
}

// TokenizerFunc adapts a plain function.
type TokenizerFunc func(text string) (int, error)

func (f TokenizerFunc) Count(text string) (int, error) { return f(text) }
