package token

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"docdelta/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristic(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"héllo", 2}, // runes, not bytes
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Heuristic(tt.text), "text %q", tt.text)
	}
}

func TestOverhead(t *testing.T) {
	assert.Equal(t, 0, Overhead(100, 0))
	assert.Equal(t, 3, Overhead(100, 3))
	assert.Equal(t, 3, Overhead(133, 3)) // floor(3.99)
	assert.Equal(t, 7500, Overhead(250000, 3))
}

func TestEstimateHeuristicIsMarkedApproximate(t *testing.T) {
	e := NewEstimator("gpt-5", DefaultOverheadPercent)
	c := e.Estimate("print('hi')", "")
	assert.Equal(t, Count{Tokens: 3, Exact: false}, c)
}

func TestEstimateUsesTokenizer(t *testing.T) {
	var resolved, counted int32
	resolve := func(model string) (Tokenizer, error) {
		atomic.AddInt32(&resolved, 1)
		if model != "words" {
			return nil, errors.New("unknown model")
		}
		return TokenizerFunc(func(text string) (int, error) {
			atomic.AddInt32(&counted, 1)
			return len(strings.Fields(text)), nil
		}), nil
	}
	e := NewEstimator("words", 0, WithTokenizers(resolve))

	assert.Equal(t, Count{Tokens: 3, Exact: true}, e.Estimate("one two three", ""))
	// Cached by (model, hash).
	assert.Equal(t, Count{Tokens: 3, Exact: true}, e.Estimate("one two three", ""))
	assert.Equal(t, int32(1), atomic.LoadInt32(&counted))

	// Unknown model falls back, resolver asked once per model.
	assert.Equal(t, Count{Tokens: 4, Exact: false}, e.Estimate("one two three", "other"))
	assert.Equal(t, Count{Tokens: 1, Exact: false}, e.Estimate("x", "other"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&resolved))
}

func TestEstimateTokenizerFailureFallsBack(t *testing.T) {
	resolve := func(string) (Tokenizer, error) {
		return TokenizerFunc(func(string) (int, error) { return 0, errors.New("boom") }), nil
	}
	e := NewEstimator("m", 0, WithTokenizers(resolve), WithCacheSize(0))
	assert.Equal(t, Count{Tokens: 2, Exact: false}, e.Estimate("abcdefg", ""))
}

func TestEstimateAll(t *testing.T) {
	snap := source.FromMap("c1", map[string][]byte{
		"a.py":      []byte(strings.Repeat("a", 400)),
		"pkg/b.py":  []byte(strings.Repeat("b", 33)),
		"empty.py":  []byte(""),
		"image.py":  {0x00, 0x01, 0x02},
		"notes.bin": []byte("ignored by include filter"),
	}, nil)

	e := NewEstimator("gpt-5", 3)
	res := e.EstimateAll(snap)

	require.Len(t, res.Files, 3)
	assert.Equal(t, []string{"a.py", "empty.py", "pkg/b.py"},
		[]string{res.Files[0].Path, res.Files[1].Path, res.Files[2].Path})

	assert.Equal(t, 100+0+9, res.SumFileTokens)
	assert.Equal(t, Overhead(109, 3), res.OverheadTokens)
	assert.Equal(t, res.SumFileTokens+res.OverheadTokens, res.TotalTokens)
	assert.False(t, res.Exact)
	assert.Contains(t, res.Approximation(), "approximate")

	// Binary content is reported, never counted as zero.
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "image.py", res.Skipped[0].Path)
	assert.Equal(t, source.SkipBinary, res.Skipped[0].Reason)
	_, ok := res.Lookup("image.py")
	assert.False(t, ok)

	// A genuinely empty file is a confirmed zero.
	empty, ok := res.Lookup("empty.py")
	require.True(t, ok)
	assert.Equal(t, 0, empty.Tokens)

	records := res.Records()
	assert.Equal(t, 100, records["a.py"].Tokens)
	assert.Equal(t, "a.py", records["a.py"].Path)
	assert.NotEmpty(t, records["a.py"].Hash)

	// Idempotent.
	assert.Equal(t, res, e.EstimateAll(snap))
}

func TestWithinLimit(t *testing.T) {
	r := &Result{TotalTokens: 200000}
	assert.True(t, r.WithinLimit(200000))
	assert.False(t, r.WithinLimit(199999))
}
