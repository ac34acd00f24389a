// internal/token/estimator.go
package token

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"unicode/utf8"

	"docdelta/internal/content"
	"docdelta/internal/logging"
	"docdelta/internal/source"
	"docdelta/internal/state"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// CharsPerToken is the heuristic ratio used when no model tokenizer applies.
const CharsPerToken = 4

const DefaultOverheadPercent = 3.0

// Count is a single estimate. Exact is false when the heuristic was used.
type Count struct {
	Tokens int  `json:"tokens"`
	Exact  bool `json:"exact"`
}

// Heuristic returns ceil(runes / CharsPerToken).
func Heuristic(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

type cacheKey struct {
	model string
	hash  string
}

// Estimator turns content into token counts. It is safe for concurrent use
// and deterministic for identical (content, model).
type Estimator struct {
	Model           string
	OverheadPercent float64

	resolve func(model string) (Tokenizer, error)
	cache   *lru.Cache[cacheKey, Count]
	logger  *logging.Logger

	mu         sync.Mutex
	tokenizers map[string]Tokenizer
}

type Option func(*Estimator)

// WithTokenizers enables the exact tier. resolve is asked once per model; a
// nil tokenizer or an error means the heuristic is used for that model.
func WithTokenizers(resolve func(model string) (Tokenizer, error)) Option {
	return func(e *Estimator) { e.resolve = resolve }
}

func WithCacheSize(size int) Option {
	return func(e *Estimator) {
		if size <= 0 {
			e.cache = nil
			return
		}
		e.cache, _ = lru.New[cacheKey, Count](size)
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Estimator) { e.logger = logger }
}

func NewEstimator(model string, overheadPercent float64, opts ...Option) *Estimator {
	e := &Estimator{
		Model:           model,
		OverheadPercent: overheadPercent,
		tokenizers:      make(map[string]Tokenizer),
		logger:          logging.Nop(),
	}
	WithCacheSize(4096)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Estimator) tokenizer(model string) Tokenizer {
	if e.resolve == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.tokenizers[model]; ok {
		return t
	}
	t, err := e.resolve(model)
	if err != nil {
		e.logger.Debug("no tokenizer for model, using heuristic",
			zap.String("model", model),
			zap.Error(err))
		t = nil
	}
	e.tokenizers[model] = t
	return t
}

// Estimate counts text under model; an empty model means e.Model.
func (e *Estimator) Estimate(text, model string) Count {
	return e.estimate(text, content.Hash([]byte(text)), model)
}

func (e *Estimator) estimate(text, hash, model string) Count {
	if model == "" {
		model = e.Model
	}
	key := cacheKey{model: model, hash: hash}
	if e.cache != nil {
		if c, ok := e.cache.Get(key); ok {
			return c
		}
	}

	c := Count{Tokens: Heuristic(text)}
	if t := e.tokenizer(model); t != nil {
		if n, err := t.Count(text); err == nil {
			c = Count{Tokens: n, Exact: true}
		} else {
			e.logger.Warn("tokenizer failed, using heuristic",
				zap.String("model", model),
				zap.Error(err))
		}
	}

	if e.cache != nil {
		e.cache.Add(key, c)
	}
	return c
}

// Overhead is floor(sum * percent / 100).
func Overhead(sum int, percent float64) int {
	if percent <= 0 {
		return 0
	}
	return int(math.Floor(float64(sum) * percent / 100))
}

// FileCount is the estimate for one file.
type FileCount struct {
	Path   string `json:"path"`
	Hash   string `json:"hash"`
	Size   int64  `json:"size_bytes"`
	Tokens int    `json:"tokens"`
	Exact  bool   `json:"exact"`
}

// Result is the aggregate over a snapshot. Skipped files carry a reason and
// contribute nothing to the totals.
type Result struct {
	Model           string        `json:"model"`
	OverheadPercent float64       `json:"overhead_percent"`
	Files           []FileCount   `json:"files"`
	SumFileTokens   int           `json:"sum_file_tokens"`
	OverheadTokens  int           `json:"overhead_tokens"`
	TotalTokens     int           `json:"total_tokens"`
	Exact           bool          `json:"exact"`
	Skipped         []source.Skip `json:"skipped,omitempty"`
}

// WithinLimit reports whether the total fits under maxContextTokens.
func (r *Result) WithinLimit(maxContextTokens int) bool {
	return r.TotalTokens <= maxContextTokens
}

// Lookup returns the count for path.
func (r *Result) Lookup(path string) (FileCount, bool) {
	i := sort.Search(len(r.Files), func(i int) bool { return r.Files[i].Path >= path })
	if i < len(r.Files) && r.Files[i].Path == path {
		return r.Files[i], true
	}
	return FileCount{}, false
}

// Approximation describes how the total was obtained, for display.
func (r *Result) Approximation() string {
	if r.Exact {
		return fmt.Sprintf("exact (%s tokenizer)", r.Model)
	}
	return fmt.Sprintf("approximate (ceil(chars/%d) heuristic)", CharsPerToken)
}

// EstimateAll estimates every file of snap. Files arrive sorted, so Files
// is sorted by path.
func (e *Estimator) EstimateAll(snap *source.Snapshot) *Result {
	res := &Result{
		Model:           e.Model,
		OverheadPercent: e.OverheadPercent,
		Files:           make([]FileCount, 0, len(snap.Files)),
		Exact:           true,
		Skipped:         append([]source.Skip(nil), snap.Skipped...),
	}

	for _, f := range snap.Files {
		c := e.estimate(string(f.Content), f.Hash, e.Model)
		res.Files = append(res.Files, FileCount{
			Path:   f.Path,
			Hash:   f.Hash,
			Size:   f.Size,
			Tokens: c.Tokens,
			Exact:  c.Exact,
		})
		res.SumFileTokens += c.Tokens
		if !c.Exact {
			res.Exact = false
		}
	}
	if len(res.Files) == 0 {
		res.Exact = false
	}

	res.OverheadTokens = Overhead(res.SumFileTokens, e.OverheadPercent)
	res.TotalTokens = res.SumFileTokens + res.OverheadTokens
	return res
}

// Records converts the result into the per-file records persisted in
// DocState and consumed by the change detector.
func (r *Result) Records() map[string]state.FileRecord {
	out := make(map[string]state.FileRecord, len(r.Files))
	for _, f := range r.Files {
		out[f.Path] = state.FileRecord{
			Path:   f.Path,
			Hash:   f.Hash,
			Tokens: f.Tokens,
			Size:   f.Size,
			Exact:  f.Exact,
		}
	}
	return out
}
