// internal/impact/impact.go
package impact

import (
	"context"
	"fmt"
	"sort"

	"docdelta/internal/change"
	"docdelta/internal/logging"
	"docdelta/internal/state"

	"go.uber.org/zap"
)

type Scope string

const (
	ScopeLow    Scope = "low"
	ScopeMedium Scope = "medium"
	ScopeHigh   Scope = "high"
)

type Strategy string

const (
	StrategySelective Strategy = "selective"
	StrategyFull      Strategy = "full"
)

// Thresholds bound the affected ratio: ratio <= Low is low, <= Medium is
// medium, anything above is high.
type Thresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.2, Medium: 0.5}
}

func (t Thresholds) Classify(ratio float64) Scope {
	switch {
	case ratio <= t.Low:
		return ScopeLow
	case ratio <= t.Medium:
		return ScopeMedium
	default:
		return ScopeHigh
	}
}

// Refiner may widen the structural candidate set, typically by asking a
// model which other abstractions a change touches. It can only add.
type Refiner interface {
	Refine(ctx context.Context, candidates []int, changes *change.ChangeSet, previous *state.DocState) ([]int, error)
}

// RefinerFunc adapts a plain function.
type RefinerFunc func(ctx context.Context, candidates []int, changes *change.ChangeSet, previous *state.DocState) ([]int, error)

func (f RefinerFunc) Refine(ctx context.Context, candidates []int, changes *change.ChangeSet, previous *state.DocState) ([]int, error) {
	return f(ctx, candidates, changes, previous)
}

// Report is the transient outcome of one analysis.
type Report struct {
	Baseline      change.Baseline      `json:"baseline"`
	Affected      []int                `json:"affected"`
	Direct        []int                `json:"direct"`
	Neighbors     []int                `json:"neighbors"`
	Refined       []int                `json:"refined,omitempty"`
	Orphaned      []int                `json:"orphaned,omitempty"`
	Overrides     map[int]Scope        `json:"scope_overrides,omitempty"`
	Relationships []state.Relationship `json:"relationships"`
	Live          int                  `json:"live"`
	Ratio         float64              `json:"ratio"`
	Scope         Scope                `json:"scope"`
	Strategy      Strategy             `json:"strategy"`
	Reason        string               `json:"reason"`
}

func (r *Report) IsAffected(i int) bool {
	return contains(r.Affected, i)
}

func (r *Report) IsOrphaned(i int) bool {
	return contains(r.Orphaned, i)
}

// ScopeOf returns the per-abstraction scope, falling back to the overall one.
func (r *Report) ScopeOf(i int) Scope {
	if s, ok := r.Overrides[i]; ok {
		return s
	}
	return r.Scope
}

func contains(sorted []int, i int) bool {
	j := sort.SearchInts(sorted, i)
	return j < len(sorted) && sorted[j] == i
}

type Analyzer struct {
	Thresholds Thresholds
	ForceFull  bool
	Refiner    Refiner

	// Associations maps a path to the abstractions built from it. When nil
	// it is derived from the previous state's file lists.
	Associations map[string][]int

	Logger *logging.Logger
}

func NewAnalyzer(thresholds Thresholds, forceFull bool, logger *logging.Logger) *Analyzer {
	return &Analyzer{
		Thresholds: thresholds,
		ForceFull:  forceFull,
		Logger:     logger.Or(),
	}
}

// Analyze maps changes onto abstractions and picks a strategy. Identical
// inputs give identical reports as long as the refiner is deterministic.
func (a *Analyzer) Analyze(ctx context.Context, cs *change.ChangeSet, previous *state.DocState) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := a.Logger.Or()

	r := &Report{
		Baseline:      cs.Baseline,
		Affected:      []int{},
		Direct:        []int{},
		Neighbors:     []int{},
		Relationships: []state.Relationship{},
	}

	if !cs.HasBaseline() {
		r.Scope = ScopeHigh
		r.Strategy = StrategyFull
		r.Reason = fmt.Sprintf("no usable baseline (%s)", cs.Baseline)
		return r, nil
	}

	live := previous.Live()
	r.Live = len(live)

	// Step 1: reverse map changed paths to the abstractions citing them.
	assoc := a.Associations
	if assoc == nil {
		assoc = previous.FileOwners()
	}
	direct := make(map[int]bool)
	for _, path := range cs.Changed() {
		for _, i := range assoc[path] {
			if previous.IsLive(i) {
				direct[i] = true
			}
		}
	}

	deleted := make(map[string]bool, len(cs.Deleted))
	for _, p := range cs.Deleted {
		deleted[p] = true
	}
	for i := range direct {
		if orphaned(previous.Abstractions[i], deleted) {
			r.Orphaned = append(r.Orphaned, i)
		}
	}
	sort.Ints(r.Orphaned)
	if len(r.Orphaned) > 0 {
		r.Overrides = make(map[int]Scope, len(r.Orphaned))
		for _, i := range r.Orphaned {
			r.Overrides[i] = ScopeHigh
		}
	}

	// Step 2: one hop over relationships in either direction.
	affected := make(map[int]bool, len(direct))
	for i := range direct {
		affected[i] = true
	}
	neighbors := make(map[int]bool)
	for _, rel := range previous.Relationships {
		switch {
		case direct[rel.From] && !direct[rel.To] && previous.IsLive(rel.To):
			neighbors[rel.To] = true
		case direct[rel.To] && !direct[rel.From] && previous.IsLive(rel.From):
			neighbors[rel.From] = true
		}
	}
	for i := range neighbors {
		affected[i] = true
	}

	if a.Refiner != nil && len(live) > 0 {
		candidates := sortedKeys(affected)
		extra, err := a.Refiner.Refine(ctx, candidates, cs, previous)
		if err != nil {
			logger.Warn("impact refiner failed, keeping structural result", zap.Error(err))
		}
		for _, i := range extra {
			if !previous.IsLive(i) {
				logger.Debug("dropping refiner suggestion", zap.Int("index", i))
				continue
			}
			if !affected[i] {
				affected[i] = true
				r.Refined = append(r.Refined, i)
			}
		}
		sort.Ints(r.Refined)
	}

	r.Direct = sortedKeys(direct)
	r.Neighbors = sortedKeys(neighbors)
	r.Affected = sortedKeys(affected)

	for _, rel := range previous.Relationships {
		if affected[rel.From] || affected[rel.To] {
			r.Relationships = append(r.Relationships, rel)
		}
	}

	// Step 3: scope.
	if len(live) > 0 {
		r.Ratio = float64(len(r.Affected)) / float64(len(live))
	}
	r.Scope = a.Thresholds.Classify(r.Ratio)

	// Step 4: strategy.
	r.Strategy, r.Reason = a.decide(r, cs)

	logger.Debug("impact analyzed",
		zap.Int("direct", len(r.Direct)),
		zap.Int("neighbors", len(r.Neighbors)),
		zap.Int("orphaned", len(r.Orphaned)),
		zap.String("scope", string(r.Scope)),
		zap.String("strategy", string(r.Strategy)))

	return r, nil
}

func (a *Analyzer) decide(r *Report, cs *change.ChangeSet) (Strategy, string) {
	switch {
	case a.ForceFull:
		return StrategyFull, "full regeneration forced"
	case r.Live == 0 && !cs.Empty():
		return StrategyFull, "baseline has no live abstractions"
	case r.Scope == ScopeHigh:
		return StrategyFull, fmt.Sprintf("%d of %d abstractions affected (%.0f%%)", len(r.Affected), r.Live, r.Ratio*100)
	case cs.Empty():
		return StrategySelective, "no changes"
	default:
		return StrategySelective, fmt.Sprintf("%d of %d abstractions affected, %d file(s) added", len(r.Affected), r.Live, len(cs.Added))
	}
}

// orphaned reports whether every source file of a was deleted.
func orphaned(a *state.Abstraction, deleted map[string]bool) bool {
	if a == nil || len(a.Files) == 0 {
		return false
	}
	for _, f := range a.Files {
		if !deleted[f] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// ScopedFiles returns the current files to chunk, sorted by path. Full
// regeneration takes everything; a selective update takes added and
// modified files plus the surviving sources of every affected abstraction.
func ScopedFiles(r *Report, cs *change.ChangeSet, previous *state.DocState, current map[string]state.FileRecord) []state.FileRecord {
	pick := make(map[string]bool)

	if r.Strategy == StrategyFull {
		for p := range current {
			pick[p] = true
		}
	} else {
		for _, p := range cs.Added {
			pick[p] = true
		}
		for _, p := range cs.Modified {
			pick[p] = true
		}
		for _, i := range r.Affected {
			a, ok := previous.Abstraction(i)
			if !ok {
				continue
			}
			for _, f := range a.Files {
				pick[f] = true
			}
		}
	}

	out := make([]state.FileRecord, 0, len(pick))
	for p := range pick {
		rec, ok := current[p]
		if !ok {
			continue
		}
		rec.Path = p
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
