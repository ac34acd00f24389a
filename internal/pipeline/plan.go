package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"

	"docdelta/internal/change"
	"docdelta/internal/chunk"
	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/source"
	"docdelta/internal/state"
	"docdelta/internal/token"

	"go.uber.org/zap"
)

// Estimate is the standalone token count over the current snapshot.
type Estimate struct {
	Commit           string        `json:"commit"`
	Result           *token.Result `json:"result"`
	MaxContextTokens int           `json:"max_context_tokens"`
	WithinLimit      bool          `json:"within_limit"`
	Approximation    string        `json:"approximation"`
}

func (p *Pipeline) Estimate(ctx context.Context) (*Estimate, error) {
	snap, err := p.Source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	res := p.Estimator.EstimateAll(snap)
	limit := p.Config.Tokens.MaxContextTokens
	return &Estimate{
		Commit:           snap.Commit,
		Result:           res,
		MaxContextTokens: limit,
		WithinLimit:      res.WithinLimit(limit),
		Approximation:    res.Approximation(),
	}, nil
}

// Status compares the current snapshot with the stored state.
type Status struct {
	Commit         string            `json:"commit"`
	BaselineCommit string            `json:"baseline_commit,omitempty"`
	Changes        *change.ChangeSet `json:"changes"`
	TotalTokens    int               `json:"total_tokens"`
}

func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	in, err := p.load(ctx, nil)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Commit:      in.snapshot.Commit,
		Changes:     in.changes,
		TotalTokens: in.estimate.TotalTokens,
	}
	if in.previous != nil {
		st.BaselineCommit = in.previous.Commit
	}
	return st, nil
}

// PlanRequest selects the change source. A non-nil Patch switches to
// pull-request mode: the change set comes from the diff instead of a hash
// comparison against the stored state.
type PlanRequest struct {
	Patch []byte
}

// PlanReport is the dry-run outcome: what would be regenerated and how.
type PlanReport struct {
	Commit           string            `json:"commit"`
	BaselineCommit   string            `json:"baseline_commit,omitempty"`
	Estimate         *token.Result     `json:"estimate"`
	MaxContextTokens int               `json:"max_context_tokens"`
	WithinLimit      bool              `json:"within_limit"`
	Changes          *change.ChangeSet `json:"changes"`
	Impact           *impact.Report    `json:"impact"`
	Scoped           []string          `json:"scoped_files"`
	ScopedTokens     int               `json:"scoped_tokens"`
	Planner          chunk.Options     `json:"planner"`
	Chunks           []chunk.Chunk     `json:"chunks"`
	Summary          chunk.Summary     `json:"summary"`

	snapshot *source.Snapshot
	previous *state.DocState
	records  map[string]state.FileRecord
}

// NothingToDo reports a selective plan with no changes.
func (r *PlanReport) NothingToDo() bool {
	return r.Impact.Strategy == impact.StrategySelective && r.Changes.Empty()
}

type inputs struct {
	snapshot *source.Snapshot
	estimate *token.Result
	records  map[string]state.FileRecord
	previous *state.DocState
	changes  *change.ChangeSet
}

// load reads the snapshot and the stored state and diffs them.
func (p *Pipeline) load(ctx context.Context, patch []byte) (*inputs, error) {
	snap, err := p.Source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	est := p.Estimator.EstimateAll(snap)
	records := est.Records()

	previous, err := p.Store.Load(ctx)
	switch {
	case stderrors.Is(err, errors.Baseline):
		// An unreadable state is no baseline: regenerate fully.
		p.Logger.Warn("ignoring unreadable doc state", zap.Error(err))
		previous = nil
	case err != nil:
		return nil, fmt.Errorf("loading doc state: %w", err)
	}

	var cs *change.ChangeSet
	if patch != nil {
		touched, err := source.ParsePatch(patch, p.Policy)
		if err != nil {
			return nil, err
		}
		cs = change.FromPatch(previous, touched)
	} else {
		cs = change.Detect(previous, records, snap.SkippedPaths()...)
	}

	return &inputs{
		snapshot: snap,
		estimate: est,
		records:  records,
		previous: previous,
		changes:  cs,
	}, nil
}

// Plan runs everything up to chunk planning without calling a generator.
func (p *Pipeline) Plan(ctx context.Context, req PlanRequest) (*PlanReport, error) {
	in, err := p.load(ctx, req.Patch)
	if err != nil {
		return nil, err
	}

	report, err := p.Analyzer.Analyze(ctx, in.changes, in.previous)
	if err != nil {
		return nil, fmt.Errorf("analyzing impact: %w", err)
	}

	opts, err := p.PlannerOptions()
	if err != nil {
		return nil, err
	}

	files := impact.ScopedFiles(report, in.changes, in.previous, in.records)
	chunks, err := chunk.Plan(files, opts)
	if err != nil {
		return nil, fmt.Errorf("planning chunks: %w", err)
	}

	plan := &PlanReport{
		Commit:           in.snapshot.Commit,
		Estimate:         in.estimate,
		MaxContextTokens: p.Config.Tokens.MaxContextTokens,
		WithinLimit:      in.estimate.WithinLimit(p.Config.Tokens.MaxContextTokens),
		Changes:          in.changes,
		Impact:           report,
		Scoped:           make([]string, 0, len(files)),
		Planner:          opts,
		Chunks:           chunks,
		Summary:          chunk.Summarize(chunks),
		snapshot:         in.snapshot,
		previous:         in.previous,
		records:          in.records,
	}
	if in.previous != nil {
		plan.BaselineCommit = in.previous.Commit
	}
	for _, f := range files {
		plan.Scoped = append(plan.Scoped, f.Path)
		plan.ScopedTokens += f.Tokens
	}
	for _, c := range chunks {
		p.Metrics.PlannedChunk(c.Tokens)
	}

	p.Logger.Info("plan ready",
		zap.String("commit", plan.Commit),
		zap.String("strategy", string(report.Strategy)),
		zap.String("reason", report.Reason),
		zap.Int("scoped_files", len(files)),
		zap.Int("chunks", len(chunks)),
		zap.Int("oversize", plan.Summary.Oversize))

	return plan, nil
}
