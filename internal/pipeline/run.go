package pipeline

import (
	"context"
	"fmt"

	"docdelta/internal/generate"
	"docdelta/internal/impact"
	"docdelta/internal/logging"
	"docdelta/internal/merge"
	"docdelta/internal/state"

	"go.uber.org/zap"
)

type RunStatus string

const (
	RunOK        RunStatus = "ok"
	RunNoChanges RunStatus = "no_changes"
	RunDryRun    RunStatus = "dry_run"
	RunFailed    RunStatus = "error"
)

type RunRequest struct {
	Patch  []byte
	DryRun bool
}

type RunReport struct {
	RunID    string           `json:"run_id"`
	Status   RunStatus        `json:"status"`
	Plan     *PlanReport      `json:"plan"`
	Dispatch *generate.Report `json:"dispatch,omitempty"`
	Merge    *merge.Result    `json:"merge,omitempty"`
	Saved    bool             `json:"saved"`
}

// Run plans, generates, merges and persists. A failed run never touches the
// stored state.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	runID := p.newRunID()
	ctx = context.WithValue(ctx, logging.RunIDKey, runID)
	logger := p.Logger.WithRunID(ctx)

	plan, err := p.Plan(ctx, PlanRequest{Patch: req.Patch})
	if err != nil {
		p.Metrics.Run("none", string(RunFailed))
		return nil, err
	}
	rep := &RunReport{RunID: runID, Plan: plan}
	strategy := string(plan.Impact.Strategy)

	switch {
	case req.DryRun:
		rep.Status = RunDryRun
		p.Metrics.Run(strategy, string(RunDryRun))
		return rep, nil
	case plan.NothingToDo():
		rep.Status = RunNoChanges
		p.Metrics.Run("none", string(RunOK))
		logger.Info("no changes since baseline", zap.String("commit", plan.BaselineCommit))
		return rep, nil
	}

	fail := func(err error) (*RunReport, error) {
		rep.Status = RunFailed
		p.Metrics.Run(strategy, string(RunFailed))
		return rep, err
	}

	batch := &generate.Batch{
		RunID:    runID,
		Mode:     plan.Impact.Strategy,
		Affected: plan.Impact.Affected,
		Orphaned: plan.Impact.Orphaned,
		Snapshot: plan.snapshot,
		Records:  plan.records,
		Chunks:   plan.Chunks,
	}
	if plan.Impact.Strategy == impact.StrategySelective {
		batch.Previous = plan.previous
	}

	cfg := p.Config.Generate
	dispatcher := generate.NewDispatcher(p.Generator, generate.Options{
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Policy:            generate.FailurePolicy(cfg.FailurePolicy),
		MaxRetries:        cfg.MaxRetries,
		MaxEscalations:    p.Config.Chunk.MaxEscalations,
		Planner:           plan.Planner,
	}, p.Metrics, p.Logger)

	dispatch, err := dispatcher.Run(ctx, batch)
	rep.Dispatch = dispatch
	if err != nil {
		return fail(fmt.Errorf("generating: %w", err))
	}

	next, result, err := p.merge(plan, dispatch)
	if err != nil {
		return fail(err)
	}
	rep.Merge = result

	next.Commit = plan.Commit
	next.RunID = runID
	next.UpdatedAt = p.now().UTC()
	next.Files = p.fileRecords(plan, dispatch)

	if err := p.Store.Save(ctx, next); err != nil {
		return fail(fmt.Errorf("saving doc state: %w", err))
	}
	rep.Saved = true
	rep.Status = RunOK
	p.Metrics.Run(strategy, string(RunOK))

	logger.Info("run complete",
		zap.String("strategy", strategy),
		zap.Int("chunks", len(plan.Chunks)),
		zap.Int("failed", len(dispatch.Failed)),
		zap.Int("unresolved", len(dispatch.Unresolved)),
		zap.Int("abstractions", len(next.Live())))

	return rep, nil
}

func (p *Pipeline) merge(plan *PlanReport, dispatch *generate.Report) (*state.DocState, *merge.Result, error) {
	update := dispatch.Update()
	if plan.Impact.Strategy == impact.StrategyFull {
		next, err := merge.Rebuild(update)
		if err != nil {
			return nil, nil, fmt.Errorf("rebuilding doc state: %w", err)
		}
		res := &merge.Result{
			Replaced:           []int{},
			Dropped:            []int{},
			Appended:           append([]int{}, next.Live()...),
			RelationshipsAdded: len(next.Relationships),
		}
		// Abstractions of files whose chunk did not complete survive as stale.
		res.Stale = append([]int{}, merge.Carry(next, plan.previous, failedPaths(dispatch))...)
		return next, res, nil
	}

	next, res, err := merge.Merge(plan.previous, update, plan.Impact)
	if err != nil {
		return nil, nil, fmt.Errorf("merging doc state: %w", err)
	}
	return next, res, nil
}

// fileRecords is the file table to persist. Files of chunks that failed or
// were rejected keep their previous record, or none, so the next run sees
// them as changed again when they differ from it.
func (p *Pipeline) fileRecords(plan *PlanReport, dispatch *generate.Report) map[string]state.FileRecord {
	out := make(map[string]state.FileRecord, len(plan.records))
	for path, rec := range plan.records {
		out[path] = rec
	}

	var prev map[string]state.FileRecord
	if plan.previous.Compatible() {
		prev = plan.previous.Files
	}
	for _, path := range failedPaths(dispatch) {
		if old, ok := prev[path]; ok {
			out[path] = old
		} else {
			delete(out, path)
		}
	}
	// Tracked files the source skipped this time are still unknown.
	for _, path := range plan.Changes.Unknown {
		if old, ok := prev[path]; ok {
			out[path] = old
		}
	}
	return out
}

// failedPaths lists the files of chunks that failed or were unresolved.
func failedPaths(dispatch *generate.Report) []string {
	var out []string
	for _, res := range dispatch.Results {
		if !res.OK() {
			out = append(out, res.Chunk.Paths...)
		}
	}
	return out
}
