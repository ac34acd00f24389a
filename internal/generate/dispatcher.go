// internal/generate/dispatcher.go
package generate

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"docdelta/internal/chunk"
	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/logging"
	"docdelta/internal/merge"
	"docdelta/internal/metrics"
	"docdelta/internal/source"
	"docdelta/internal/state"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type FailurePolicy string

const (
	// PolicyAbort cancels the batch on the first terminal chunk failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicyContinue records the failure and leaves that chunk's
	// abstractions stale.
	PolicyContinue FailurePolicy = "continue"
)

type Options struct {
	Concurrency       int
	RequestsPerSecond float64
	Policy            FailurePolicy
	MaxRetries        int
	MaxEscalations    int
	Planner           chunk.Options
}

// Batch is everything one dispatch needs.
type Batch struct {
	RunID    string
	Mode     impact.Strategy
	Affected []int
	Orphaned []int
	Previous *state.DocState
	Snapshot *source.Snapshot
	// Records carries token estimates for re-planning after a context limit.
	Records map[string]state.FileRecord
	Chunks  []chunk.Chunk
}

// ChunkResult is the outcome of one planned chunk.
type ChunkResult struct {
	Chunk       chunk.Chunk   `json:"chunk"`
	Update      *merge.Update `json:"-"`
	Calls       int           `json:"calls"`
	Escalations int           `json:"escalations"`
	Unresolved  bool          `json:"unresolved,omitempty"`
	Err         error         `json:"-"`
	Error       string        `json:"error,omitempty"`
}

func (r *ChunkResult) OK() bool {
	return r.Err == nil
}

type Report struct {
	Results    []ChunkResult `json:"results"`
	Failed     []string      `json:"failed,omitempty"`
	Unresolved []string      `json:"unresolved,omitempty"`
}

// Update combines the successful chunk outputs in chunk order.
func (r *Report) Update() *merge.Update {
	var outs []*merge.Update
	for _, res := range r.Results {
		if res.OK() {
			outs = append(outs, res.Update)
		}
	}
	return merge.Combine(outs...)
}

type Dispatcher struct {
	gen     Generator
	opts    Options
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func NewDispatcher(gen Generator, opts Options, m *metrics.Metrics, logger *logging.Logger) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	d := &Dispatcher{
		gen:     gen,
		opts:    opts,
		metrics: m,
		logger:  logger.Or(),
	}
	if opts.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return d
}

// Run dispatches every chunk with bounded parallelism. Under PolicyAbort the
// first terminal failure cancels the rest and is returned; under
// PolicyContinue failures are only recorded in the report. Oversize chunks
// are never sent and never fail the run.
func (d *Dispatcher) Run(ctx context.Context, b *Batch) (*Report, error) {
	results := make([]ChunkResult, len(b.Chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for i, c := range b.Chunks {
		i, c := i, c
		g.Go(func() error {
			results[i] = d.runChunk(gctx, b, c)
			res := &results[i]
			if res.Err != nil && !res.Unresolved && d.opts.Policy == PolicyAbort {
				return fmt.Errorf("chunk %s: %w", c.ID, res.Err)
			}
			return nil
		})
	}
	err := g.Wait()

	report := &Report{Results: results}
	for i := range results {
		res := &results[i]
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		switch {
		case res.Unresolved:
			report.Unresolved = append(report.Unresolved, res.Chunk.ID)
		case res.Err != nil:
			report.Failed = append(report.Failed, res.Chunk.ID)
		}
	}
	return report, err
}

func (d *Dispatcher) runChunk(ctx context.Context, b *Batch, c chunk.Chunk) ChunkResult {
	res := ChunkResult{Chunk: c}
	logger := d.logger.With(zap.String("run_id", b.RunID), zap.String("chunk", c.ID))

	if c.Oversize {
		res.Unresolved = true
		res.Err = errors.OversizeError(c.Paths[0], c.Tokens, d.opts.Planner.Capacity())
		d.metrics.Chunk("oversize")
		logger.Warn("rejecting oversize chunk",
			zap.String("path", c.Paths[0]),
			zap.Int("tokens", c.Tokens))
		return res
	}

	planner := d.opts.Planner
	planner.MinLevel = c.Level
	esc := chunk.NewEscalation(planner, d.opts.MaxEscalations)

	res.Update, res.Err = d.generate(ctx, b, c, esc, &res, logger)
	if res.Err != nil {
		d.metrics.Chunk("failed")
		logger.Error("chunk failed", zap.Error(res.Err))
	} else {
		d.metrics.Chunk("ok")
	}
	return res
}

// generate calls the generator for c and, on a context limit, re-plans c's
// files one rung up the ladder and generates the pieces in order.
func (d *Dispatcher) generate(ctx context.Context, b *Batch, c chunk.Chunk, esc chunk.Escalation, res *ChunkResult, logger *zap.Logger) (*merge.Update, error) {
	out, err := d.call(ctx, b, c, res)
	if err == nil {
		return out, nil
	}
	if !stderrors.Is(err, ErrContextLimit) {
		return nil, err
	}

	next, nerr := esc.Next()
	if nerr != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.ID, nerr)
	}
	res.Escalations++
	d.metrics.Escalation()

	files := make([]state.FileRecord, 0, len(c.Paths))
	for _, p := range c.Paths {
		rec, ok := b.Records[p]
		if !ok {
			return nil, errors.ConsistencyError([]string{p}, "no estimate for %s", p)
		}
		rec.Path = p
		files = append(files, rec)
	}
	pieces, perr := chunk.Plan(files, next.Apply(d.opts.Planner))
	if perr != nil {
		return nil, perr
	}

	logger.Info("context limit hit, re-planning chunk",
		zap.String("level", next.Level.String()),
		zap.Int("budget", next.Budget),
		zap.Int("pieces", len(pieces)))

	outs := make([]*merge.Update, 0, len(pieces))
	for n, p := range pieces {
		p.ID = fmt.Sprintf("%s.%d", c.ID, n+1)
		if p.Oversize {
			return nil, fmt.Errorf("%w: %s needs %d tokens, budget now %d", chunk.ErrCannotFit, p.Paths[0], p.Tokens, next.Budget)
		}
		sub, err := d.generate(ctx, b, p, next, res, logger)
		if err != nil {
			return nil, err
		}
		outs = append(outs, sub)
	}
	return merge.Combine(outs...), nil
}

// call runs one generator request with transient-error retries.
func (d *Dispatcher) call(ctx context.Context, b *Batch, c chunk.Chunk, res *ChunkResult) (*merge.Update, error) {
	req := &Request{
		RunID:    b.RunID,
		Mode:     b.Mode,
		Chunk:    c,
		Files:    make([]source.File, 0, len(c.Paths)),
		Affected: b.Affected,
		Orphaned: b.Orphaned,
		Previous: b.Previous,
		Current:  b.Records,
	}
	for _, p := range c.Paths {
		f, ok := b.Snapshot.Lookup(p)
		if !ok {
			return nil, errors.ConsistencyError([]string{p}, "chunk %s names %s which is not in the snapshot", c.ID, p)
		}
		req.Files = append(req.Files, f)
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if attempt > 0 {
			d.metrics.Retry()
		}

		start := time.Now()
		res.Calls++
		out, err := d.gen.Generate(ctx, req)
		d.metrics.Latency(time.Since(start))

		if err == nil {
			if out == nil {
				out = &merge.Update{}
			}
			return out, nil
		}
		lastErr = err
		if stderrors.Is(err, ErrContextLimit) || IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		d.logger.Debug("generator call failed, retrying",
			zap.String("chunk", c.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("after %d attempt(s): %w", d.opts.MaxRetries+1, lastErr)
}
