// internal/pipeline/pipeline.go
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docdelta/internal/chunk"
	"docdelta/internal/config"
	"docdelta/internal/generate"
	"docdelta/internal/impact"
	"docdelta/internal/logging"
	"docdelta/internal/metrics"
	"docdelta/internal/source"
	"docdelta/internal/state"
	"docdelta/internal/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkDir is the per-repository directory holding state and the badger db.
const WorkDir = ".docdelta"

// Pipeline wires the planning core together for one repository:
// Estimate > Diff > Analyze > Plan > Generate > Merge > Persist.
type Pipeline struct {
	Root      string
	Config    *config.Config
	Policy    *source.Policy
	Source    source.Source
	Estimator *token.Estimator
	Store     state.Store
	Analyzer  *impact.Analyzer
	Generator generate.Generator
	Metrics   *metrics.Metrics
	Logger    *logging.Logger

	now      func() time.Time
	newRunID func() string
}

type Option func(*Pipeline)

// WithSource replaces the local directory walk.
func WithSource(s source.Source) Option {
	return func(p *Pipeline) { p.Source = s }
}

// WithStore replaces the configured state backend.
func WithStore(s state.Store) Option {
	return func(p *Pipeline) { p.Store = s }
}

// WithGenerator replaces the offline outline generator.
func WithGenerator(g generate.Generator) Option {
	return func(p *Pipeline) { p.Generator = g }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.Metrics = m }
}

// WithRefiner lets a model widen the impact candidate set.
func WithRefiner(r impact.Refiner) Option {
	return func(p *Pipeline) { p.Analyzer.Refiner = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) { p.newRunID = next }
}

// FindRoot walks up from startDir to the nearest directory holding a work
// directory or a .git directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		for _, marker := range []string{WorkDir, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no %s or .git directory above %s", WorkDir, startDir)
}

// Initialize creates the work directory under root.
func Initialize(root string) error {
	dir := filepath.Join(root, WorkDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", WorkDir, err)
	}
	return nil
}

func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logger.Or()

	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", cfg.Root, err)
	}

	policy, err := source.NewPolicy(cfg.Source.Include, cfg.Source.Exclude, cfg.Source.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("building file policy: %w", err)
	}

	estOpts := []token.Option{
		token.WithCacheSize(cfg.Tokens.CacheSize),
		token.WithLogger(logger),
	}
	if cfg.Tokens.Exact {
		estOpts = append(estOpts, token.WithTokenizers(token.Tiktoken))
	}

	p := &Pipeline{
		Root:      absRoot,
		Config:    cfg,
		Policy:    policy,
		Estimator: token.NewEstimator(cfg.Model, cfg.Tokens.OverheadPercent, estOpts...),
		Analyzer: impact.NewAnalyzer(impact.Thresholds{
			Low:    cfg.Impact.LowThreshold,
			Medium: cfg.Impact.MediumThreshold,
		}, cfg.Impact.ForceFull, logger),
		Generator: &generate.Outline{GroupDepth: cfg.Chunk.GroupDepth},
		Logger:    logger,
		now:       time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.Source == nil {
		local, err := source.NewLocal(absRoot, policy, logger)
		if err != nil {
			return nil, err
		}
		p.Source = local
	}

	if p.Store == nil {
		path := cfg.State.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(absRoot, path)
		}
		if cfg.State.Backend == "badger" {
			if err := Initialize(absRoot); err != nil {
				return nil, err
			}
			// badger wants a directory; a file-style default maps to db/ beside it.
			if filepath.Ext(path) != "" {
				path = filepath.Join(filepath.Dir(path), "db")
			}
		}
		store, err := state.Open(cfg.State.Backend, path)
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
		p.Store = store
	}

	logger.Debug("pipeline ready",
		zap.String("root", absRoot),
		zap.String("model", cfg.Model),
		zap.String("state_backend", cfg.State.Backend))

	return p, nil
}

// PlannerOptions derives chunk planner options from the configuration.
func (p *Pipeline) PlannerOptions() (chunk.Options, error) {
	level, err := chunk.StrategyLevel(p.Config.Chunk.Strategy)
	if err != nil {
		return chunk.Options{}, err
	}
	return chunk.Options{
		Budget:         p.Config.Chunk.Budget,
		PromptOverhead: p.Config.Chunk.PromptOverhead,
		Overlap:        p.Config.Chunk.Overlap,
		MinLevel:       level,
		GroupDepth:     p.Config.Chunk.GroupDepth,
	}, nil
}

// Close releases the state store.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	if err := p.Store.Close(); err != nil {
		return fmt.Errorf("closing state store: %w", err)
	}
	return nil
}
