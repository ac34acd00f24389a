package chunk

import (
	"fmt"
	"net/http"

	"docdelta/internal/errors"
)

const DefaultMaxEscalations = 3

// ErrCannotFit ends the escalation ladder.
var ErrCannotFit = &errors.Error{
	Type:    errors.ErrorTypeCapacity,
	Message: "files cannot fit any chunk budget",
	Code:    http.StatusUnprocessableEntity,
}

// Escalation is the explicit retry state for a chunk that hit a context
// limit: each step moves one level up and halves the effective budget, the
// room left after prompt overhead and overlap.
type Escalation struct {
	Level   Level `json:"level"`
	Budget  int   `json:"budget"`
	Attempt int   `json:"attempt"`
	Max     int   `json:"max"`

	reserve int
}

// NewEscalation starts the ladder at the planner options a chunk was built
// with.
func NewEscalation(opts Options, max int) Escalation {
	if max < 0 {
		max = DefaultMaxEscalations
	}
	return Escalation{
		Level:   opts.MinLevel,
		Budget:  opts.Budget,
		Max:     max,
		reserve: opts.PromptOverhead + opts.Overlap,
	}
}

// Next returns the following rung or ErrCannotFit once the attempt count
// exceeds Max or the halved capacity reaches zero.
func (e Escalation) Next() (Escalation, error) {
	n := e
	n.Attempt++
	n.Budget = e.reserve + (e.Budget-e.reserve)/2
	if n.Level < LevelPack {
		n.Level++
	}

	if n.Attempt > e.Max {
		return e, fmt.Errorf("%w: %d escalations exhausted", ErrCannotFit, e.Max)
	}
	if n.Budget-n.reserve <= 0 {
		return e, fmt.Errorf("%w: budget %d leaves no capacity", ErrCannotFit, n.Budget)
	}
	return n, nil
}

// Apply returns base with this rung's level and budget.
func (e Escalation) Apply(base Options) Options {
	base.Budget = e.Budget
	base.MinLevel = e.Level
	return base
}
