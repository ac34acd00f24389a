// internal/generate/generator.go
package generate

import (
	"context"
	stderrors "errors"
	"net/http"

	"docdelta/internal/chunk"
	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/merge"
	"docdelta/internal/source"
	"docdelta/internal/state"
)

// ErrContextLimit is what a Generator wraps when the model rejected a chunk
// for size. The dispatcher answers it with the chunk planner's escalation
// ladder rather than a plain retry.
var ErrContextLimit = &errors.Error{
	Type:    errors.ErrorTypeCapacity,
	Message: "model context limit exceeded",
	Code:    http.StatusRequestEntityTooLarge,
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return stderrors.As(err, &p)
}

// Request is one generator call: a chunk plus the context a model needs.
type Request struct {
	RunID    string          `json:"run_id"`
	Mode     impact.Strategy `json:"mode"`
	Chunk    chunk.Chunk     `json:"chunk"`
	Files    []source.File   `json:"files"`
	Affected []int           `json:"affected,omitempty"`
	Orphaned []int           `json:"orphaned,omitempty"`

	// Previous and Current are read-only; generators must not mutate them.
	Previous *state.DocState             `json:"-"`
	Current  map[string]state.FileRecord `json:"-"`
}

// Generator turns a chunk into documentation content. Relationships to
// abstractions it creates use merge.PendingIndex refs.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*merge.Update, error)
}

type GeneratorFunc func(ctx context.Context, req *Request) (*merge.Update, error)

func (f GeneratorFunc) Generate(ctx context.Context, req *Request) (*merge.Update, error) {
	return f(ctx, req)
}
