package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("merging: %w", ConsistencyError(nil, "relationship %d->%d dangles", 1, 9))

	assert.True(t, stderrors.Is(err, Consistency))
	assert.False(t, stderrors.Is(err, Capacity))

	typ, ok := TypeOf(err)
	assert.True(t, ok)
	assert.Equal(t, ErrorTypeConsistency, typ)
	assert.Equal(t, http.StatusInternalServerError, HTTPCode(err))
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("context length exceeded")
	err := CapacityError(cause, "chunk %d", 3)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "chunk 3: context length exceeded", err.Error())
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPCode(err))
}

func TestOversizeDetails(t *testing.T) {
	err := OversizeError("big.go", 200, 100)

	assert.ErrorIs(t, err, Oversize)
	assert.Equal(t, map[string]any{"path": "big.go", "tokens": 200, "budget": 100}, err.Details)
}

func TestHTTPCodeDefault(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPCode(stderrors.New("boom")))
	assert.Equal(t, http.StatusNotFound, HTTPCode(NotFound("no state")))
}
