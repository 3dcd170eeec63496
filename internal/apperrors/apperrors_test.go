// internal/apperrors/apperrors_test.go
package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuthorization, KindOf(Authorization("no")))
	assert.Equal(t, KindState, KindOf(State("bad state")))
	assert.Equal(t, KindParameter, KindOf(Parameter("bad input")))
	assert.Equal(t, KindConsistency, KindOf(Consistency("mismatch")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("grant")))
	assert.Equal(t, KindExternal, KindOf(External("transfer failed", errors.New("boom"))))

	// Untyped errors default to internal
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := State("SetRubrics: reviews non-zero")
	wrapped := fmt.Errorf("enable auto assignment: %w", inner)

	assert.Equal(t, KindState, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindState))
	assert.False(t, Is(wrapped, KindAuthorization))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindExternal, "transfer failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transfer failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNotFoundMessage(t *testing.T) {
	assert.Equal(t, "grant 42 not found", NotFound("grant 42").Error())
}
