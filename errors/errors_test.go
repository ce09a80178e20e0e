package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestUnknownEngineMatchesNotFound(t *testing.T) {
	err := NewUnknownEngineError("alpha")

	assert.True(t, Is(err, ErrUnknownEngine))
	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, IsNotFoundError(err))
	assert.False(t, Is(err, ErrUnknownAction))
	assert.Contains(t, err.Error(), `"alpha"`)
}

func TestUnknownActionEchoesName(t *testing.T) {
	err := NewUnknownActionError("launch_rockets")

	assert.True(t, Is(err, ErrUnknownAction))
	assert.True(t, Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "launch_rockets")
}

func TestNewValidationError(t *testing.T) {
	t.Run("names the field", func(t *testing.T) {
		err := NewValidationError("engine", "is required")
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "engine: is required")
	})

	t.Run("without field", func(t *testing.T) {
		err := NewValidationError("", "body must be a JSON object")
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "body must be a JSON object")
	})
}

func TestWrapStorage(t *testing.T) {
	assert.Nil(t, WrapStorage(nil, "insert"))

	cause := New("disk I/O error")
	err := WrapStorage(cause, "insert transaction")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.True(t, Is(err, cause), "cause must stay reachable")
	assert.Contains(t, err.Error(), "insert transaction")
}

func TestWrapEngineExecution(t *testing.T) {
	cause := New("provider returned 502")
	err := WrapEngineExecution(cause, "beta")

	assert.True(t, Is(err, ErrEngineExecution))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "beta")
	assert.False(t, IsStorageError(err))
}

func TestStackTraces(t *testing.T) {
	err := Wrap(New("base"), "context")
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}
