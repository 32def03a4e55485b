package knowmem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrors(t *testing.T) {
	t.Run("DimensionError", func(t *testing.T) {
		err := &DimensionError{Want: 1536, Got: 768}
		assert.Contains(t, err.Error(), "1536")
		assert.Contains(t, err.Error(), "768")
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("QueryCompileError", func(t *testing.T) {
		err := &QueryCompileError{Path: "root.terms[2]", Message: "empty search term"}
		assert.Contains(t, err.Error(), "root.terms[2]")
		assert.Contains(t, err.Error(), "empty search term")
		assert.ErrorIs(t, err, ErrMalformedQuery)

		bare := &QueryCompileError{Message: "nil search term group"}
		assert.Contains(t, bare.Error(), "nil search term group")
	})

	t.Run("ProviderError unwraps", func(t *testing.T) {
		inner := errors.New("rate limited")
		err := &ProviderError{Provider: "openai", Op: "generate", Err: inner}
		assert.Contains(t, err.Error(), "openai")
		assert.Contains(t, err.Error(), "generate")
		assert.ErrorIs(t, err, inner)
	})

	t.Run("StorageError unwraps", func(t *testing.T) {
		inner := errors.New("disk full")
		err := &StorageError{Op: "write snapshot", Err: inner}
		assert.Contains(t, err.Error(), "write snapshot")
		assert.ErrorIs(t, err, inner)
	})

	t.Run("SerializationError", func(t *testing.T) {
		err := &SerializationError{What: "knowledge", Message: "unknown knowledge variant"}
		require.Error(t, err)
		assert.Contains(t, err.Error(), "knowledge")
		assert.Contains(t, err.Error(), "unknown knowledge variant")
	})
}
