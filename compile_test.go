package knowmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Run("valid tree compiles", func(t *testing.T) {
		group := NewSearchTermGroup(BooleanOpAnd,
			NewSearchTerm("book"),
			NewSearchTermGroup(BooleanOpOr,
				NewSearchTerm("movie"),
				NewPropertySearchTerm(PropertyEntityType, "film"),
			),
		)
		plan, err := Compile(group, nil)
		require.NoError(t, err)
		assert.NotNil(t, plan)
	})

	t.Run("nil group", func(t *testing.T) {
		_, err := Compile(nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedQuery)
	})

	t.Run("empty group", func(t *testing.T) {
		_, err := Compile(&SearchTermGroup{BooleanOp: BooleanOpOr}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedQuery)
	})

	t.Run("unknown boolean op", func(t *testing.T) {
		_, err := Compile(&SearchTermGroup{
			BooleanOp: SearchTermBooleanOp("xor"),
			Terms:     []SearchTermGroupTerm{NewSearchTerm("x")},
		}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "xor")
	})

	t.Run("empty term text located by path", func(t *testing.T) {
		group := NewSearchTermGroup(BooleanOpOr,
			NewSearchTerm("ok"),
			NewSearchTerm("   "),
		)
		_, err := Compile(group, nil)
		require.Error(t, err)
		var ce *QueryCompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "root.terms[1]", ce.Path)
	})

	t.Run("nested error path", func(t *testing.T) {
		group := NewSearchTermGroup(BooleanOpAnd,
			NewSearchTerm("ok"),
			NewSearchTermGroup(BooleanOpOr,
				NewSearchTerm(""),
			),
		)
		_, err := Compile(group, nil)
		require.Error(t, err)
		var ce *QueryCompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "root.terms[1].terms[0]", ce.Path)
	})

	t.Run("empty property name or value", func(t *testing.T) {
		_, err := Compile(NewSearchTermGroup(BooleanOpOr, NewPropertySearchTerm("", "x")), nil)
		assert.ErrorIs(t, err, ErrMalformedQuery)

		_, err = Compile(NewSearchTermGroup(BooleanOpOr, NewPropertySearchTerm("name", "")), nil)
		assert.ErrorIs(t, err, ErrMalformedQuery)
	})

	t.Run("malformed when filter sub-query", func(t *testing.T) {
		when := &WhenFilter{
			ScopeDefiningTerms: &SearchTermGroup{BooleanOp: BooleanOpOr},
		}
		_, err := Compile(OrTerms("book"), when)
		require.Error(t, err)
		var ce *QueryCompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "when.scopeDefiningTerms", ce.Path)
	})
}
