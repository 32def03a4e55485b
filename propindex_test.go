package knowmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyIndex(t *testing.T) {
	t.Run("add and lookup", func(t *testing.T) {
		p := NewPropertyIndex()
		p.Add(PropertyEntityName, "The Martian", 0, 100)
		p.Add(PropertyEntityName, "The Martian", 3, 100)
		p.Add(PropertyEntityType, "book", 0, 10)

		got := p.Lookup(PropertyEntityName, "the martian")
		require.Len(t, got, 2)
		assert.Equal(t, SemanticRefOrdinal(0), got[0].SemanticRefOrdinal)
		assert.Equal(t, SemanticRefOrdinal(3), got[1].SemanticRefOrdinal)
	})

	t.Run("same value under different properties stays separate", func(t *testing.T) {
		p := NewPropertyIndex()
		p.Add(PropertyEntityName, "health", 0, 100)
		p.Add(PropertyTopic, "health", 1, 10)

		assert.Len(t, p.Lookup(PropertyEntityName, "health"), 1)
		assert.Len(t, p.Lookup(PropertyTopic, "health"), 1)
	})

	t.Run("values per property", func(t *testing.T) {
		p := NewPropertyIndex()
		p.Add(PropertyEntityType, "book", 0, 10)
		p.Add(PropertyEntityType, "movie", 1, 10)
		p.Add(PropertyTag, "spoilers", 2, 10)

		assert.Equal(t, []string{"book", "movie"}, p.Values(PropertyEntityType))
	})

	t.Run("serialize round trip", func(t *testing.T) {
		p := NewPropertyIndex()
		p.Add(PropertyFacetName, "author", 0, 10)
		p.Add(PropertyFacetValue, "Andy Weir", 0, 10)

		back := DeserializePropertyIndex(p.Serialize())
		assert.Len(t, back.Lookup(PropertyFacetName, "author"), 1)
		assert.Len(t, back.Lookup(PropertyFacetValue, "andy weir"), 1)
	})
}
