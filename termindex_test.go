package knowmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermToSemanticRefIndex(t *testing.T) {
	t.Run("add normalizes", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		key := x.Add("  Book  ", 0, 10)
		assert.Equal(t, "book", key)
		assert.True(t, x.Has("BOOK"))
		require.Len(t, x.LookupExact("book"), 1)
	})

	t.Run("empty term ignored", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		assert.Equal(t, "", x.Add("   ", 0, 10))
		assert.Equal(t, 0, x.Len())
	})

	t.Run("lookup miss is empty not error", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		assert.Empty(t, x.LookupExact("nothing"))
		assert.False(t, x.Has("nothing"))
	})

	t.Run("postings accumulate per term", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("topic", 1, 10)
		x.Add("topic", 4, 100)
		got := x.LookupExact("topic")
		require.Len(t, got, 2)
		assert.Equal(t, SemanticRefOrdinal(1), got[0].SemanticRefOrdinal)
		assert.Equal(t, SemanticRefOrdinal(4), got[1].SemanticRefOrdinal)
	})

	t.Run("terms sorted", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("zebra", 0, 1)
		x.Add("apple", 1, 1)
		x.Add("mango", 2, 1)
		assert.Equal(t, []string{"apple", "mango", "zebra"}, x.Terms())
	})
}

func TestTermIndexSerialization(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("book", 0, 100)
		x.Add("book", 2, 10)
		x.Add("movie", 1, 100)

		back := DeserializeTermIndex(x.Serialize())
		assert.Equal(t, x.Terms(), back.Terms())
		assert.Equal(t, x.LookupExact("book"), back.LookupExact("book"))
		assert.Equal(t, x.LookupExact("movie"), back.LookupExact("movie"))
	})

	t.Run("entries in lexical order", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("zebra", 0, 1)
		x.Add("apple", 1, 1)
		data := x.Serialize()
		require.Len(t, data.Entries, 2)
		assert.Equal(t, "apple", data.Entries[0].Term)
		assert.Equal(t, "zebra", data.Entries[1].Term)
	})

	t.Run("nil data yields empty index", func(t *testing.T) {
		x := DeserializeTermIndex(nil)
		assert.Equal(t, 0, x.Len())
	})
}

func TestTermEmbeddingIndex(t *testing.T) {
	ctx := context.Background()

	newIndex := func(t *testing.T) (*TermEmbeddingIndex, *stubProvider) {
		provider := newStubProvider(2)
		provider.set("book", 1, 0)
		provider.set("novel", 1, 0.1)
		provider.set("banana", 0, 1)
		e, err := NewEmbedder(provider, 64, 2)
		require.NoError(t, err)
		return NewTermEmbeddingIndex(e), provider
	}

	t.Run("add terms dedupes", func(t *testing.T) {
		x, provider := newIndex(t)
		require.NoError(t, x.AddTerms(ctx, []string{"book", "novel", "book"}))
		require.NoError(t, x.AddTerms(ctx, []string{"novel", "banana"}))
		assert.Equal(t, 3, x.Len())
		assert.Equal(t, 3, provider.callCount())
	})

	t.Run("lookup excludes query term", func(t *testing.T) {
		x, _ := newIndex(t)
		require.NoError(t, x.AddTerms(ctx, []string{"book", "novel", "banana"}))

		related, err := x.LookupTerm(ctx, "book", 10, 0.9)
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, "novel", related[0].Text)
		assert.Greater(t, related[0].Weight, 0.9)
	})

	t.Run("empty index answers empty", func(t *testing.T) {
		x, _ := newIndex(t)
		related, err := x.LookupTerm(ctx, "book", 10, 0.5)
		require.NoError(t, err)
		assert.Empty(t, related)
	})
}

func TestLookupFuzzy(t *testing.T) {
	ctx := context.Background()

	t.Run("exact hit scores unscaled", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("book", 0, 100)
		got, err := x.LookupFuzzy(ctx, nil, "book", nil, 0.85, 50, 0.95)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 100.0, got[0].Score)
	})

	t.Run("related term scales by weight", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("novel", 3, 100)
		got, err := x.LookupFuzzy(ctx, nil, "book", []Term{{Text: "novel", Weight: 0.9}}, 0.85, 50, 0.95)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 90.0, got[0].Score, 1e-9)
	})

	t.Run("related above threshold scores as exact", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("novel", 3, 100)
		got, err := x.LookupFuzzy(ctx, nil, "book", []Term{{Text: "novel", Weight: 0.97}}, 0.85, 50, 0.95)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 100.0, got[0].Score)
	})

	t.Run("multiple sources keep max score", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("book", 0, 100)
		x.Add("novel", 0, 100) // same ref evidenced by both terms
		got, err := x.LookupFuzzy(ctx, nil, "book", []Term{{Text: "novel", Weight: 0.9}}, 0.85, 50, 0.95)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 100.0, got[0].Score, "max wins, never sum")
	})

	t.Run("embedding neighbors admitted", func(t *testing.T) {
		provider := newStubProvider(2)
		provider.set("book", 1, 0)
		provider.set("novel", 1, 0.1)
		provider.set("banana", 0, 1)
		e, err := NewEmbedder(provider, 64, 2)
		require.NoError(t, err)
		embeddings := NewTermEmbeddingIndex(e)
		require.NoError(t, embeddings.AddTerms(ctx, []string{"book", "novel", "banana"}))

		x := NewTermToSemanticRefIndex()
		x.Add("novel", 7, 100)
		x.Add("banana", 9, 100)

		got, err := x.LookupFuzzy(ctx, embeddings, "book", nil, 0.85, 50, 0.999)
		require.NoError(t, err)
		require.Len(t, got, 1, "banana is below the similarity floor")
		assert.Equal(t, SemanticRefOrdinal(7), got[0].SemanticRefOrdinal)
		assert.Less(t, got[0].Score, 100.0, "scaled by similarity below is-exact threshold")
	})

	t.Run("no match is empty not error", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		got, err := x.LookupFuzzy(ctx, nil, "ghost", nil, 0.85, 50, 0.95)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ranked descending with ordinal ties", func(t *testing.T) {
		x := NewTermToSemanticRefIndex()
		x.Add("book", 5, 10)
		x.Add("book", 1, 100)
		x.Add("book", 3, 10)
		got, err := x.LookupFuzzy(ctx, nil, "book", nil, 0.85, 50, 0.95)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, SemanticRefOrdinal(1), got[0].SemanticRefOrdinal)
		assert.Equal(t, SemanticRefOrdinal(3), got[1].SemanticRefOrdinal)
		assert.Equal(t, SemanticRefOrdinal(5), got[2].SemanticRefOrdinal)
	})
}
