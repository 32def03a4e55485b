package knowmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storageProviderContract exercises the behavior every provider must
// share: dense ordinals, read-after-write gets, ordered scans, and
// index save/load.
func storageProviderContract(t *testing.T, open func(t *testing.T) StorageProvider) {
	t.Run("message ordinals dense from zero", func(t *testing.T) {
		p := open(t)
		for i := 0; i < 3; i++ {
			ordinal, err := p.Messages().Append(Message{TextChunks: []string{"m"}})
			require.NoError(t, err)
			assert.Equal(t, MessageOrdinal(i), ordinal)
		}
		n, err := p.Messages().Count()
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("get after append", func(t *testing.T) {
		p := open(t)
		ordinal, err := p.Messages().Append(Message{ID: "a", TextChunks: []string{"hello"}})
		require.NoError(t, err)

		m, ok, err := p.Messages().Get(ordinal)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", m.ID)
		assert.Equal(t, []string{"hello"}, m.TextChunks)

		_, ok, err = p.Messages().Get(99)
		require.NoError(t, err)
		assert.False(t, ok, "out of range is absence, not an error")
	})

	t.Run("semantic ref append assigns type and ordinal", func(t *testing.T) {
		p := open(t)
		ordinal, err := p.SemanticRefs().Append(Topic{Text: "health"}, RangeOfMessage(0))
		require.NoError(t, err)
		assert.Equal(t, SemanticRefOrdinal(0), ordinal)

		ref, ok, err := p.SemanticRefs().Get(ordinal)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, KnowledgeTypeTopic, ref.KnowledgeType)
		assert.Equal(t, Topic{Text: "health"}, ref.Knowledge)
	})

	t.Run("scan in order and restartable", func(t *testing.T) {
		p := open(t)
		for _, text := range []string{"a", "b", "c"} {
			_, err := p.SemanticRefs().Append(Topic{Text: text}, RangeOfMessage(0))
			require.NoError(t, err)
		}
		var seen []string
		require.NoError(t, p.SemanticRefs().Scan(func(ref SemanticRef) bool {
			seen = append(seen, ref.Knowledge.(Topic).Text)
			return true
		}))
		assert.Equal(t, []string{"a", "b", "c"}, seen)

		// early stop, then a fresh full scan
		var first []string
		require.NoError(t, p.SemanticRefs().Scan(func(ref SemanticRef) bool {
			first = append(first, ref.Knowledge.(Topic).Text)
			return false
		}))
		assert.Equal(t, []string{"a"}, first)

		seen = nil
		require.NoError(t, p.SemanticRefs().Scan(func(ref SemanticRef) bool {
			seen = append(seen, ref.Knowledge.(Topic).Text)
			return true
		}))
		assert.Len(t, seen, 3)
	})

	t.Run("index round trip", func(t *testing.T) {
		p := open(t)
		got, err := p.LoadIndex()
		require.NoError(t, err)
		assert.Nil(t, got, "fresh provider has no index")

		x := NewTermToSemanticRefIndex()
		x.Add("book", 0, 10)
		require.NoError(t, p.SaveIndex(&IndexData{TermIndex: x.Serialize()}))

		got, err = p.LoadIndex()
		require.NoError(t, err)
		require.NotNil(t, got)
		back := DeserializeTermIndex(got.TermIndex)
		assert.True(t, back.Has("book"))
	})
}

func TestMemoryStorageProvider(t *testing.T) {
	storageProviderContract(t, func(t *testing.T) StorageProvider {
		return NewMemoryStorageProvider()
	})

	t.Run("closed provider rejects writes", func(t *testing.T) {
		p := NewMemoryStorageProvider()
		require.NoError(t, p.Close())

		_, err := p.Messages().Append(Message{TextChunks: []string{"x"}})
		assert.ErrorIs(t, err, ErrStorageClosed)
		_, err = p.SemanticRefs().Append(Topic{Text: "x"}, RangeOfMessage(0))
		assert.ErrorIs(t, err, ErrStorageClosed)
		assert.ErrorIs(t, p.SaveIndex(&IndexData{}), ErrStorageClosed)
	})
}
