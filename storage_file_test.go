package knowmem

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorageProvider(t *testing.T) {
	storageProviderContract(t, func(t *testing.T) StorageProvider {
		p, err := OpenFileStorage(filepath.Join(t.TempDir(), "memory.json"))
		require.NoError(t, err)
		return p
	})

	t.Run("flush and reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "memory.json")

		p, err := OpenFileStorage(path)
		require.NoError(t, err)
		_, err = p.Messages().Append(Message{ID: "a", TextChunks: []string{"hello"}})
		require.NoError(t, err)
		_, err = p.SemanticRefs().Append(Topic{Text: "health"}, RangeOfMessage(0))
		require.NoError(t, err)
		x := NewTermToSemanticRefIndex()
		x.Add("health", 0, 10)
		require.NoError(t, p.SaveIndex(&IndexData{TermIndex: x.Serialize()}))
		require.NoError(t, p.Flush())

		reopened, err := OpenFileStorage(path)
		require.NoError(t, err)
		n, err := reopened.Messages().Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ref, ok, err := reopened.SemanticRefs().Get(0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Topic{Text: "health"}, ref.Knowledge)

		idx, err := reopened.LoadIndex()
		require.NoError(t, err)
		require.NotNil(t, idx)
		assert.True(t, DeserializeTermIndex(idx.TermIndex).Has("health"))
	})

	t.Run("builder resumes from reopened store", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "memory.json")

		p, err := OpenFileStorage(path)
		require.NoError(t, err)
		builder, err := NewIndexBuilder("resume", p, nil, nil)
		require.NoError(t, err)
		_, err = builder.AddMessage(NewMessage("tea or coffee?", time.Time{}))
		require.NoError(t, err)
		_, err = builder.AddKnowledge(Topic{Text: "beverages"}, RangeOfMessage(0))
		require.NoError(t, err)
		_, err = builder.Build(ctx)
		require.NoError(t, err)
		require.NoError(t, p.Flush())

		reopened, err := OpenFileStorage(path)
		require.NoError(t, err)
		resumed, err := NewIndexBuilder("resume", reopened, nil, nil)
		require.NoError(t, err)
		_, err = resumed.AddKnowledge(Topic{Text: "snacks"}, RangeOfMessage(0))
		require.NoError(t, err)
		memory, err := resumed.Build(ctx)
		require.NoError(t, err)

		results, err := memory.Search(ctx, OrTerms("beverages", "snacks"), nil)
		require.NoError(t, err)
		assert.Len(t, results.ByType[KnowledgeTypeTopic].SemanticRefMatches, 2)
	})
}
