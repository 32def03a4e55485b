// Embedding collaborator boundary.
//
// The engine calls an external provider for raw vectors, normalizes
// everything on receipt, memoizes provider calls through a bounded LRU
// and runs batch generation with a caller-set concurrency limit.

package knowmem

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// EmbeddingProvider generates vector embeddings for text. The engine
// never trusts returned vectors to arrive normalized.
type EmbeddingProvider interface {
	// Generate embeds a single text.
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch embeds multiple texts, one vector per input.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name identifies the provider in errors and logs.
	Name() string
}

// Embedder wraps a provider with normalization, a bounded LRU memo
// cache and bounded-concurrency batching. Safe for concurrent use; a
// miss being fetched blocks other callers for the same text so the
// provider sees one call per distinct input.
type Embedder struct {
	provider    EmbeddingProvider
	cache       *lru.Cache[string, []float32]
	concurrency int

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewEmbedder wraps provider. cacheSize and concurrency fall back to
// DefaultSettings values when non-positive.
func NewEmbedder(provider EmbeddingProvider, cacheSize, concurrency int) (*Embedder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSettings().EmbeddingCacheSize
	}
	if concurrency <= 0 {
		concurrency = DefaultSettings().EmbeddingConcurrency
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Embedder{
		provider:    provider,
		cache:       cache,
		concurrency: concurrency,
		inflight:    make(map[string]chan struct{}),
	}, nil
}

// Dimensions returns the provider's embedding dimensionality.
func (e *Embedder) Dimensions() int { return e.provider.Dimensions() }

// Embed returns the normalized embedding for text, memoized.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	for {
		if v, ok := e.cache.Get(text); ok {
			return v, nil
		}

		e.mu.Lock()
		if wait, busy := e.inflight[text]; busy {
			e.mu.Unlock()
			select {
			case <-wait:
				continue // re-check the cache
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		e.inflight[text] = done
		e.mu.Unlock()

		v, err := e.provider.Generate(ctx, text)

		e.mu.Lock()
		delete(e.inflight, text)
		close(done)
		e.mu.Unlock()

		if err != nil {
			return nil, &ProviderError{Provider: e.provider.Name(), Op: "generate", Err: err}
		}
		normalizeInPlace(v)
		e.cache.Add(text, v)
		return v, nil
	}
}

// embedBatchChunk caps the number of texts per GenerateBatch call.
const embedBatchChunk = 16

// EmbedBatch embeds texts, collecting results in input order. Cache
// hits never reach the provider; the distinct misses go to the
// provider's batch endpoint in chunks, with at most the configured
// number of chunks in flight. On cancellation, in-flight calls finish
// but no new ones start, and the context error is returned.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	// Positions each distinct uncached text must fill.
	positions := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			results[i] = v
			continue
		}
		if _, seen := positions[text]; !seen {
			missing = append(missing, text)
		}
		positions[text] = append(positions[text], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(missing); start += embedBatchChunk {
		if gctx.Err() != nil {
			break
		}
		chunk := missing[start:min(start+embedBatchChunk, len(missing))]
		g.Go(func() error {
			vectors, err := e.provider.GenerateBatch(gctx, chunk)
			if err != nil {
				return &ProviderError{Provider: e.provider.Name(), Op: "generate batch", Err: err}
			}
			if len(vectors) != len(chunk) {
				return &ProviderError{
					Provider: e.provider.Name(),
					Op:       "generate batch",
					Err:      fmt.Errorf("got %d vectors for %d texts", len(vectors), len(chunk)),
				}
			}
			for i, v := range vectors {
				normalizeInPlace(v)
				e.cache.Add(chunk[i], v)
				for _, pos := range positions[chunk[i]] {
					results[pos] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// CacheLen returns the number of memoized embeddings.
func (e *Embedder) CacheLen() int { return e.cache.Len() }
