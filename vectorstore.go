package knowmem

import "math"

// ============================================================================
// Embedding Store - unit vectors, dot-product similarity
// ============================================================================

// Embedding is a vector of float32 components.
type Embedding = []float32

// EmbeddingStore holds unit-length vectors keyed by dense ordinal.
// Because every stored vector is normalized on insert by the embedding
// layer, cosine similarity reduces to a dot product and the store
// never re-normalizes on read. Read-mostly after build; reads are safe
// concurrently.
type EmbeddingStore struct {
	dim  int
	data []float32 // row-major, dim components per ordinal
}

// NewEmbeddingStore creates a store for vectors of the given
// dimensionality.
func NewEmbeddingStore(dim int) *EmbeddingStore {
	return &EmbeddingStore{dim: dim}
}

// Dimensions returns the vector dimensionality.
func (s *EmbeddingStore) Dimensions() int { return s.dim }

// Len returns the number of stored vectors.
func (s *EmbeddingStore) Len() int {
	if s.dim == 0 {
		return 0
	}
	return len(s.data) / s.dim
}

// Add appends a pre-normalized vector and returns its ordinal.
// A dimensionality mismatch is a contract violation.
func (s *EmbeddingStore) Add(v Embedding) (int, error) {
	if len(v) != s.dim {
		return 0, &DimensionError{Want: s.dim, Got: len(v)}
	}
	s.data = append(s.data, v...)
	return s.Len() - 1, nil
}

// Get returns the vector at ordinal. The returned slice aliases store
// memory and must not be mutated.
func (s *EmbeddingStore) Get(ordinal int) (Embedding, bool) {
	if ordinal < 0 || ordinal >= s.Len() {
		return nil, false
	}
	return s.data[ordinal*s.dim : (ordinal+1)*s.dim], true
}

// ScoredOrdinal is a store ordinal with its similarity score.
type ScoredOrdinal struct {
	Ordinal int
	Score   float64
}

// Nearest returns up to maxMatches ordinals whose similarity to query
// is at least minScore, ranked descending. Ties keep insertion order.
func (s *EmbeddingStore) Nearest(query Embedding, maxMatches int, minScore float64) ([]ScoredOrdinal, error) {
	if len(query) != s.dim {
		return nil, &DimensionError{Want: s.dim, Got: len(query)}
	}
	if maxMatches <= 0 || s.Len() == 0 {
		return nil, nil
	}
	top := newTopNList(maxMatches)
	for i := 0; i < s.Len(); i++ {
		score := dotProduct(query, s.data[i*s.dim:(i+1)*s.dim])
		if score >= minScore {
			top.add(i, score)
		}
	}
	return top.ranked(), nil
}

// NearestInSubset restricts the scan to the supplied ordinals. Used
// when a prior exact hit already narrowed the candidates and only
// fuzzy re-ranking is needed. Out-of-range ordinals are skipped.
func (s *EmbeddingStore) NearestInSubset(query Embedding, ordinals []int, maxMatches int, minScore float64) ([]ScoredOrdinal, error) {
	if len(query) != s.dim {
		return nil, &DimensionError{Want: s.dim, Got: len(query)}
	}
	if maxMatches <= 0 {
		return nil, nil
	}
	top := newTopNList(maxMatches)
	for _, ordinal := range ordinals {
		if ordinal < 0 || ordinal >= s.Len() {
			continue
		}
		score := dotProduct(query, s.data[ordinal*s.dim:(ordinal+1)*s.dim])
		if score >= minScore {
			top.add(ordinal, score)
		}
	}
	return top.ranked(), nil
}

// dotProduct of two equal-length vectors, accumulated in float64.
// For unit vectors this equals cosine similarity.
func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeInPlace scales v to unit length. Zero vectors are left
// unchanged.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, c := range v {
		sum += float64(c) * float64(c)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// ============================================================================
// Bounded Top-N Selection
// ============================================================================

// topNList keeps the best-N entries in a fixed-capacity buffer kept
// sorted descending by score. Insertion shifts within the buffer, so
// the hot path allocates nothing after construction. Equal scores sit
// in insertion order.
type topNList struct {
	entries []ScoredOrdinal
	cap     int
}

func newTopNList(capacity int) *topNList {
	return &topNList{
		entries: make([]ScoredOrdinal, 0, capacity),
		cap:     capacity,
	}
}

func (t *topNList) add(ordinal int, score float64) {
	n := len(t.entries)
	if n == t.cap {
		if score <= t.entries[n-1].Score {
			return
		}
		t.entries = t.entries[:n-1]
		n--
	}
	// Binary search for the first entry strictly below score; equal
	// scores stay ahead of the newcomer.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if t.entries[mid].Score >= score {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	t.entries = t.entries[:n+1]
	copy(t.entries[lo+1:], t.entries[lo:n])
	t.entries[lo] = ScoredOrdinal{Ordinal: ordinal, Score: score}
}

// ranked returns the held entries, best first.
func (t *topNList) ranked() []ScoredOrdinal {
	if len(t.entries) == 0 {
		return nil
	}
	return t.entries
}
