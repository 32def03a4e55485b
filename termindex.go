// Term-to-SemanticRef inverted index.
//
// Maps normalized term text to scored semantic ref postings. Exact
// lookup is a direct map hit; fuzzy lookup expands the query term via
// caller-supplied related terms and the term embedding index.

package knowmem

import (
	"context"
	"sort"
	"strings"
)

// normalizeTerm lower-cases and trims a term for index keys.
func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// TermToSemanticRefIndex is the inverted index from normalized term
// text to scored semantic ref ordinals. Mutable during build, then
// read-only during query.
type TermToSemanticRefIndex struct {
	postings map[string][]ScoredSemanticRefOrdinal
}

// NewTermToSemanticRefIndex creates an empty index.
func NewTermToSemanticRefIndex() *TermToSemanticRefIndex {
	return &TermToSemanticRefIndex{
		postings: make(map[string][]ScoredSemanticRefOrdinal),
	}
}

// Add records that term evidences the given semantic ref with score.
// Returns the normalized form actually indexed.
func (x *TermToSemanticRefIndex) Add(term string, ordinal SemanticRefOrdinal, score float64) string {
	key := normalizeTerm(term)
	if key == "" {
		return key
	}
	x.postings[key] = append(x.postings[key], ScoredSemanticRefOrdinal{
		SemanticRefOrdinal: ordinal,
		Score:              score,
	})
	return key
}

// LookupExact returns the postings for term, or nil when the term is
// unknown. Absence is not an error.
func (x *TermToSemanticRefIndex) LookupExact(term string) []ScoredSemanticRefOrdinal {
	return x.postings[normalizeTerm(term)]
}

// Has reports whether the term is indexed.
func (x *TermToSemanticRefIndex) Has(term string) bool {
	_, ok := x.postings[normalizeTerm(term)]
	return ok
}

// Len returns the number of distinct terms.
func (x *TermToSemanticRefIndex) Len() int { return len(x.postings) }

// Terms returns all indexed terms in lexical order.
func (x *TermToSemanticRefIndex) Terms() []string {
	terms := make([]string, 0, len(x.postings))
	for term := range x.postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// TermIndexEntry is one serialized term with its postings.
type TermIndexEntry struct {
	Term                string                     `json:"term"`
	SemanticRefOrdinals []ScoredSemanticRefOrdinal `json:"semanticRefOrdinals"`
}

// TermIndexData is the serialized form of the index, entries in
// lexical term order so serialization is deterministic.
type TermIndexData struct {
	Entries []TermIndexEntry `json:"entries"`
}

// Serialize produces the deterministic wire form.
func (x *TermToSemanticRefIndex) Serialize() *TermIndexData {
	data := &TermIndexData{Entries: make([]TermIndexEntry, 0, len(x.postings))}
	for _, term := range x.Terms() {
		data.Entries = append(data.Entries, TermIndexEntry{
			Term:                term,
			SemanticRefOrdinals: x.postings[term],
		})
	}
	return data
}

// DeserializeTermIndex rebuilds an index from its wire form.
func DeserializeTermIndex(data *TermIndexData) *TermToSemanticRefIndex {
	x := NewTermToSemanticRefIndex()
	if data == nil {
		return x
	}
	for _, entry := range data.Entries {
		key := normalizeTerm(entry.Term)
		x.postings[key] = append(x.postings[key], entry.SemanticRefOrdinals...)
	}
	return x
}

// ============================================================================
// Term Embedding Index - fuzzy expansion via vector similarity
// ============================================================================

// TermEmbeddingIndex holds one embedding per indexed term and answers
// "which indexed terms are semantically near this query term".
type TermEmbeddingIndex struct {
	embedder *Embedder
	terms    []string
	ordinals map[string]int
	store    *EmbeddingStore
}

// NewTermEmbeddingIndex creates an index backed by embedder.
func NewTermEmbeddingIndex(embedder *Embedder) *TermEmbeddingIndex {
	return &TermEmbeddingIndex{
		embedder: embedder,
		ordinals: make(map[string]int),
		store:    NewEmbeddingStore(embedder.Dimensions()),
	}
}

// Len returns the number of embedded terms.
func (x *TermEmbeddingIndex) Len() int { return len(x.terms) }

// AddTerms embeds and indexes the given terms, skipping ones already
// present. Embedding runs as one bounded-concurrency batch.
func (x *TermEmbeddingIndex) AddTerms(ctx context.Context, terms []string) error {
	var missing []string
	for _, term := range terms {
		key := normalizeTerm(term)
		if key == "" {
			continue
		}
		if _, ok := x.ordinals[key]; !ok {
			x.ordinals[key] = -1 // reserve against duplicates in the batch
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	vectors, err := x.embedder.EmbedBatch(ctx, missing)
	if err != nil {
		for _, key := range missing {
			delete(x.ordinals, key)
		}
		return err
	}
	for i, key := range missing {
		ordinal, err := x.store.Add(vectors[i])
		if err != nil {
			delete(x.ordinals, key)
			return err
		}
		x.ordinals[key] = ordinal
		x.terms = append(x.terms, key)
	}
	return nil
}

// LookupTerm returns indexed terms whose embedding similarity to term
// is at least minScore, best first. The query term itself is excluded.
func (x *TermEmbeddingIndex) LookupTerm(ctx context.Context, term string, maxMatches int, minScore float64) ([]Term, error) {
	key := normalizeTerm(term)
	if key == "" || x.store.Len() == 0 {
		return nil, nil
	}
	query, err := x.embedder.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	matches, err := x.store.Nearest(query, maxMatches+1, minScore)
	if err != nil {
		return nil, err
	}
	related := make([]Term, 0, len(matches))
	for _, m := range matches {
		if x.terms[m.Ordinal] == key {
			continue
		}
		related = append(related, Term{Text: x.terms[m.Ordinal], Weight: m.Score})
		if len(related) == maxMatches {
			break
		}
	}
	return related, nil
}

// ============================================================================
// Fuzzy Lookup
// ============================================================================

// LookupFuzzy looks up term exactly, then admits matches for the
// supplied related terms and for embedding neighbors above minScore.
// A related term whose similarity reaches isExactThreshold scores as
// if it were the query term; below that, posting scores are scaled by
// the similarity. Multiple sources hitting the same ordinal keep the
// maximum score rather than summing.
func (x *TermToSemanticRefIndex) LookupFuzzy(
	ctx context.Context,
	embeddings *TermEmbeddingIndex,
	term string,
	relatedTerms []Term,
	minScore float64,
	maxMatches int,
	isExactThreshold float64,
) ([]ScoredSemanticRefOrdinal, error) {
	best := make(map[SemanticRefOrdinal]float64)

	admit := func(postings []ScoredSemanticRefOrdinal, scale float64) {
		for _, p := range postings {
			score := p.Score * scale
			if prev, ok := best[p.SemanticRefOrdinal]; !ok || score > prev {
				best[p.SemanticRefOrdinal] = score
			}
		}
	}

	admit(x.LookupExact(term), 1)

	for _, rt := range relatedTerms {
		weight := rt.Weight
		if weight <= 0 || weight >= isExactThreshold {
			weight = 1
		}
		admit(x.LookupExact(rt.Text), weight)
	}

	if embeddings != nil {
		neighbors, err := embeddings.LookupTerm(ctx, term, maxMatches, minScore)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			scale := n.Weight
			if scale >= isExactThreshold {
				scale = 1
			}
			admit(x.LookupExact(n.Text), scale)
		}
	}

	if len(best) == 0 {
		return nil, nil
	}
	matches := make([]ScoredSemanticRefOrdinal, 0, len(best))
	for ordinal, score := range best {
		matches = append(matches, ScoredSemanticRefOrdinal{SemanticRefOrdinal: ordinal, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SemanticRefOrdinal < matches[j].SemanticRefOrdinal
	})
	return matches, nil
}
