// Merge Engine
//
// Collapses duplicate or near-duplicate entities, topics and scored
// refs that arose from repeated extraction or repeated mention.
// Merged aggregates are transient: built per query, never persisted.

package knowmem

import (
	"sort"
	"strings"
)

// ============================================================================
// Merged Aggregates
// ============================================================================

// MergedFacets is a facet multimap keyed by normalized facet name,
// keeping the distinct values seen for each name.
type MergedFacets struct {
	names  []string // insertion order of first appearance
	values map[string][]FacetValue
}

// NewMergedFacets creates an empty facet aggregate.
func NewMergedFacets() *MergedFacets {
	return &MergedFacets{values: make(map[string][]FacetValue)}
}

// Add records a facet value, ignoring exact duplicates.
func (m *MergedFacets) Add(f Facet) {
	key := normalizeTerm(f.Name)
	if key == "" || f.Value == nil {
		return
	}
	existing, ok := m.values[key]
	if !ok {
		m.names = append(m.names, key)
	}
	for _, v := range existing {
		if FacetValuesEqual(v, f.Value) {
			return
		}
	}
	m.values[key] = append(existing, f.Value)
}

// Union merges other's facets into m.
func (m *MergedFacets) Union(other *MergedFacets) {
	if other == nil {
		return
	}
	for _, name := range other.names {
		for _, v := range other.values[name] {
			m.Add(Facet{Name: name, Value: v})
		}
	}
}

// Get returns the distinct values recorded for name.
func (m *MergedFacets) Get(name string) []FacetValue {
	return m.values[normalizeTerm(name)]
}

// Len returns the number of distinct facet names.
func (m *MergedFacets) Len() int { return len(m.names) }

// Facets flattens the aggregate back into facet records, names in
// first-appearance order.
func (m *MergedFacets) Facets() []Facet {
	var out []Facet
	for _, name := range m.names {
		for _, v := range m.values[name] {
			out = append(out, Facet{Name: name, Value: v})
		}
	}
	return out
}

// MergedEntity is the canonical aggregate of one entity across
// mentions: unioned type tags and facets, best-evidence score.
type MergedEntity struct {
	Name   string
	Type   []string
	Facets *MergedFacets
	// Score is the maximum member score: a concept is as
	// well-evidenced as its best mention.
	Score float64
	// Ordinals are the contributing semantic refs, in first-seen
	// order.
	Ordinals []SemanticRefOrdinal
}

// Union merges other into e when the names case-match. Returns false
// and leaves e unmodified otherwise. On success e.Type becomes the set
// union of both type-tag sets.
func (e *MergedEntity) Union(other *MergedEntity) bool {
	if !strings.EqualFold(e.Name, other.Name) {
		return false
	}
	e.Type = unionStringSets(e.Type, other.Type)
	if other.Facets != nil {
		if e.Facets == nil {
			e.Facets = NewMergedFacets()
		}
		e.Facets.Union(other.Facets)
	}
	if other.Score > e.Score {
		e.Score = other.Score
	}
	e.Ordinals = append(e.Ordinals, other.Ordinals...)
	return true
}

// MergedTopic is the canonical aggregate of one topic text.
type MergedTopic struct {
	Text     string
	Score    float64
	Ordinals []SemanticRefOrdinal
}

// unionStringSets unions b into a case-insensitively, preserving a's
// order and first-seen casing.
func unionStringSets(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := a
	for _, s := range a {
		seen[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range b {
		key := strings.ToLower(s)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// ============================================================================
// Merge Operations
// ============================================================================

// ScoredEntity pairs an entity mention with its match score and
// backing ref.
type ScoredEntity struct {
	Entity  ConcreteEntity
	Score   float64
	Ordinal SemanticRefOrdinal
}

// MergeEntities groups mentions by case-insensitive name, unions type
// and facet sets per group and keeps the maximum member score.
// Output is sorted descending by score, ties by first-seen order.
// Idempotent: merging already-merged output is a no-op.
func MergeEntities(entities []ScoredEntity) []*MergedEntity {
	var order []string
	groups := make(map[string]*MergedEntity)
	for _, se := range entities {
		key := normalizeTerm(se.Entity.Name)
		if key == "" {
			continue
		}
		facets := NewMergedFacets()
		for _, f := range se.Entity.Facets {
			facets.Add(f)
		}
		merged := &MergedEntity{
			Name:     se.Entity.Name,
			Type:     unionStringSets(nil, se.Entity.Type),
			Facets:   facets,
			Score:    se.Score,
			Ordinals: []SemanticRefOrdinal{se.Ordinal},
		}
		if existing, ok := groups[key]; ok {
			existing.Union(merged)
		} else {
			groups[key] = merged
			order = append(order, key)
		}
	}
	out := make([]*MergedEntity, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ScoredTopic pairs a topic mention with its match score and ref.
type ScoredTopic struct {
	Topic   Topic
	Score   float64
	Ordinal SemanticRefOrdinal
}

// MergeTopics groups topics by case-insensitive text, keeping the
// maximum member score. Sorted like MergeEntities.
func MergeTopics(topics []ScoredTopic) []*MergedTopic {
	var order []string
	groups := make(map[string]*MergedTopic)
	for _, st := range topics {
		key := normalizeTerm(st.Topic.Text)
		if key == "" {
			continue
		}
		if existing, ok := groups[key]; ok {
			if st.Score > existing.Score {
				existing.Score = st.Score
			}
			existing.Ordinals = append(existing.Ordinals, st.Ordinal)
			continue
		}
		groups[key] = &MergedTopic{
			Text:     st.Topic.Text,
			Score:    st.Score,
			Ordinals: []SemanticRefOrdinal{st.Ordinal},
		}
		order = append(order, key)
	}
	out := make([]*MergedTopic, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// ScoredRef pairs a semantic ref with its match score, for merge paths
// that dedupe across knowledge types.
type ScoredRef struct {
	Ref   SemanticRef
	Score float64
}

// MergeScoredRefs deduplicates scored refs by the identity of their
// underlying knowledge (e.g. same entity name). The first-seen
// occurrence survives; a later duplicate replaces its score only when
// provably higher (max-wins, applied uniformly). Output is sorted
// ascending by score unless descending is set; ties keep ascending
// ordinal order of first occurrence.
func MergeScoredRefs(refs []ScoredRef, caseSensitive, descending bool) []ScoredRef {
	type slot struct {
		index int
	}
	seen := make(map[string]slot, len(refs))
	out := make([]ScoredRef, 0, len(refs))
	for _, sr := range refs {
		key := knowledgeIdentity(sr.Ref.KnowledgeType, sr.Ref.Knowledge)
		if !caseSensitive {
			key = strings.ToLower(key)
		}
		if s, ok := seen[key]; ok {
			if sr.Score > out[s.index].Score {
				out[s.index].Score = sr.Score
			}
			continue
		}
		seen[key] = slot{index: len(out)}
		out = append(out, sr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			if descending {
				return out[i].Score > out[j].Score
			}
			return out[i].Score < out[j].Score
		}
		return out[i].Ref.SemanticRefOrdinal < out[j].Ref.SemanticRefOrdinal
	})
	return out
}

// knowledgeIdentity is the dedupe key of a knowledge value.
func knowledgeIdentity(kt KnowledgeType, k Knowledge) string {
	switch v := k.(type) {
	case ConcreteEntity:
		return string(kt) + "/" + v.Name
	case Action:
		return string(kt) + "/" + v.Verb + "/" + v.Subject + "/" + v.Object + "/" + v.IndirectObject
	case Topic:
		return string(kt) + "/" + v.Text
	case Tag:
		return string(kt) + "/" + v.Text
	case StructuredTag:
		return string(kt) + "/" + v.Name
	default:
		return string(kt)
	}
}
