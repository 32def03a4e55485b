package knowmem

import "encoding/json"

// ============================================================================
// Semantic Refs
// ============================================================================

// SemanticRefOrdinal is the dense, stable identity of a semantic ref.
// Ordinals are contiguous from 0 and never reused or reordered.
type SemanticRefOrdinal int

// SemanticRef is one extracted knowledge fragment anchored to a range
// of source text. Refs are immutable once appended.
type SemanticRef struct {
	SemanticRefOrdinal SemanticRefOrdinal `json:"semanticRefOrdinal"`
	KnowledgeType      KnowledgeType      `json:"knowledgeType"`
	Knowledge          Knowledge          `json:"-"`
	Range              TextRange          `json:"range"`
}

// semanticRefJSON fixes the serialized field order: the variant tag
// precedes its payload so readers can dispatch on it.
type semanticRefJSON struct {
	SemanticRefOrdinal SemanticRefOrdinal `json:"semanticRefOrdinal"`
	KnowledgeType      KnowledgeType      `json:"knowledgeType"`
	Knowledge          json.RawMessage    `json:"knowledge"`
	Range              TextRange          `json:"range"`
}

// MarshalJSON serializes the ref with its knowledge payload tagged by
// KnowledgeType.
func (r SemanticRef) MarshalJSON() ([]byte, error) {
	payload, err := marshalKnowledge(r.Knowledge)
	if err != nil {
		return nil, err
	}
	return json.Marshal(semanticRefJSON{
		SemanticRefOrdinal: r.SemanticRefOrdinal,
		KnowledgeType:      r.KnowledgeType,
		Knowledge:          payload,
		Range:              r.Range,
	})
}

// UnmarshalJSON decodes the tagged payload, rejecting unknown variants.
func (r *SemanticRef) UnmarshalJSON(data []byte) error {
	var rj semanticRefJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	k, err := unmarshalKnowledge(rj.KnowledgeType, rj.Knowledge)
	if err != nil {
		return err
	}
	r.SemanticRefOrdinal = rj.SemanticRefOrdinal
	r.KnowledgeType = rj.KnowledgeType
	r.Knowledge = k
	r.Range = rj.Range
	return nil
}

// ScoredSemanticRefOrdinal is the atomic unit flowing out of index
// lookups and into merge and ranking.
type ScoredSemanticRefOrdinal struct {
	SemanticRefOrdinal SemanticRefOrdinal `json:"semanticRefOrdinal"`
	Score              float64            `json:"score"`
}
