// Package knowmem provides a structured conversation-memory engine.
//
// The engine ingests already-extracted knowledge (entities, actions,
// topics, tags) anchored to message text ranges, builds an inverted
// term index plus an embedding index over it, and answers boolean and
// fuzzy knowledge queries with ranked, merged results. It follows a
// build/query phase split: a mutable IndexBuilder is consumed into an
// immutable ConversationMemory that is safe for concurrent queries.
package knowmem

import (
	"encoding/json"
	"fmt"
)

// Version is the SDK version.
const Version = "0.2.0"

// ============================================================================
// Knowledge Types - Closed Tagged Union
// ============================================================================

// KnowledgeType identifies the variant of a Knowledge payload.
type KnowledgeType string

const (
	KnowledgeTypeEntity        KnowledgeType = "entity"
	KnowledgeTypeAction        KnowledgeType = "action"
	KnowledgeTypeTopic         KnowledgeType = "topic"
	KnowledgeTypeTag           KnowledgeType = "tag"
	KnowledgeTypeStructuredTag KnowledgeType = "sTag"
)

// AllKnowledgeTypes lists every valid variant, in serialization order.
var AllKnowledgeTypes = []KnowledgeType{
	KnowledgeTypeEntity,
	KnowledgeTypeAction,
	KnowledgeTypeTopic,
	KnowledgeTypeTag,
	KnowledgeTypeStructuredTag,
}

// Knowledge is one extracted knowledge fragment. The set of
// implementations is closed: ConcreteEntity, Action, Topic, Tag and
// StructuredTag. Consumers dispatch on Kind() and must treat any other
// value as a data error, never drop it silently.
type Knowledge interface {
	Kind() KnowledgeType
}

// ConcreteEntity is a named entity with type tags and optional facets.
type ConcreteEntity struct {
	Name   string   `json:"name"`
	Type   []string `json:"type"`
	Facets []Facet  `json:"facets,omitempty"`
}

// Kind returns KnowledgeTypeEntity.
func (ConcreteEntity) Kind() KnowledgeType { return KnowledgeTypeEntity }

// Action is a verb with optional participants.
type Action struct {
	Verb           string  `json:"verb"`
	Subject        string  `json:"subject,omitempty"`
	Object         string  `json:"object,omitempty"`
	IndirectObject string  `json:"indirectObject,omitempty"`
	Facets         []Facet `json:"facets,omitempty"`
}

// Kind returns KnowledgeTypeAction.
func (Action) Kind() KnowledgeType { return KnowledgeTypeAction }

// Topic is a free-text subject of discussion.
type Topic struct {
	Text string `json:"text"`
}

// Kind returns KnowledgeTypeTopic.
func (Topic) Kind() KnowledgeType { return KnowledgeTypeTopic }

// Tag is a plain text label.
type Tag struct {
	Text string `json:"text"`
}

// Kind returns KnowledgeTypeTag.
func (Tag) Kind() KnowledgeType { return KnowledgeTypeTag }

// StructuredTag is a named label carrying facets.
type StructuredTag struct {
	Name   string  `json:"name"`
	Facets []Facet `json:"facets,omitempty"`
}

// Kind returns KnowledgeTypeStructuredTag.
func (StructuredTag) Kind() KnowledgeType { return KnowledgeTypeStructuredTag }

// ============================================================================
// Facets
// ============================================================================

// Facet is a named attribute of an entity, action or structured tag.
type Facet struct {
	Name  string
	Value FacetValue
}

// FacetValue is a plain string, a Quantity or a Quantifier.
type FacetValue interface {
	facetValue()
	// ValueString renders the value for term indexing.
	ValueString() string
}

// StringValue is a plain string facet value.
type StringValue string

func (StringValue) facetValue()           {}
func (v StringValue) ValueString() string { return string(v) }

// Quantity is a numeric amount with units.
type Quantity struct {
	Amount float64 `json:"amount"`
	Units  string  `json:"units"`
}

func (Quantity) facetValue() {}

// ValueString renders amount and units the way they were spoken.
func (q Quantity) ValueString() string {
	return fmt.Sprintf("%v %s", q.Amount, q.Units)
}

// Quantifier is a non-numeric amount ("several", "most") with units.
type Quantifier struct {
	Amount string `json:"amount"`
	Units  string `json:"units"`
}

func (Quantifier) facetValue() {}

// ValueString renders amount and units as stated.
func (q Quantifier) ValueString() string {
	return q.Amount + " " + q.Units
}

// FacetValuesEqual reports whether two facet values match exactly.
// Quantities compare amount+units; quantifiers compare both strings.
func FacetValuesEqual(a, b FacetValue) bool {
	switch av := a.(type) {
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av == bv
	case Quantity:
		bv, ok := b.(Quantity)
		return ok && av.Amount == bv.Amount && av.Units == bv.Units
	case Quantifier:
		bv, ok := b.(Quantifier)
		return ok && av.Amount == bv.Amount && av.Units == bv.Units
	default:
		return false
	}
}

// FacetsEqual reports whether two facets match on name and value.
func FacetsEqual(a, b Facet) bool {
	return a.Name == b.Name && FacetValuesEqual(a.Value, b.Value)
}

// facetJSON is the wire shape of a Facet. Plain strings
// serialize as JSON strings; Quantity and Quantifier serialize as
// objects distinguished by the JSON type of "amount".
type facetJSON struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON writes the facet with a stable field order.
func (f Facet) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	switch v := f.Value.(type) {
	case StringValue:
		raw, err = json.Marshal(string(v))
	case Quantity:
		raw, err = json.Marshal(v)
	case Quantifier:
		raw, err = json.Marshal(v)
	case nil:
		return nil, &SerializationError{What: "facet", Message: "facet " + f.Name + " has no value"}
	default:
		return nil, &SerializationError{What: "facet", Message: fmt.Sprintf("unknown facet value type %T", f.Value)}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(facetJSON{Name: f.Name, Value: raw})
}

// UnmarshalJSON reads back the wire shape written by MarshalJSON.
func (f *Facet) UnmarshalJSON(data []byte) error {
	var fj facetJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}
	f.Name = fj.Name

	var s string
	if err := json.Unmarshal(fj.Value, &s); err == nil {
		f.Value = StringValue(s)
		return nil
	}

	var probe struct {
		Amount json.RawMessage `json:"amount"`
		Units  string          `json:"units"`
	}
	if err := json.Unmarshal(fj.Value, &probe); err != nil {
		return &SerializationError{What: "facet", Message: "unrecognizable facet value for " + fj.Name}
	}
	var amountStr string
	if err := json.Unmarshal(probe.Amount, &amountStr); err == nil {
		f.Value = Quantifier{Amount: amountStr, Units: probe.Units}
		return nil
	}
	var amountNum float64
	if err := json.Unmarshal(probe.Amount, &amountNum); err == nil {
		f.Value = Quantity{Amount: amountNum, Units: probe.Units}
		return nil
	}
	return &SerializationError{What: "facet", Message: "unrecognizable facet amount for " + fj.Name}
}

// marshalKnowledge serializes a Knowledge payload for its variant tag.
// Unknown variants are a named error, never dropped.
func marshalKnowledge(k Knowledge) (json.RawMessage, error) {
	switch v := k.(type) {
	case ConcreteEntity, Action, Topic, Tag, StructuredTag:
		return json.Marshal(v)
	case *ConcreteEntity:
		return json.Marshal(*v)
	case *Action:
		return json.Marshal(*v)
	case *Topic:
		return json.Marshal(*v)
	case *Tag:
		return json.Marshal(*v)
	case *StructuredTag:
		return json.Marshal(*v)
	default:
		return nil, &SerializationError{What: "knowledge", Message: fmt.Sprintf("unknown knowledge variant %T", k)}
	}
}

// unmarshalKnowledge decodes a payload according to its variant tag.
func unmarshalKnowledge(kt KnowledgeType, data json.RawMessage) (Knowledge, error) {
	switch kt {
	case KnowledgeTypeEntity:
		var v ConcreteEntity
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case KnowledgeTypeAction:
		var v Action
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case KnowledgeTypeTopic:
		var v Topic
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case KnowledgeTypeTag:
		var v Tag
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case KnowledgeTypeStructuredTag:
		var v StructuredTag
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, &SerializationError{What: "knowledge", Message: "unknown knowledge type " + string(kt)}
	}
}
