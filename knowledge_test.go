package knowmem

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacetValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b FacetValue
		want bool
	}{
		{"equal strings", StringValue("red"), StringValue("red"), true},
		{"different strings", StringValue("red"), StringValue("blue"), false},
		{"equal quantities", Quantity{Amount: 55, Units: "years"}, Quantity{Amount: 55, Units: "years"}, true},
		{"different amount", Quantity{Amount: 55, Units: "years"}, Quantity{Amount: 56, Units: "years"}, false},
		{"different units", Quantity{Amount: 55, Units: "years"}, Quantity{Amount: 55, Units: "kg"}, false},
		{"equal quantifiers", Quantifier{Amount: "several", Units: "books"}, Quantifier{Amount: "several", Units: "books"}, true},
		{"quantity vs quantifier", Quantity{Amount: 3, Units: "books"}, Quantifier{Amount: "3", Units: "books"}, false},
		{"string vs quantity", StringValue("55 years"), Quantity{Amount: 55, Units: "years"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FacetValuesEqual(tt.a, tt.b))
		})
	}
}

func TestFacetJSON(t *testing.T) {
	t.Run("string value", func(t *testing.T) {
		f := Facet{Name: "color", Value: StringValue("red")}
		raw, err := json.Marshal(f)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"color","value":"red"}`, string(raw))

		var back Facet
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, f, back)
	})

	t.Run("quantity value", func(t *testing.T) {
		f := Facet{Name: "age", Value: Quantity{Amount: 55, Units: "years"}}
		raw, err := json.Marshal(f)
		require.NoError(t, err)

		var back Facet
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, f, back)
	})

	t.Run("quantifier value", func(t *testing.T) {
		f := Facet{Name: "count", Value: Quantifier{Amount: "several", Units: "books"}}
		raw, err := json.Marshal(f)
		require.NoError(t, err)

		var back Facet
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, f, back)
	})

	t.Run("nil value is an error", func(t *testing.T) {
		f := Facet{Name: "color"}
		_, err := json.Marshal(f)
		require.Error(t, err)
	})
}

func TestKnowledgeVariants(t *testing.T) {
	t.Run("kind dispatch", func(t *testing.T) {
		assert.Equal(t, KnowledgeTypeEntity, ConcreteEntity{Name: "x"}.Kind())
		assert.Equal(t, KnowledgeTypeAction, Action{Verb: "run"}.Kind())
		assert.Equal(t, KnowledgeTypeTopic, Topic{Text: "x"}.Kind())
		assert.Equal(t, KnowledgeTypeTag, Tag{Text: "x"}.Kind())
		assert.Equal(t, KnowledgeTypeStructuredTag, StructuredTag{Name: "x"}.Kind())

		var k Knowledge = ConcreteEntity{Name: "x", Type: []string{"person"}}
		assert.Equal(t, KnowledgeTypeEntity, k.Kind())
		assert.Equal(t, []string{"person"}, k.(ConcreteEntity).Type)
	})

	t.Run("all types listed once", func(t *testing.T) {
		seen := make(map[KnowledgeType]bool)
		for _, kt := range AllKnowledgeTypes {
			assert.False(t, seen[kt], "duplicate %s", kt)
			seen[kt] = true
		}
		assert.Len(t, seen, 5)
	})

	t.Run("unknown variant tag rejected", func(t *testing.T) {
		_, err := unmarshalKnowledge(KnowledgeType("mystery"), json.RawMessage(`{}`))
		require.Error(t, err)
		var se *SerializationError
		assert.ErrorAs(t, err, &se)
	})

	t.Run("unknown variant value rejected", func(t *testing.T) {
		_, err := marshalKnowledge(nil)
		require.Error(t, err)
		var se *SerializationError
		assert.ErrorAs(t, err, &se)
	})
}

func TestSemanticRefJSON(t *testing.T) {
	t.Run("round trip per variant", func(t *testing.T) {
		variants := []Knowledge{
			ConcreteEntity{
				Name: "Mike",
				Type: []string{"person", "doctor"},
				Facets: []Facet{
					{Name: "age", Value: Quantity{Amount: 55, Units: "years"}},
				},
			},
			Action{Verb: "prescribed", Subject: "Mike", Object: "medication"},
			Topic{Text: "health"},
			Tag{Text: "urgent"},
			StructuredTag{Name: "visit", Facets: []Facet{{Name: "kind", Value: StringValue("checkup")}}},
		}
		for i, k := range variants {
			ref := SemanticRef{
				SemanticRefOrdinal: SemanticRefOrdinal(i),
				KnowledgeType:      k.Kind(),
				Knowledge:          k,
				Range:              RangeOfMessage(MessageOrdinal(i)),
			}
			raw, err := json.Marshal(ref)
			require.NoError(t, err)

			var back SemanticRef
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, ref, back, "variant %s", k.Kind())
		}
	})

	t.Run("payload carries variant tag", func(t *testing.T) {
		ref := SemanticRef{
			KnowledgeType: KnowledgeTypeTopic,
			Knowledge:     Topic{Text: "health"},
			Range:         RangeOfMessage(0),
		}
		raw, err := json.Marshal(ref)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"knowledgeType":"topic"`)
	})
}
