package knowmem

// propertyTermText builds the composite key for a property posting.
// The separator cannot occur in normalized terms.
const propertySeparator = "@@"

func propertyTermText(name, value string) string {
	return normalizeTerm(name) + propertySeparator + normalizeTerm(value)
}

// PropertyIndex maps property name/value pairs to scored semantic ref
// ordinals, serving PropertySearchTerm lookups. It shares the postings
// machinery of the term index under composite keys.
type PropertyIndex struct {
	index *TermToSemanticRefIndex
}

// NewPropertyIndex creates an empty property index.
func NewPropertyIndex() *PropertyIndex {
	return &PropertyIndex{index: NewTermToSemanticRefIndex()}
}

// Add records that the ref carries value for the named property.
func (p *PropertyIndex) Add(name, value string, ordinal SemanticRefOrdinal, score float64) {
	p.index.Add(propertyTermText(name, value), ordinal, score)
}

// Lookup returns the postings for the property value, or nil.
func (p *PropertyIndex) Lookup(name, value string) []ScoredSemanticRefOrdinal {
	return p.index.LookupExact(propertyTermText(name, value))
}

// Values returns the indexed values for one property, normalized and
// in lexical order.
func (p *PropertyIndex) Values(name string) []string {
	prefix := normalizeTerm(name) + propertySeparator
	var values []string
	for _, term := range p.index.Terms() {
		if len(term) > len(prefix) && term[:len(prefix)] == prefix {
			values = append(values, term[len(prefix):])
		}
	}
	return values
}

// Serialize produces the deterministic wire form.
func (p *PropertyIndex) Serialize() *TermIndexData {
	return p.index.Serialize()
}

// DeserializePropertyIndex rebuilds a property index.
func DeserializePropertyIndex(data *TermIndexData) *PropertyIndex {
	return &PropertyIndex{index: DeserializeTermIndex(data)}
}
