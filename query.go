// Query input contract.
//
// Callers build a SearchTermGroup tree plus an optional WhenFilter
// in-process; no wire format is mandated. A surrounding CLI's query
// language must lower to exactly these shapes.

package knowmem

// Term is a piece of query text with an optional weight. Weight 0
// means "use the default for the context".
type Term struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight,omitempty"`
}

// SearchTerm is a query term plus optional synonym expansions. When
// ExactMatchOnly is set, neither the related terms nor the embedding
// index are consulted.
type SearchTerm struct {
	Term           Term   `json:"term"`
	RelatedTerms   []Term `json:"relatedTerms,omitempty"`
	ExactMatchOnly bool   `json:"exactMatchOnly,omitempty"`
}

// NewSearchTerm builds a SearchTerm over plain text.
func NewSearchTerm(text string, related ...string) SearchTerm {
	st := SearchTerm{Term: Term{Text: text}}
	for _, r := range related {
		st.RelatedTerms = append(st.RelatedTerms, Term{Text: r})
	}
	return st
}

// Well-known property names for PropertySearchTerm.
const (
	PropertyEntityName     = "name"
	PropertyEntityType     = "type"
	PropertyFacetName      = "facet.name"
	PropertyFacetValue     = "facet.value"
	PropertyVerb           = "verb"
	PropertySubject        = "subject"
	PropertyObject         = "object"
	PropertyIndirectObject = "indirectObject"
	PropertyTag            = "tag"
	PropertyTopic          = "topic"
)

// PropertySearchTerm matches a SearchTerm within one property's value
// space, e.g. facet name "age" with value "55".
type PropertySearchTerm struct {
	PropertyName  string     `json:"propertyName"`
	PropertyValue SearchTerm `json:"propertyValue"`
}

// NewPropertySearchTerm pairs a property name with a value term.
func NewPropertySearchTerm(name, value string) PropertySearchTerm {
	return PropertySearchTerm{PropertyName: name, PropertyValue: NewSearchTerm(value)}
}

// SearchTermBooleanOp combines the children of a SearchTermGroup.
type SearchTermBooleanOp string

const (
	// BooleanOpAnd intersects children; an ordinal scores the minimum
	// of its per-child scores.
	BooleanOpAnd SearchTermBooleanOp = "and"
	// BooleanOpOr unions children; an ordinal keeps its maximum
	// per-child score and the union of contributing terms.
	BooleanOpOr SearchTermBooleanOp = "or"
	// BooleanOpOrMax unions children but keeps only the best-scoring
	// branch's term set per ordinal. Used when branches are mutually
	// exclusive interpretations.
	BooleanOpOrMax SearchTermBooleanOp = "or_max"
)

// SearchTermGroupTerm is a node of the boolean query tree: a
// SearchTerm, a PropertySearchTerm or a nested *SearchTermGroup.
type SearchTermGroupTerm interface {
	searchTermGroupTerm()
}

func (SearchTerm) searchTermGroupTerm()         {}
func (PropertySearchTerm) searchTermGroupTerm() {}
func (*SearchTermGroup) searchTermGroupTerm()   {}

// SearchTermGroup is a boolean tree node over search terms.
type SearchTermGroup struct {
	BooleanOp SearchTermBooleanOp
	Terms     []SearchTermGroupTerm
}

// NewSearchTermGroup builds a group from the given terms.
func NewSearchTermGroup(op SearchTermBooleanOp, terms ...SearchTermGroupTerm) *SearchTermGroup {
	return &SearchTermGroup{BooleanOp: op, Terms: terms}
}

// OrTerms builds an Or group over plain search terms.
func OrTerms(texts ...string) *SearchTermGroup {
	g := &SearchTermGroup{BooleanOp: BooleanOpOr}
	for _, t := range texts {
		g.Terms = append(g.Terms, NewSearchTerm(t))
	}
	return g
}

// AndTerms builds an And group over plain search terms.
func AndTerms(texts ...string) *SearchTermGroup {
	g := &SearchTermGroup{BooleanOp: BooleanOpAnd}
	for _, t := range texts {
		g.Terms = append(g.Terms, NewSearchTerm(t))
	}
	return g
}

// WhenFilter scopes query candidates after boolean matching. All set
// constraints must hold for a candidate to survive.
type WhenFilter struct {
	// KnowledgeType restricts results to one variant.
	KnowledgeType KnowledgeType
	// DateRange drops candidates whose backing message falls outside
	// it; candidates without timestamps are dropped too.
	DateRange *DateRange
	// Tags requires exact tag membership: a tag semantic ref with one
	// of these texts must scope the candidate's message.
	Tags []string
	// TagMatchingTerms restricts candidates to text ranges scoped by
	// tag refs matching this sub-query.
	TagMatchingTerms *SearchTermGroup
	// ScopeDefiningTerms restricts candidates to text ranges of refs
	// matching this sub-query.
	ScopeDefiningTerms *SearchTermGroup
	// TextRangesInScope drops candidates whose range intersects none
	// of these ranges.
	TextRangesInScope []TextRange
}
