// Query evaluation.
//
// Walks a compiled plan against the term and property indexes, using
// the embedding index for fuzzy expansion, then post-filters by the
// WhenFilter and groups ranked matches by knowledge type.

package knowmem

import (
	"context"
	"errors"
	"sort"
)

// SemanticRefSearchResult holds the matches of one knowledge type.
type SemanticRefSearchResult struct {
	// TermMatches lists the normalized query terms that contributed,
	// in lexical order.
	TermMatches []string
	// SemanticRefMatches is ranked descending by score; ties keep
	// ascending ordinal order.
	SemanticRefMatches []ScoredSemanticRefOrdinal
}

// SearchResults is the outcome of evaluating a compiled query. Every
// requested knowledge type is present, empty when nothing matched.
type SearchResults struct {
	ByType map[KnowledgeType]*SemanticRefSearchResult
	// Aborted is set when evaluation stopped on cancellation; ByType
	// then holds the partial aggregate assembled so far.
	Aborted bool
	// BranchErrors collects embedding-provider failures that degraded
	// individual branches without failing the query.
	BranchErrors []error
}

// evalContext carries the immutable index surfaces one evaluation
// reads, plus per-evaluation state: cancellation and degraded-branch
// errors.
type evalContext struct {
	ctx        context.Context
	termIndex  *TermToSemanticRefIndex
	propIndex  *PropertyIndex
	embeddings *TermEmbeddingIndex
	refs       SemanticRefStore
	messages   MessageStore
	settings   *MemorySettings

	aborted      bool
	branchErrors []error
}

// cancelled checks the context between sub-steps; once it trips, no
// new sub-steps start.
func (ec *evalContext) cancelled() bool {
	if ec.aborted {
		return true
	}
	if ec.ctx.Err() != nil {
		ec.aborted = true
	}
	return ec.aborted
}

// ============================================================================
// Match Accumulation
// ============================================================================

// refMatch is one candidate ordinal with its score and the query terms
// that evidence it.
type refMatch struct {
	score float64
	terms map[string]struct{}
}

func newRefMatch(score float64, term string) *refMatch {
	return &refMatch{score: score, terms: map[string]struct{}{term: {}}}
}

// matchAccumulator aggregates scored ordinals during evaluation.
// Multiple sources hitting the same ordinal keep the maximum score,
// never the sum.
type matchAccumulator struct {
	matches map[SemanticRefOrdinal]*refMatch
}

func newMatchAccumulator() *matchAccumulator {
	return &matchAccumulator{matches: make(map[SemanticRefOrdinal]*refMatch)}
}

// add admits a match for term, max-score-wins.
func (a *matchAccumulator) add(ordinal SemanticRefOrdinal, score float64, term string) {
	if m, ok := a.matches[ordinal]; ok {
		if score > m.score {
			m.score = score
		}
		m.terms[term] = struct{}{}
		return
	}
	a.matches[ordinal] = newRefMatch(score, term)
}

func (a *matchAccumulator) len() int { return len(a.matches) }

// ============================================================================
// Expression Nodes
// ============================================================================

type queryExpr interface {
	eval(ec *evalContext) *matchAccumulator
}

// termExpr matches one SearchTerm: exact postings, explicit related
// terms, and embedding neighbors unless exact-only.
type termExpr struct {
	term SearchTerm
}

func (e *termExpr) eval(ec *evalContext) *matchAccumulator {
	acc := newMatchAccumulator()
	if ec.cancelled() {
		return acc
	}
	st := e.term
	key := normalizeTerm(st.Term.Text)

	var postings []ScoredSemanticRefOrdinal
	if st.ExactMatchOnly || ec.embeddings == nil {
		// LookupExact hands back the index's own postings slice;
		// copy it so appends never grow shared index memory.
		postings = append(postings, ec.termIndex.LookupExact(key)...)
		if !st.ExactMatchOnly {
			for _, rt := range st.RelatedTerms {
				postings = appendScaled(postings, ec.termIndex.LookupExact(rt.Text), relatedWeight(rt, ec.settings))
			}
		}
	} else {
		var err error
		postings, err = ec.termIndex.LookupFuzzy(
			ec.ctx,
			ec.embeddings,
			key,
			st.RelatedTerms,
			ec.settings.MinFuzzyScore,
			ec.settings.MaxFuzzyMatches,
			ec.settings.RelatedIsExactThreshold,
		)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				ec.aborted = true
			} else {
				// Degrade this branch to exact-only; siblings proceed.
				ec.branchErrors = append(ec.branchErrors, err)
			}
			postings = ec.termIndex.LookupExact(key)
		}
	}

	weight := st.Term.Weight
	if weight <= 0 {
		weight = 1
	}
	for _, p := range postings {
		acc.add(p.SemanticRefOrdinal, p.Score*weight, key)
	}
	return acc
}

// relatedWeight is the scale applied to an explicit related term's
// postings: its own weight, or exact-equivalent when unspecified or
// above the is-exact threshold.
func relatedWeight(rt Term, settings *MemorySettings) float64 {
	if rt.Weight <= 0 || rt.Weight >= settings.RelatedIsExactThreshold {
		return 1
	}
	return rt.Weight
}

func appendScaled(dst, src []ScoredSemanticRefOrdinal, scale float64) []ScoredSemanticRefOrdinal {
	for _, p := range src {
		dst = append(dst, ScoredSemanticRefOrdinal{
			SemanticRefOrdinal: p.SemanticRefOrdinal,
			Score:              p.Score * scale,
		})
	}
	return dst
}

// propertyExpr matches a PropertySearchTerm against the property
// index. Well-known property names hit their dedicated postings;
// any other name is treated as a facet name whose value must match.
type propertyExpr struct {
	term PropertySearchTerm
}

func (e *propertyExpr) eval(ec *evalContext) *matchAccumulator {
	acc := newMatchAccumulator()
	if ec.cancelled() {
		return acc
	}
	pt := e.term
	name := normalizeTerm(pt.PropertyName)
	value := normalizeTerm(pt.PropertyValue.Term.Text)
	label := name + ":" + value

	admit := func(value string, scale float64) {
		switch name {
		case PropertyEntityName, PropertyEntityType, PropertyFacetName, PropertyFacetValue,
			PropertyVerb, PropertySubject, PropertyObject, PropertyIndirectObject,
			PropertyTag, PropertyTopic:
			for _, p := range ec.propIndex.Lookup(name, value) {
				acc.add(p.SemanticRefOrdinal, p.Score*scale, label)
			}
		default:
			// Facet constraint: the same ref must carry the facet name
			// and the facet value. Weakest-link scoring.
			byName := ec.propIndex.Lookup(PropertyFacetName, name)
			byValue := ec.propIndex.Lookup(PropertyFacetValue, value)
			values := make(map[SemanticRefOrdinal]float64, len(byValue))
			for _, p := range byValue {
				values[p.SemanticRefOrdinal] = p.Score
			}
			for _, p := range byName {
				if vScore, ok := values[p.SemanticRefOrdinal]; ok {
					acc.add(p.SemanticRefOrdinal, min(p.Score, vScore)*scale, label)
				}
			}
		}
	}

	admit(value, 1)
	if !pt.PropertyValue.ExactMatchOnly {
		for _, rt := range pt.PropertyValue.RelatedTerms {
			admit(normalizeTerm(rt.Text), relatedWeight(rt, ec.settings))
		}
	}
	return acc
}

// andExpr intersects its children. Weakest-link: an ordinal's score is
// the minimum across children, so coincidental multi-term matches do
// not inflate confidence.
type andExpr struct {
	children []queryExpr
}

func (e *andExpr) eval(ec *evalContext) *matchAccumulator {
	var result *matchAccumulator
	for _, child := range e.children {
		if ec.cancelled() {
			break
		}
		acc := child.eval(ec)
		if result == nil {
			result = acc
			continue
		}
		intersected := newMatchAccumulator()
		for ordinal, m := range result.matches {
			other, ok := acc.matches[ordinal]
			if !ok {
				continue
			}
			merged := &refMatch{score: min(m.score, other.score), terms: m.terms}
			for t := range other.terms {
				merged.terms[t] = struct{}{}
			}
			intersected.matches[ordinal] = merged
		}
		result = intersected
		if result.len() == 0 {
			break
		}
	}
	if result == nil {
		return newMatchAccumulator()
	}
	return result
}

// orExpr unions its children. An ordinal present in several children
// keeps its maximum score and the union of contributing terms.
type orExpr struct {
	children []queryExpr
}

func (e *orExpr) eval(ec *evalContext) *matchAccumulator {
	result := newMatchAccumulator()
	for _, child := range e.children {
		if ec.cancelled() {
			break
		}
		for ordinal, m := range child.eval(ec).matches {
			existing, ok := result.matches[ordinal]
			if !ok {
				result.matches[ordinal] = &refMatch{score: m.score, terms: m.terms}
				continue
			}
			if m.score > existing.score {
				existing.score = m.score
			}
			for t := range m.terms {
				existing.terms[t] = struct{}{}
			}
		}
	}
	return result
}

// orMaxExpr unions like Or at the ordinal level, but keeps only the
// best-scoring branch's term set per ordinal: the match counts as one
// interpretation, not all of them.
type orMaxExpr struct {
	children []queryExpr
}

func (e *orMaxExpr) eval(ec *evalContext) *matchAccumulator {
	result := newMatchAccumulator()
	for _, child := range e.children {
		if ec.cancelled() {
			break
		}
		for ordinal, m := range child.eval(ec).matches {
			existing, ok := result.matches[ordinal]
			if !ok || m.score > existing.score {
				result.matches[ordinal] = &refMatch{score: m.score, terms: m.terms}
			}
		}
	}
	return result
}

// ============================================================================
// Evaluation Entry Point
// ============================================================================

// evaluate runs the plan, applies the WhenFilter and groups results by
// knowledge type. Empty results are empty, never absent; cancellation
// yields the partial aggregate with Aborted set.
func evaluate(ec *evalContext, plan *CompiledQuery) (*SearchResults, error) {
	requested := AllKnowledgeTypes
	if plan.when != nil && plan.when.KnowledgeType != "" {
		requested = []KnowledgeType{plan.when.KnowledgeType}
	}
	results := &SearchResults{ByType: make(map[KnowledgeType]*SemanticRefSearchResult, len(requested))}
	for _, kt := range requested {
		results.ByType[kt] = &SemanticRefSearchResult{}
	}

	acc := plan.expr.eval(ec)

	scope, err := resolveScope(ec, plan.when)
	if err != nil {
		return nil, err
	}

	grouped := make(map[KnowledgeType]*matchAccumulator)
	for ordinal, m := range acc.matches {
		ref, ok, err := ec.refs.Get(ordinal)
		if err != nil {
			return nil, &StorageError{Op: "get semantic ref", Err: err}
		}
		if !ok {
			continue
		}
		if _, wanted := results.ByType[ref.KnowledgeType]; !wanted {
			continue
		}
		if !scope.admits(ec, ref) {
			continue
		}
		g, ok := grouped[ref.KnowledgeType]
		if !ok {
			g = newMatchAccumulator()
			grouped[ref.KnowledgeType] = g
		}
		g.matches[ordinal] = m
	}

	for kt, g := range grouped {
		results.ByType[kt] = g.toResult()
	}
	results.Aborted = ec.aborted
	results.BranchErrors = ec.branchErrors
	return results, nil
}

// toResult ranks the accumulated matches and collects term sets.
func (a *matchAccumulator) toResult() *SemanticRefSearchResult {
	r := &SemanticRefSearchResult{}
	termSet := make(map[string]struct{})
	for ordinal, m := range a.matches {
		r.SemanticRefMatches = append(r.SemanticRefMatches, ScoredSemanticRefOrdinal{
			SemanticRefOrdinal: ordinal,
			Score:              m.score,
		})
		for t := range m.terms {
			termSet[t] = struct{}{}
		}
	}
	sort.Slice(r.SemanticRefMatches, func(i, j int) bool {
		if r.SemanticRefMatches[i].Score != r.SemanticRefMatches[j].Score {
			return r.SemanticRefMatches[i].Score > r.SemanticRefMatches[j].Score
		}
		return r.SemanticRefMatches[i].SemanticRefOrdinal < r.SemanticRefMatches[j].SemanticRefOrdinal
	})
	for t := range termSet {
		r.TermMatches = append(r.TermMatches, t)
	}
	sort.Strings(r.TermMatches)
	return r
}

// ============================================================================
// WhenFilter Scoping
// ============================================================================

// queryScope is the resolved post-filter state for one evaluation.
type queryScope struct {
	when          *WhenFilter
	rangesInScope []TextRange
	hasRanges     bool
}

// resolveScope evaluates the scope-defining sub-queries of the filter
// into concrete text ranges.
func resolveScope(ec *evalContext, when *WhenFilter) (*queryScope, error) {
	s := &queryScope{when: when}
	if when == nil {
		return s, nil
	}
	if len(when.TextRangesInScope) > 0 {
		s.hasRanges = true
		s.rangesInScope = append(s.rangesInScope, when.TextRangesInScope...)
	}
	for _, tag := range when.Tags {
		s.hasRanges = true
		for _, p := range ec.propIndex.Lookup(PropertyTag, tag) {
			if ref, ok, err := ec.refs.Get(p.SemanticRefOrdinal); err != nil {
				return nil, &StorageError{Op: "get semantic ref", Err: err}
			} else if ok {
				s.rangesInScope = append(s.rangesInScope, ref.Range)
			}
		}
	}
	if when.TagMatchingTerms != nil {
		s.hasRanges = true
		ranges, err := subQueryRanges(ec, when.TagMatchingTerms, true)
		if err != nil {
			return nil, err
		}
		s.rangesInScope = append(s.rangesInScope, ranges...)
	}
	if when.ScopeDefiningTerms != nil {
		s.hasRanges = true
		ranges, err := subQueryRanges(ec, when.ScopeDefiningTerms, false)
		if err != nil {
			return nil, err
		}
		s.rangesInScope = append(s.rangesInScope, ranges...)
	}
	return s, nil
}

// subQueryRanges evaluates a nested term group and returns the text
// ranges of its matches. tagsOnly restricts matches to tag refs.
func subQueryRanges(ec *evalContext, group *SearchTermGroup, tagsOnly bool) ([]TextRange, error) {
	expr, err := compileGroup(group, "scope")
	if err != nil {
		return nil, err
	}
	var ranges []TextRange
	for ordinal := range expr.eval(ec).matches {
		ref, ok, err := ec.refs.Get(ordinal)
		if err != nil {
			return nil, &StorageError{Op: "get semantic ref", Err: err}
		}
		if !ok {
			continue
		}
		if tagsOnly && ref.KnowledgeType != KnowledgeTypeTag && ref.KnowledgeType != KnowledgeTypeStructuredTag {
			continue
		}
		// A scoping ref that covers a message scopes the whole message.
		r := ref.Range
		if r.End == nil {
			r = RangeOfMessage(r.Start.MessageOrdinal)
			end := TextLocation{MessageOrdinal: r.Start.MessageOrdinal + 1}
			r.End = &end
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// admits applies the resolved filter to one candidate ref.
func (s *queryScope) admits(ec *evalContext, ref SemanticRef) bool {
	if s.when == nil {
		return true
	}
	if s.when.KnowledgeType != "" && ref.KnowledgeType != s.when.KnowledgeType {
		return false
	}
	if s.when.DateRange != nil {
		msg, ok, err := ec.messages.Get(ref.Range.Start.MessageOrdinal)
		if err != nil || !ok {
			return false
		}
		when, ok := msg.Time()
		if !ok || !s.when.DateRange.Contains(when) {
			return false
		}
	}
	if s.hasRanges {
		inScope := false
		for _, r := range s.rangesInScope {
			if r.Intersects(ref.Range) {
				inScope = true
				break
			}
		}
		if !inScope {
			return false
		}
	}
	return true
}
