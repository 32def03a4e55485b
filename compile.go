// Query compilation.
//
// Lowers a SearchTermGroup boolean tree plus optional WhenFilter into
// an executable plan. Malformed trees fail here with a descriptive
// error; evaluation of a well-formed plan never fails on empty data.

package knowmem

import "fmt"

// CompiledQuery is an executable query plan produced by Compile.
type CompiledQuery struct {
	expr queryExpr
	when *WhenFilter
}

// Compile validates and lowers the boolean tree. A nil or empty group,
// an unknown boolean op, or an empty term text is a compile error; the
// returned error locates the offending node.
func Compile(group *SearchTermGroup, when *WhenFilter) (*CompiledQuery, error) {
	expr, err := compileGroup(group, "root")
	if err != nil {
		return nil, err
	}
	if when != nil {
		if when.TagMatchingTerms != nil {
			if _, err := compileGroup(when.TagMatchingTerms, "when.tagMatchingTerms"); err != nil {
				return nil, err
			}
		}
		if when.ScopeDefiningTerms != nil {
			if _, err := compileGroup(when.ScopeDefiningTerms, "when.scopeDefiningTerms"); err != nil {
				return nil, err
			}
		}
	}
	return &CompiledQuery{expr: expr, when: when}, nil
}

func compileGroup(group *SearchTermGroup, path string) (queryExpr, error) {
	if group == nil {
		return nil, &QueryCompileError{Path: path, Message: "nil search term group"}
	}
	if len(group.Terms) == 0 {
		return nil, &QueryCompileError{Path: path, Message: "search term group has no terms"}
	}
	children := make([]queryExpr, 0, len(group.Terms))
	for i, t := range group.Terms {
		childPath := fmt.Sprintf("%s.terms[%d]", path, i)
		child, err := compileGroupTerm(t, childPath)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	switch group.BooleanOp {
	case BooleanOpAnd:
		return &andExpr{children: children}, nil
	case BooleanOpOr:
		return &orExpr{children: children}, nil
	case BooleanOpOrMax:
		return &orMaxExpr{children: children}, nil
	default:
		return nil, &QueryCompileError{Path: path, Message: "unknown boolean op " + string(group.BooleanOp)}
	}
}

func compileGroupTerm(t SearchTermGroupTerm, path string) (queryExpr, error) {
	switch v := t.(type) {
	case SearchTerm:
		return compileSearchTerm(v, path)
	case PropertySearchTerm:
		return compilePropertyTerm(v, path)
	case *SearchTermGroup:
		return compileGroup(v, path)
	case nil:
		return nil, &QueryCompileError{Path: path, Message: "nil group term"}
	default:
		return nil, &QueryCompileError{Path: path, Message: fmt.Sprintf("unknown group term type %T", t)}
	}
}

func compileSearchTerm(st SearchTerm, path string) (queryExpr, error) {
	if normalizeTerm(st.Term.Text) == "" {
		return nil, &QueryCompileError{Path: path, Message: "empty search term"}
	}
	return &termExpr{term: st}, nil
}

func compilePropertyTerm(pt PropertySearchTerm, path string) (queryExpr, error) {
	if normalizeTerm(pt.PropertyName) == "" {
		return nil, &QueryCompileError{Path: path, Message: "empty property name"}
	}
	if normalizeTerm(pt.PropertyValue.Term.Text) == "" {
		return nil, &QueryCompileError{Path: path, Message: "empty property value"}
	}
	return &propertyExpr{term: pt}, nil
}
