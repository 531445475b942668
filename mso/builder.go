package mso

import (
	"fmt"

	"github.com/mstrYoda/msographdb/expr"
)

// Builder is a fluent query plan assembler (spec.md §4.4, C4), grounded on
// the original SecondOrderQueryBuilder's exist/forall/filter/execute
// vocabulary — extended with the *Set variants for subset-domain
// quantifiers and Family for the candidate-family selector.
type Builder struct {
	prefix      []Quantifier
	filterBody  string
	aggregation string
	selector    FamilySelector
	hasSelector bool
	err         error
}

// NewBuilder starts a new query plan.
func NewBuilder() *Builder { return &Builder{} }

// Exist adds a vertex-domain existential quantifier: ∃name.
func (b *Builder) Exist(name string) *Builder {
	return b.add(name, Exists, DomainVertex)
}

// ForAll adds a vertex-domain universal quantifier: ∀name.
func (b *Builder) ForAll(name string) *Builder {
	return b.add(name, ForAll, DomainVertex)
}

// ExistSet adds a subset-domain existential quantifier: ∃S ⊆ family.
func (b *Builder) ExistSet(name string) *Builder {
	return b.add(name, Exists, DomainSubset)
}

// ForAllSet adds a subset-domain universal quantifier: ∀S ⊆ family.
func (b *Builder) ForAllSet(name string) *Builder {
	return b.add(name, ForAll, DomainSubset)
}

func (b *Builder) add(name string, kind QuantKind, domain DomainKind) *Builder {
	b.prefix = append(b.prefix, Quantifier{Name: name, Kind: kind, Domain: domain})
	return b
}

// Filter sets the filter body — an opaque traversal-sublanguage expression
// evaluated at each fully-bound leaf.
func (b *Builder) Filter(body string) *Builder {
	b.filterBody = body
	return b
}

// Aggregate sets an optional aggregation predicate applied to the witness
// subset (the last subset-domain quantifier's binding) before admission in
// collection mode. The grammar has no comparison operators, so a size
// threshold is written with the atLeast step rather than "count > 1", e.g.
// "V(s).atLeast(2)" admits only witnesses of size 2 or more.
func (b *Builder) Aggregate(predicate string) *Builder {
	b.aggregation = predicate
	return b
}

// Family sets the candidate-family selector all subset-domain quantifiers
// in this plan draw from (spec.md §4.4: "all draw from the same family").
func (b *Builder) Family(mode FamilyMode, seed ...expr.VertexID) *Builder {
	sel := FamilySelector{Mode: mode}
	if len(seed) > 0 {
		sel.Seed = seed[0]
	}
	b.selector = sel
	b.hasSelector = true
	return b
}

// Build validates and returns the assembled QueryPlan: non-empty prefix,
// non-empty filter body, unique non-empty names, a filter body (and
// aggregation predicate, if set) that parses, and a Family() selector
// whenever the prefix has a subset-domain quantifier. The collection-mode
// check (last quantifier subset-domain) happens in Engine.Collect since it
// depends on which entry point the plan is executed through.
func (b *Builder) Build() (*QueryPlan, error) {
	if len(b.prefix) == 0 {
		return nil, fmt.Errorf("%w: prefix must be non-empty", ErrPlanInvalid)
	}
	if b.filterBody == "" {
		return nil, fmt.Errorf("%w: filter body must be non-empty", ErrPlanInvalid)
	}
	seen := make(map[string]bool, len(b.prefix))
	for _, q := range b.prefix {
		if q.Name == "" {
			return nil, fmt.Errorf("%w: quantifier name must be non-empty", ErrPlanInvalid)
		}
		if seen[q.Name] {
			return nil, fmt.Errorf("%w: duplicate quantifier name %q", ErrPlanInvalid, q.Name)
		}
		seen[q.Name] = true
	}

	filterExpr, err := expr.Parse(b.filterBody)
	if err != nil {
		return nil, fmt.Errorf("%w: filter body: %v", ErrPlanInvalid, err)
	}

	var aggExpr expr.Expr
	if b.aggregation != "" {
		aggExpr, err = expr.Parse(b.aggregation)
		if err != nil {
			return nil, fmt.Errorf("%w: aggregation predicate: %v", ErrPlanInvalid, err)
		}
	}

	needsSelector := false
	for _, q := range b.prefix {
		if q.Domain == DomainSubset {
			needsSelector = true
		}
	}
	if needsSelector && !b.hasSelector {
		return nil, fmt.Errorf("%w: plan has subset-domain quantifiers but no Family() selector", ErrPlanInvalid)
	}

	return &QueryPlan{
		Prefix:      append([]Quantifier(nil), b.prefix...),
		FilterBody:  b.filterBody,
		Aggregation: b.aggregation,
		Selector:    b.selector,
		filterExpr:  filterExpr,
		aggExpr:     aggExpr,
	}, nil
}
