package mso

import (
	"fmt"

	"github.com/mstrYoda/msographdb/expr"
)

// familyProvider implements C2 (spec.md §4.2): it produces the family of
// vertex subsets a subset-domain quantifier ranges over, memoized for the
// lifetime of a single query (spec.md §3, "Lifecycle").
type familyProvider struct {
	g       Graph
	maxPowerSetVertices int
	memo    map[FamilyMode][][]expr.VertexID
}

func newFamilyProvider(g Graph, maxPowerSetVertices int) *familyProvider {
	return &familyProvider{g: g, maxPowerSetVertices: maxPowerSetVertices, memo: make(map[FamilyMode][][]expr.VertexID)}
}

// visit is called once per candidate subset. Returning false stops
// enumeration early (short-circuit support for decision mode).
type visitFn func(set []expr.VertexID) (cont bool)

// forEach enumerates the family selected by sel over the given vertex
// domain, calling visit for each candidate subset until visit returns
// false or the family is exhausted.
func (f *familyProvider) forEach(sel FamilySelector, domain []expr.VertexID, visit visitFn) error {
	switch sel.Mode {
	case FamilyPowerSet:
		if f.maxPowerSetVertices > 0 && len(domain) > f.maxPowerSetVertices {
			return ErrOverLimit
		}
		return powerSet(domain, visit)

	case FamilyWCC:
		sets, err := f.cached(sel.Mode, f.g.ComponentsWeak)
		if err != nil {
			return err
		}
		return visitAll(sets, visit)

	case FamilySCC:
		sets, err := f.cached(sel.Mode, f.g.ComponentsStrong)
		if err != nil {
			return err
		}
		return visitAll(sets, visit)

	case FamilyCommunity:
		sets, err := f.cached(sel.Mode, f.g.Communities)
		if err != nil {
			return err
		}
		return visitAll(sets, visit)

	case FamilyBFS:
		reachable, err := f.g.BFSReachable(sel.Seed)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		visit(reachable)
		return nil

	default:
		return fmt.Errorf("%w: unknown candidate family mode %q", ErrPlanInvalid, sel.Mode)
	}
}

func (f *familyProvider) cached(mode FamilyMode, compute func() ([][]expr.VertexID, error)) ([][]expr.VertexID, error) {
	if sets, ok := f.memo[mode]; ok {
		return sets, nil
	}
	sets, err := compute()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	f.memo[mode] = sets
	return sets, nil
}

func visitAll(sets [][]expr.VertexID, visit visitFn) error {
	for _, s := range sets {
		if !visit(s) {
			return nil
		}
	}
	return nil
}

// powerSet performs the depth-first inclusion/exclusion walk of spec.md
// §4.2/§9: candidates are yielded on the way out so the full 2^|V| family
// is never materialized at once. Grounded on the original
// GroovyGremlinQueryExecutor's enumerateVset/VsetQuery recursive walk.
func powerSet(domain []expr.VertexID, visit visitFn) error {
	current := make([]expr.VertexID, 0, len(domain))
	var stop bool
	var walk func(i int)
	walk = func(i int) {
		if stop {
			return
		}
		if i == len(domain) {
			set := append([]expr.VertexID(nil), current...)
			if !visit(set) {
				stop = true
			}
			return
		}
		// Exclude domain[i].
		walk(i + 1)
		if stop {
			return
		}
		// Include domain[i].
		current = append(current, domain[i])
		walk(i + 1)
		current = current[:len(current)-1]
	}
	walk(0)
	return nil
}
