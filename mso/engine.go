package mso

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mstrYoda/msographdb/expr"
)

// Engine is the quantifier engine (spec.md §4.3, C3) plus the entry points
// that tie C1–C5 together. One Engine wraps one Graph; queries against it
// may run concurrently — all mutable state (bindings, candidate-family
// cache, accumulator) lives in a per-call evalState, never on the Engine.
type Engine struct {
	g    Graph
	opts Options
	log  *slog.Logger
}

// NewEngine constructs an Engine over the given storage adapter.
func NewEngine(g Graph, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{g: g, opts: opts, log: logger}
}

type evalState struct {
	ctx     context.Context
	eng     *Engine
	env     expr.Env
	fam     *familyProvider
	domain  []expr.VertexID
	plan    *QueryPlan
	results [][]expr.VertexID
	seen    map[string]bool // canonical member-set keys already in results
}

// canonicalSetKey gives a witness set a stable identity independent of
// enumeration order, per spec.md §3's "witness accumulation uses a
// deduplicating set keyed by the stable identity of its members."
func canonicalSetKey(set []expr.VertexID) string {
	sorted := make([]expr.VertexID, len(set))
	copy(sorted, set)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for i, v := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", v)
	}
	return b.String()
}

func (s *evalState) checkCancel() error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, s.ctx.Err())
	default:
		return nil
	}
}

// Decide implements decide(plan) → bool (spec.md §4.3).
func (e *Engine) Decide(ctx context.Context, plan *QueryPlan) (bool, error) {
	start := time.Now()
	if err := validatePlanCommon(plan); err != nil {
		return false, err
	}

	domain, err := e.g.Vertices()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	s := &evalState{
		ctx:    ctx,
		eng:    e,
		env:    expr.Env{},
		fam:    newFamilyProvider(e.g, e.opts.MaxPowerSetVertices),
		domain: domain,
		plan:   plan,
	}

	result, err := s.decide(0)
	e.logSlow("decide", start, err)
	return result, err
}

// Collect implements collect(plan) → set of vertex-sets (spec.md §4.3).
// Validation additionally requires the last quantifier to be subset-domain
// (spec.md §4.4's collection-mode selector requirement).
func (e *Engine) Collect(ctx context.Context, plan *QueryPlan) (*CollectionResult, error) {
	start := time.Now()
	if err := validatePlanCommon(plan); err != nil {
		return nil, err
	}
	last := plan.Prefix[len(plan.Prefix)-1]
	if last.Domain != DomainSubset {
		return nil, fmt.Errorf("%w: collection mode requires a subset-domain last quantifier", ErrPlanInvalid)
	}

	domain, err := e.g.Vertices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	s := &evalState{
		ctx:    ctx,
		eng:    e,
		env:    expr.Env{},
		fam:    newFamilyProvider(e.g, e.opts.MaxPowerSetVertices),
		domain: domain,
		plan:   plan,
		seen:   map[string]bool{},
	}

	if _, err := s.collect(0); err != nil {
		e.logSlow("collect", start, err)
		return nil, err
	}

	result, err := materialize(e.g, s.results, time.Since(start))
	e.logSlow("collect", start, err)
	return result, err
}

func (e *Engine) logSlow(op string, start time.Time, err error) {
	// Slow-query / error observability hook. The storage engine's own
	// slowQueryCheck/Metrics track this when Engine is wired to a
	// *graphdb.DB-backed Graph (see the root package's mso adapter); the
	// Engine itself only logs, since it has no metrics dependency of its own.
	elapsed := time.Since(start)
	if err != nil {
		e.log.Error("mso query failed", "op", op, "elapsed", elapsed, "error", err)
		return
	}
	e.log.Debug("mso query complete", "op", op, "elapsed", elapsed)
}

func validatePlanCommon(plan *QueryPlan) error {
	if plan == nil || len(plan.Prefix) == 0 {
		return fmt.Errorf("%w: prefix must be non-empty", ErrPlanInvalid)
	}
	if plan.filterExpr == nil {
		return fmt.Errorf("%w: filter body must be compiled (use Builder.Build)", ErrPlanInvalid)
	}
	return nil
}

// decide binds quantifiers idx..end in order and returns the coerced truth
// value of the filter body, per spec.md §4.3's short-circuit rules.
func (s *evalState) decide(idx int) (bool, error) {
	if err := s.checkCancel(); err != nil {
		return false, err
	}
	if idx == len(s.plan.Prefix) {
		return s.evalLeaf()
	}
	q := s.plan.Prefix[idx]

	if q.Domain == DomainVertex {
		// Vacuous quantifier laws (spec.md §9): ∃ over an empty domain is
		// false, ∀ over an empty domain is true. The loop below already
		// yields this from its zero-iteration default, asserted explicitly
		// here per the spec's correction of the source's inconsistent
		// empty-domain behavior.
		if len(s.domain) == 0 {
			return q.Kind == ForAll, nil
		}
		for _, v := range s.domain {
			s.env[q.Name] = expr.NewVertexValue(v)
			ok, err := s.decide(idx + 1)
			delete(s.env, q.Name)
			if err != nil {
				return false, err
			}
			if q.Kind == Exists && ok {
				return true, nil
			}
			if q.Kind == ForAll && !ok {
				return false, nil
			}
		}
		return q.Kind == ForAll, nil
	}

	// Subset-domain quantifier.
	found := false
	var innerErr error
	err := s.fam.forEach(s.plan.Selector, s.domain, func(set []expr.VertexID) bool {
		s.env[q.Name] = expr.NewVertexSetValue(set)
		ok, err := s.decide(idx + 1)
		delete(s.env, q.Name)
		if err != nil {
			innerErr = err
			return false
		}
		if q.Kind == Exists && ok {
			found = true
			return false // short-circuit
		}
		if q.Kind == ForAll && !ok {
			found = true // "found" doubles as "falsified" here
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	if innerErr != nil {
		return false, innerErr
	}
	if q.Kind == Exists {
		return found, nil
	}
	return !found, nil // ForAll: not falsified anywhere (vacuously true over an empty family)
}

// collect mirrors decide for every quantifier except the last (guaranteed
// subset-domain): that final quantifier never short-circuits — every
// candidate in its family is independently evaluated, and admitted to
// s.results if the filter body holds for it, per spec.md §4.3's collection
// mode rule.
func (s *evalState) collect(idx int) (bool, error) {
	if err := s.checkCancel(); err != nil {
		return false, err
	}
	q := s.plan.Prefix[idx]
	isLast := idx == len(s.plan.Prefix)-1

	if !isLast && q.Domain == DomainVertex {
		if len(s.domain) == 0 {
			return q.Kind == ForAll, nil
		}
		for _, v := range s.domain {
			s.env[q.Name] = expr.NewVertexValue(v)
			ok, err := s.collect(idx + 1)
			delete(s.env, q.Name)
			if err != nil {
				return false, err
			}
			if q.Kind == Exists && ok {
				return true, nil
			}
			if q.Kind == ForAll && !ok {
				return false, nil
			}
		}
		return q.Kind == ForAll, nil
	}

	if !isLast && q.Domain == DomainSubset {
		found := false
		var innerErr error
		err := s.fam.forEach(s.plan.Selector, s.domain, func(set []expr.VertexID) bool {
			s.env[q.Name] = expr.NewVertexSetValue(set)
			ok, err := s.collect(idx + 1)
			delete(s.env, q.Name)
			if err != nil {
				innerErr = err
				return false
			}
			if q.Kind == Exists && ok {
				found = true
				return false
			}
			if q.Kind == ForAll && !ok {
				found = true
				return false
			}
			return true
		})
		if err != nil {
			return false, err
		}
		if innerErr != nil {
			return false, innerErr
		}
		if q.Kind == Exists {
			return found, nil
		}
		return !found, nil
	}

	// Last quantifier — guaranteed subset-domain. Exhaustive: never stop early.
	anyTrue := false
	allTrue := true
	var innerErr error
	err := s.fam.forEach(s.plan.Selector, s.domain, func(set []expr.VertexID) bool {
		if cancelErr := s.checkCancel(); cancelErr != nil {
			innerErr = cancelErr
			return false
		}
		s.env[q.Name] = expr.NewVertexSetValue(set)
		ok, err := s.evalLeaf()
		if err != nil {
			delete(s.env, q.Name)
			innerErr = err
			return false
		}
		if ok {
			passesAgg, err := s.evalAggregation()
			if err != nil {
				delete(s.env, q.Name)
				innerErr = err
				return false
			}
			if passesAgg {
				anyTrue = true
				key := canonicalSetKey(set)
				if !s.seen[key] {
					if s.eng.opts.MaxResultSubsets > 0 && len(s.results) >= s.eng.opts.MaxResultSubsets {
						delete(s.env, q.Name)
						innerErr = ErrTooLargeResult
						return false
					}
					s.seen[key] = true
					s.results = append(s.results, set)
				}
			}
		} else {
			allTrue = false
		}
		delete(s.env, q.Name)
		return true // never short-circuit in collection mode
	})
	if err != nil {
		return false, err
	}
	if innerErr != nil {
		return false, innerErr
	}
	if q.Kind == Exists {
		return anyTrue, nil
	}
	return allTrue, nil
}

func (s *evalState) evalLeaf() (bool, error) {
	v, err := expr.Eval(s.plan.filterExpr, s.env, s.eng.g)
	if err != nil {
		if s.eng.opts.CatchExpressionErrors {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrExpressionError, err)
	}
	return v.Truthy(), nil
}

// evalAggregation applies the optional aggregation predicate to the last
// subset quantifier's current binding (spec.md §4.3: "applied to the
// subset-binding before admission"). With no aggregation predicate, every
// leaf-true candidate is admitted.
func (s *evalState) evalAggregation() (bool, error) {
	if s.plan.aggExpr == nil {
		return true, nil
	}
	v, err := expr.Eval(s.plan.aggExpr, s.env, s.eng.g)
	if err != nil {
		if s.eng.opts.CatchExpressionErrors {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrExpressionError, err)
	}
	return v.Truthy(), nil
}
