package mso

import (
	"log/slog"

	"github.com/mstrYoda/msographdb/expr"
)

// FamilyMode selects the candidate family a subset-domain quantifier ranges
// over (spec.md §4.2 / C2). The three structural modes (wcc, scc, community)
// mirror the CommunityType triad of the system this was distilled from.
type FamilyMode string

const (
	FamilyPowerSet  FamilyMode = "power-set"
	FamilyWCC       FamilyMode = "wcc"
	FamilySCC       FamilyMode = "scc"
	FamilyCommunity FamilyMode = "community"
	FamilyBFS       FamilyMode = "bfs"
)

// QuantKind is the logical kind of a quantifier.
type QuantKind int

const (
	Exists QuantKind = iota
	ForAll
)

// DomainKind is what a quantifier ranges over.
type DomainKind int

const (
	DomainVertex DomainKind = iota
	DomainSubset
)

// Quantifier is one element of a query plan's prefix (spec.md §3).
type Quantifier struct {
	Name   string
	Kind   QuantKind
	Domain DomainKind
}

// FamilySelector chooses the candidate family for all subset-domain
// quantifiers in a plan (spec.md §4.4: "multiple subset-domain quantifiers
// within a single plan all draw from the same family").
type FamilySelector struct {
	Mode FamilyMode
	Seed expr.VertexID // only used when Mode == FamilyBFS
}

// QueryPlan is the assembled, validated execution plan handed to the
// quantifier engine (spec.md §3, §4.4).
type QueryPlan struct {
	Prefix      []Quantifier
	FilterBody  string
	Aggregation string // optional; applied to the last subset binding before admission in collect mode
	Selector    FamilySelector
	filterExpr  expr.Expr
	aggExpr     expr.Expr
}

// Options configures an Engine, mirroring graphdb.Options's plain-struct,
// DefaultOptions() style.
type Options struct {
	// MaxPowerSetVertices bounds |V| for power-set candidate families.
	// Above this, Decide/Collect fail with ErrOverLimit.
	MaxPowerSetVertices int
	// MaxResultSubsets bounds the number of witnesses Collect may
	// accumulate before failing with ErrTooLargeResult.
	MaxResultSubsets int
	// CatchExpressionErrors, if true (default), coerces expression
	// evaluation errors to a false leaf instead of propagating them.
	CatchExpressionErrors bool
	// Logger receives an Error record for each failed evaluation and a
	// Debug record for each completed one; plan validation failures are
	// returned without being logged. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the spec-mandated defaults (spec.md §6): default
// catch_expression_errors is true; the two limits mirror graphdb.Options's
// MaxPowerSetVertices/MaxResultSubsets defaults so a storage engine and its
// MSO layer agree on limits out of the box.
func DefaultOptions() Options {
	return Options{
		MaxPowerSetVertices:   24,
		MaxResultSubsets:      100_000,
		CatchExpressionErrors: true,
	}
}
