package mso

import (
	"fmt"
	"time"

	"github.com/mstrYoda/msographdb/expr"
)

// DecisionResult is C5's presentation of Engine.Decide's outcome (spec.md §4.5).
type DecisionResult struct {
	Kind    string `json:"kind"` // always "bool"
	Value   bool   `json:"value"`
	Elapsed time.Duration `json:"elapsed"`
}

// VertexAttrs is one vertex's presentation within an induced subgraph.
type VertexAttrs struct {
	ID    uint64                 `json:"id"`
	Label string                 `json:"label"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// EdgeAttrs is one edge's presentation within an induced subgraph.
type EdgeAttrs struct {
	ID    uint64                 `json:"id"`
	From  uint64                 `json:"from"`
	To    uint64                 `json:"to"`
	Label string                 `json:"label"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// Subset is one admitted witness, presented as an induced subgraph: every
// vertex in the witness plus every edge whose endpoints are both in it
// (spec.md §3, "Induced subgraph").
type Subset struct {
	Vertices []VertexAttrs `json:"vertices"`
	Edges    []EdgeAttrs   `json:"edges"`
	Size     int           `json:"size"`
}

// CollectionResult is C5's presentation of Engine.Collect's outcome.
type CollectionResult struct {
	Kind       string        `json:"kind"` // always "vset"
	Subsets    []Subset      `json:"subsets"`
	TotalCount int           `json:"total_count"`
	Elapsed    time.Duration `json:"elapsed"`
}

// materialize turns raw witness vertex-sets into induced subgraphs, per
// spec.md §4.5: scan each distinct vertex's incident edges once, cache the
// result, then intersect per witness — never re-scan a vertex's edges once
// it has appeared in an earlier witness.
func materialize(g Graph, witnesses [][]expr.VertexID, elapsed time.Duration) (*CollectionResult, error) {
	vertexCache := make(map[expr.VertexID]VertexAttrs)
	edgeCache := make(map[expr.VertexID][]EdgeAttrs) // vertex -> its outgoing edges, deduped at intersection time

	subsets := make([]Subset, 0, len(witnesses))
	for _, set := range witnesses {
		memberSet := make(map[expr.VertexID]bool, len(set))
		for _, v := range set {
			memberSet[v] = true
		}

		vertices := make([]VertexAttrs, 0, len(set))
		seenEdge := make(map[expr.EdgeID]bool)
		edges := make([]EdgeAttrs, 0)

		for _, v := range set {
			va, ok := vertexCache[v]
			if !ok {
				props, _ := g.VertexProps(v)
				va = VertexAttrs{ID: uint64(v), Label: g.VertexLabel(v), Props: props}
				vertexCache[v] = va
			}
			vertices = append(vertices, va)

			outs, ok := edgeCache[v]
			if !ok {
				refs, err := g.OutEdges(v, "")
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
				}
				outs = make([]EdgeAttrs, len(refs))
				for i, r := range refs {
					props, _ := g.EdgeProps(r.ID)
					outs[i] = EdgeAttrs{ID: uint64(r.ID), From: uint64(r.From), To: uint64(r.To), Label: r.Label, Props: props}
				}
				edgeCache[v] = outs
			}
			for _, ea := range outs {
				if memberSet[expr.VertexID(ea.To)] && !seenEdge[expr.EdgeID(ea.ID)] {
					seenEdge[expr.EdgeID(ea.ID)] = true
					edges = append(edges, ea)
				}
			}
		}

		subsets = append(subsets, Subset{Vertices: vertices, Edges: edges, Size: len(vertices)})
	}

	return &CollectionResult{
		Kind:       "vset",
		Subsets:    subsets,
		TotalCount: len(subsets),
		Elapsed:    elapsed,
	}, nil
}
