package mso

import "github.com/mstrYoda/msographdb/expr"

// Graph is the storage-engine contract the MSO core consumes (spec.md §6),
// extended beyond expr.Graph with the structural-partition and property-map
// accessors C2 and C5 need. A concrete adapter over *graphdb.DB lives in
// the root package's mso_adapter.go so this package has no import-time
// dependency on any storage engine.
type Graph interface {
	expr.Graph

	// ComponentsWeak/ComponentsStrong/Communities partition the current
	// vertex set (spec.md §6: components_weak/components_strong/communities).
	ComponentsWeak() ([][]expr.VertexID, error)
	ComponentsStrong() ([][]expr.VertexID, error)
	Communities() ([][]expr.VertexID, error)

	// BFSReachable returns the vertices reachable from seed along any edge
	// direction (spec.md §6: bfs(seed)).
	BFSReachable(seed expr.VertexID) ([]expr.VertexID, error)

	// VertexProps/EdgeProps return the full attribute map for C5's
	// induced-subgraph presentation (spec.md §4.5).
	VertexProps(v expr.VertexID) (map[string]interface{}, bool)
	EdgeProps(e expr.EdgeID) (map[string]interface{}, bool)
	EdgeEndpoints(e expr.EdgeID) (from, to expr.VertexID, label string, ok bool)
}
