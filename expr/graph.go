package expr

// EdgeRef describes an edge for traversal purposes: its identity, endpoints
// and label. Attribute lookups go through Graph.EdgeAttr.
type EdgeRef struct {
	ID    EdgeID
	From  VertexID
	To    VertexID
	Label string
}

// Graph is the storage-engine contract the traversal sub-evaluator consumes
// (spec.md §6). It is intentionally narrow — vertex/edge iteration,
// adjacency, and attribute lookup — so any storage engine can be adapted to
// it without expr depending on a concrete implementation.
type Graph interface {
	Vertices() ([]VertexID, error)
	Edges() ([]EdgeRef, error)
	VertexLabel(v VertexID) string
	VertexAttr(v VertexID, key string) (interface{}, bool)
	EdgeAttr(e EdgeID, key string) (interface{}, bool)

	// Out/In return neighboring vertices; label == "" matches any label.
	Out(v VertexID, label string) ([]VertexID, error)
	In(v VertexID, label string) ([]VertexID, error)

	// OutEdges/InEdges return incident edges; label == "" matches any label.
	OutEdges(v VertexID, label string) ([]EdgeRef, error)
	InEdges(v VertexID, label string) ([]EdgeRef, error)
}
