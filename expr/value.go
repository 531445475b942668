package expr

// VertexID and EdgeID are opaque, uint64-based identities. graph
// implementations (see MSOView in the root package's mso_adapter.go) convert their own ID types to and
// from these at the package boundary so expr has no dependency on any
// particular storage engine.
type VertexID uint64
type EdgeID uint64

// Kind tags the dynamic type of a Value.
type Kind int

const (
	KNull Kind = iota
	KBool
	KNumber
	KString
	KVertex
	KEdge
	KCollection
)

// Value is the dynamic result of evaluating an expression or traversal
// step, per spec.md §4.1: bool, integer, float, string, vertex,
// collection-of-vertex, or null. Edge is added as a concrete Kind because
// the traversal sublanguage's E()/bothE() anchors and steps yield edges,
// not just vertices, even though the spec's Value enumeration collapses
// them under "collection".
type Value struct {
	Kind    Kind
	Bool    bool
	Number  float64
	Str     string
	Vertex  VertexID
	Edge    EdgeID
	Coll    []Value
}

// Truthy applies the coercion rule of spec.md §4.1: false, null, and empty
// collection are false; everything else — non-zero numbers, non-empty
// strings, any vertex or edge, non-empty collections, true — is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KNull:
		return false
	case KBool:
		return v.Bool
	case KNumber:
		return v.Number != 0
	case KString:
		return v.Str != ""
	case KCollection:
		return len(v.Coll) > 0
	default: // KVertex, KEdge
		return true
	}
}

// Env is the binding environment: variable name to vertex or set of vertices.
type Env map[string]Value

// NewVertexValue wraps a single vertex binding.
func NewVertexValue(id VertexID) Value { return Value{Kind: KVertex, Vertex: id} }

// NewVertexSetValue wraps a set of vertices as a collection binding, used
// for subset-domain quantifier bindings.
func NewVertexSetValue(ids []VertexID) Value {
	coll := make([]Value, len(ids))
	for i, id := range ids {
		coll[i] = NewVertexValue(id)
	}
	return Value{Kind: KCollection, Coll: coll}
}
