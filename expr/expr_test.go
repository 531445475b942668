package expr

import "testing"

// fakeGraph is a tiny in-memory graph for exercising the evaluator without
// pulling in the storage engine.
type fakeGraph struct {
	labels    map[VertexID]string
	attrs     map[VertexID]map[string]interface{}
	edgeAttrs map[EdgeID]map[string]interface{}
	out       map[VertexID][]EdgeRef
	in        map[VertexID][]EdgeRef
	allV      []VertexID
	allE      []EdgeRef
}

func (g *fakeGraph) Vertices() ([]VertexID, error) { return g.allV, nil }
func (g *fakeGraph) Edges() ([]EdgeRef, error)      { return g.allE, nil }
func (g *fakeGraph) VertexLabel(v VertexID) string  { return g.labels[v] }
func (g *fakeGraph) VertexAttr(v VertexID, key string) (interface{}, bool) {
	m, ok := g.attrs[v]
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}
func (g *fakeGraph) EdgeAttr(e EdgeID, key string) (interface{}, bool) {
	m, ok := g.edgeAttrs[e]
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}
func (g *fakeGraph) Out(v VertexID, label string) ([]VertexID, error) {
	var out []VertexID
	for _, e := range g.out[v] {
		if label == "" || e.Label == label {
			out = append(out, e.To)
		}
	}
	return out, nil
}
func (g *fakeGraph) In(v VertexID, label string) ([]VertexID, error) {
	var out []VertexID
	for _, e := range g.in[v] {
		if label == "" || e.Label == label {
			out = append(out, e.From)
		}
	}
	return out, nil
}
func (g *fakeGraph) OutEdges(v VertexID, label string) ([]EdgeRef, error) {
	var out []EdgeRef
	for _, e := range g.out[v] {
		if label == "" || e.Label == label {
			out = append(out, e)
		}
	}
	return out, nil
}
func (g *fakeGraph) InEdges(v VertexID, label string) ([]EdgeRef, error) {
	var out []EdgeRef
	for _, e := range g.in[v] {
		if label == "" || e.Label == label {
			out = append(out, e)
		}
	}
	return out, nil
}

// buildCycle constructs Alice(1)->Bob(2)->Charlie(3)->Alice(1), David(4) isolated.
func buildCycle() *fakeGraph {
	g := &fakeGraph{
		labels: map[VertexID]string{1: "Person", 2: "Person", 3: "Person", 4: "Person"},
		attrs: map[VertexID]map[string]interface{}{
			1: {"name": "Alice"}, 2: {"name": "Bob"}, 3: {"name": "Charlie"}, 4: {"name": "David"},
		},
		edgeAttrs: map[EdgeID]map[string]interface{}{},
		out:       map[VertexID][]EdgeRef{},
		in:        map[VertexID][]EdgeRef{},
		allV:      []VertexID{1, 2, 3, 4},
	}
	edges := []EdgeRef{
		{ID: 100, From: 1, To: 2, Label: "knows"},
		{ID: 101, From: 2, To: 3, Label: "knows"},
		{ID: 102, From: 3, To: 1, Label: "knows"},
	}
	g.allE = edges
	for _, e := range edges {
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}
	return g
}

func evalStr(t *testing.T, src string, env Env, g Graph) Value {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("parse(%q): %v", src, err)
	}
	v, err := Eval(e, env, g)
	if err != nil {
		t.Fatalf("eval(%q): %v", src, err)
	}
	return v
}

func TestOutTraversalReachesNeighbor(t *testing.T) {
	g := buildCycle()
	env := Env{"x": NewVertexValue(1), "y": NewVertexValue(2)}
	v := evalStr(t, `V(x).out("knows").is(y)`, env, g)
	if !v.Truthy() {
		t.Fatalf("expected Alice.out(knows).is(Bob) to be truthy, got %+v", v)
	}
}

func TestOutTraversalMissesNonNeighbor(t *testing.T) {
	g := buildCycle()
	env := Env{"x": NewVertexValue(1), "y": NewVertexValue(3)}
	v := evalStr(t, `V(x).out("knows").is(y)`, env, g)
	if v.Truthy() {
		t.Fatalf("expected Alice.out(knows).is(Charlie) to be falsy, got %+v", v)
	}
}

func TestBooleanComposition(t *testing.T) {
	g := buildCycle()
	env := Env{"x": NewVertexValue(1), "y": NewVertexValue(2)}
	v := evalStr(t, `V(x).out("knows").is(y) || false`, env, g)
	if !v.Truthy() {
		t.Fatalf("expected true || false to be truthy")
	}
	v = evalStr(t, `!(V(x).out("knows").is(y))`, env, g)
	if v.Truthy() {
		t.Fatalf("expected negation of a true traversal to be falsy")
	}
}

func TestParenPrecedesAlnumIsCallParen(t *testing.T) {
	// V( is a call paren (V is alphanumeric), so this must parse as a
	// traversal, not fail as an unbalanced grouping paren.
	if _, err := Parse(`V().count() || false`); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
}

func TestHasFiltersByProperty(t *testing.T) {
	g := buildCycle()
	env := Env{}
	v := evalStr(t, `V().has("name", "Alice").count()`, env, g)
	if v.Kind != KNumber || v.Number != 1 {
		t.Fatalf("expected count 1, got %+v", v)
	}
}

func TestUnboundVariablePropagatesAsError(t *testing.T) {
	g := buildCycle()
	e, err := Parse(`V(missing).count()`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// Eval no longer swallows traversal errors into the null value — the
	// caller (mso.evalState.evalLeaf/evalAggregation) is the one place the
	// catch_expression_errors policy is applied.
	_, err = Eval(e, Env{}, g)
	if err == nil {
		t.Fatalf("expected an error for the unbound variable")
	}
}
