package expr

import "fmt"

// Eval evaluates a parsed expression against a binding environment and a
// graph. Boolean composition (||, &&, !) short-circuits per spec.md §4.1.
// A Traversal leaf's error — unbound variable, wrong argument kind, or a
// graph-layer failure from g — propagates straight out of Eval rather than
// being swallowed into the null value; the caller decides what to do with
// it. mso.evalState.evalLeaf/evalAggregation are the caller that applies
// spec.md §4.1's catch_expression_errors policy, converting a propagated
// error to a false/skipped result when the policy says to catch, and
// letting it through otherwise.
func Eval(e Expr, env Env, g Graph) (Value, error) {
	switch n := e.(type) {
	case OrExpr:
		l, err := Eval(n.Left, env, g)
		if err != nil {
			return Value{}, err
		}
		if l.Truthy() {
			return Value{Kind: KBool, Bool: true}, nil
		}
		r, err := Eval(n.Right, env, g)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KBool, Bool: r.Truthy()}, nil

	case AndExpr:
		l, err := Eval(n.Left, env, g)
		if err != nil {
			return Value{}, err
		}
		if !l.Truthy() {
			return Value{Kind: KBool, Bool: false}, nil
		}
		r, err := Eval(n.Right, env, g)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KBool, Bool: r.Truthy()}, nil

	case NotExpr:
		x, err := Eval(n.X, env, g)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KBool, Bool: !x.Truthy()}, nil

	case BoolLit:
		return Value{Kind: KBool, Bool: n.Value}, nil

	case Traversal:
		return runTraversal(n, env, g)

	default:
		return Value{}, fmt.Errorf("expr: unknown expression node %T", e)
	}
}

// item is one element flowing through a traversal chain: either a vertex or
// an edge. origin records the vertex the edge was reached from, when known
// (set by out/in/bothE), so a later otherV step can pick the far endpoint.
type item struct {
	isEdge    bool
	vid       VertexID
	edge      EdgeRef
	origin    VertexID
	originSet bool
}

func runTraversal(t Traversal, env Env, g Graph) (Value, error) {
	items, singular, err := evalAnchor(t, env, g)
	if err != nil {
		return Value{}, err
	}

	for i, s := range t.Steps {
		singular = false
		newItems, terminal, err := applyStep(s, items, env, g)
		if err != nil {
			return Value{}, err
		}
		if terminal != nil {
			if i != len(t.Steps)-1 {
				return Value{}, fmt.Errorf("expr: step %q must be the last step in a chain", s.name)
			}
			return *terminal, nil
		}
		items = newItems
	}

	return itemsToValue(items, singular), nil
}

func evalAnchor(t Traversal, env Env, g Graph) ([]item, bool, error) {
	switch t.Anchor {
	case anchorVertexVar:
		v, ok := env[t.VarName]
		if !ok {
			return nil, false, fmt.Errorf("expr: unbound variable %q", t.VarName)
		}
		switch v.Kind {
		case KVertex:
			return []item{{vid: v.Vertex}}, true, nil
		case KCollection:
			// A subset-domain binding: V(s) enumerates its members, the
			// same way V() enumerates the whole graph, so a filter or
			// aggregation body can read what a quantified subset contains
			// (spec.md §8's "collection with aggregation" scenarios).
			items := make([]item, len(v.Coll))
			for i, e := range v.Coll {
				if e.Kind != KVertex {
					return nil, false, fmt.Errorf("expr: V(%s) subset binding contains a non-vertex element", t.VarName)
				}
				items[i] = item{vid: e.Vertex}
			}
			return items, false, nil
		default:
			return nil, false, fmt.Errorf("expr: V(%s) requires a vertex or subset binding", t.VarName)
		}

	case anchorAllVertices:
		ids, err := g.Vertices()
		if err != nil {
			return nil, false, err
		}
		items := make([]item, len(ids))
		for i, id := range ids {
			items[i] = item{vid: id}
		}
		return items, false, nil

	case anchorAllEdges:
		edges, err := g.Edges()
		if err != nil {
			return nil, false, err
		}
		items := make([]item, len(edges))
		for i, e := range edges {
			items[i] = item{isEdge: true, edge: e}
		}
		return items, false, nil

	default:
		return nil, false, fmt.Errorf("expr: unknown anchor kind")
	}
}

// applyStep runs a single traversal step over the current items. If the
// step is a terminal (scalar-producing) step, terminal is non-nil and
// items processing stops.
func applyStep(s step, items []item, env Env, g Graph) ([]item, *Value, error) {
	switch s.name {
	case "out":
		return stepAdjacentVertices(items, s, g, false, true)
	case "in":
		// .in(varname), with a bound vertex-set or vertex argument, is the
		// monadic membership test v ∈ X rather than incoming-edge traversal
		// — distinguished from the label-argument form (.in() / .in("label"))
		// by the argument being an identifier instead of a string.
		if len(s.args) == 1 && s.args[0].isIdent {
			return stepMembership(items, s.args[0].ident, env)
		}
		return stepAdjacentVertices(items, s, g, false, false)
	case "bothE":
		label, err := optionalLabelArg(s.args)
		if err != nil {
			return nil, nil, err
		}
		var out []item
		for _, it := range items {
			if it.isEdge {
				continue
			}
			oe, err := g.OutEdges(it.vid, label)
			if err != nil {
				return nil, nil, err
			}
			for _, e := range oe {
				out = append(out, item{isEdge: true, edge: e, origin: it.vid, originSet: true})
			}
			ie, err := g.InEdges(it.vid, label)
			if err != nil {
				return nil, nil, err
			}
			for _, e := range ie {
				out = append(out, item{isEdge: true, edge: e, origin: it.vid, originSet: true})
			}
		}
		return out, nil, nil

	case "outV":
		var out []item
		for _, it := range items {
			if !it.isEdge {
				continue
			}
			out = append(out, item{vid: it.edge.From})
		}
		return out, nil, nil

	case "inV":
		var out []item
		for _, it := range items {
			if !it.isEdge {
				continue
			}
			out = append(out, item{vid: it.edge.To})
		}
		return out, nil, nil

	case "otherV":
		var out []item
		for _, it := range items {
			if !it.isEdge {
				continue
			}
			if it.originSet {
				if it.origin == it.edge.From {
					out = append(out, item{vid: it.edge.To})
				} else {
					out = append(out, item{vid: it.edge.From})
				}
				continue
			}
			// No known origin (edge came from E()) — both endpoints are candidates.
			out = append(out, item{vid: it.edge.From}, item{vid: it.edge.To})
		}
		return out, nil, nil

	case "has":
		if len(s.args) != 2 {
			return nil, nil, fmt.Errorf("expr: has(key, value) requires 2 arguments")
		}
		key := s.args[0].ident
		if key == "" {
			key = s.args[0].str
		}
		want, err := resolveArgValue(s.args[1], env)
		if err != nil {
			return nil, nil, err
		}
		var out []item
		for _, it := range items {
			var val interface{}
			var ok bool
			if it.isEdge {
				val, ok = g.EdgeAttr(it.edge.ID, key)
			} else {
				val, ok = g.VertexAttr(it.vid, key)
			}
			if ok && valuesEqual(val, want) {
				out = append(out, it)
			}
		}
		return out, nil, nil

	case "hasLabel":
		if len(s.args) != 1 {
			return nil, nil, fmt.Errorf("expr: hasLabel(label) requires 1 argument")
		}
		label := s.args[0].str
		var out []item
		for _, it := range items {
			l := it.edge.Label
			if !it.isEdge {
				l = g.VertexLabel(it.vid)
			}
			if l == label {
				out = append(out, it)
			}
		}
		return out, nil, nil

	case "is":
		if len(s.args) != 1 || !s.args[0].isIdent {
			return nil, nil, fmt.Errorf("expr: is(x) requires a variable argument")
		}
		bound, ok := env[s.args[0].ident]
		if !ok || bound.Kind != KVertex {
			return nil, nil, fmt.Errorf("expr: unbound vertex variable %q in is()", s.args[0].ident)
		}
		var out []item
		for _, it := range items {
			if !it.isEdge && it.vid == bound.Vertex {
				out = append(out, it)
			}
		}
		return out, nil, nil

	case "values":
		if len(s.args) != 1 {
			return nil, nil, fmt.Errorf("expr: values(key) requires 1 argument")
		}
		key := s.args[0].ident
		if key == "" {
			key = s.args[0].str
		}
		coll := make([]Value, 0, len(items))
		for _, it := range items {
			var v interface{}
			var ok bool
			if it.isEdge {
				v, ok = g.EdgeAttr(it.edge.ID, key)
			} else {
				v, ok = g.VertexAttr(it.vid, key)
			}
			if ok {
				coll = append(coll, goValueToValue(v))
			}
		}
		result := Value{Kind: KCollection, Coll: coll}
		return nil, &result, nil

	case "count":
		result := Value{Kind: KNumber, Number: float64(len(items))}
		return nil, &result, nil

	case "atLeast":
		// A cardinality guard for aggregation predicates: the grammar has
		// no comparison operators, so "size > 1" is instead written
		// "V(s).atLeast(2)" (equivalent for integer sizes).
		if len(s.args) != 1 || !s.args[0].isNumber {
			return nil, nil, fmt.Errorf("expr: atLeast(n) requires 1 numeric argument")
		}
		result := Value{Kind: KBool, Bool: float64(len(items)) >= s.args[0].num}
		return nil, &result, nil

	case "id":
		coll := make([]Value, len(items))
		for i, it := range items {
			if it.isEdge {
				coll[i] = Value{Kind: KNumber, Number: float64(it.edge.ID)}
			} else {
				coll[i] = Value{Kind: KNumber, Number: float64(it.vid)}
			}
		}
		result := singleOrCollection(coll)
		return nil, &result, nil

	case "label":
		coll := make([]Value, len(items))
		for i, it := range items {
			l := it.edge.Label
			if !it.isEdge {
				l = g.VertexLabel(it.vid)
			}
			coll[i] = Value{Kind: KString, Str: l}
		}
		result := singleOrCollection(coll)
		return nil, &result, nil

	default:
		return nil, nil, fmt.Errorf("expr: unknown step %q", s.name)
	}
}

// stepMembership filters items down to the vertices that also appear in the
// vertex-set (or singleton-vertex) binding named varName — the monadic
// predicate v ∈ X.
func stepMembership(items []item, varName string, env Env) ([]item, *Value, error) {
	bound, ok := env[varName]
	if !ok {
		return nil, nil, fmt.Errorf("expr: unbound variable %q in in()", varName)
	}
	set := make(map[VertexID]bool)
	switch bound.Kind {
	case KVertex:
		set[bound.Vertex] = true
	case KCollection:
		for _, e := range bound.Coll {
			if e.Kind == KVertex {
				set[e.Vertex] = true
			}
		}
	default:
		return nil, nil, fmt.Errorf("expr: in(%s) requires a vertex or subset binding", varName)
	}
	var out []item
	for _, it := range items {
		if !it.isEdge && set[it.vid] {
			out = append(out, it)
		}
	}
	return out, nil, nil
}

func stepAdjacentVertices(items []item, s step, g Graph, _ bool, outgoing bool) ([]item, *Value, error) {
	label, err := optionalLabelArg(s.args)
	if err != nil {
		return nil, nil, err
	}
	var out []item
	for _, it := range items {
		if it.isEdge {
			continue
		}
		var neighbors []VertexID
		var err error
		if outgoing {
			neighbors, err = g.Out(it.vid, label)
		} else {
			neighbors, err = g.In(it.vid, label)
		}
		if err != nil {
			return nil, nil, err
		}
		for _, n := range neighbors {
			out = append(out, item{vid: n})
		}
	}
	return out, nil, nil
}

func optionalLabelArg(args []arg) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	if len(args) != 1 || !args[0].isString {
		return "", fmt.Errorf("expr: expected a single string label argument")
	}
	return args[0].str, nil
}

func resolveArgValue(a arg, env Env) (interface{}, error) {
	switch {
	case a.isString:
		return a.str, nil
	case a.isNumber:
		return a.num, nil
	case a.isIdent:
		v, ok := env[a.ident]
		if !ok {
			return nil, fmt.Errorf("expr: unbound variable %q", a.ident)
		}
		return valueToGo(v), nil
	default:
		return nil, fmt.Errorf("expr: malformed argument")
	}
}

func valueToGo(v Value) interface{} {
	switch v.Kind {
	case KBool:
		return v.Bool
	case KNumber:
		return v.Number
	case KString:
		return v.Str
	default:
		return nil
	}
}

func goValueToValue(v interface{}) Value {
	switch x := v.(type) {
	case bool:
		return Value{Kind: KBool, Bool: x}
	case string:
		return Value{Kind: KString, Str: x}
	case float64:
		return Value{Kind: KNumber, Number: x}
	case int:
		return Value{Kind: KNumber, Number: float64(x)}
	case int64:
		return Value{Kind: KNumber, Number: float64(x)}
	case nil:
		return Value{Kind: KNull}
	default:
		return Value{Kind: KNull}
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func singleOrCollection(coll []Value) Value {
	if len(coll) == 1 {
		return coll[0]
	}
	return Value{Kind: KCollection, Coll: coll}
}

func itemsToValue(items []item, singular bool) Value {
	if singular && len(items) == 1 {
		it := items[0]
		if it.isEdge {
			return Value{Kind: KEdge, Edge: it.edge.ID}
		}
		return Value{Kind: KVertex, Vertex: it.vid}
	}
	coll := make([]Value, len(items))
	for i, it := range items {
		if it.isEdge {
			coll[i] = Value{Kind: KEdge, Edge: it.edge.ID}
		} else {
			coll[i] = Value{Kind: KVertex, Vertex: it.vid}
		}
	}
	return Value{Kind: KCollection, Coll: coll}
}
