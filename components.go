package graphdb

import (
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// StronglyConnectedComponents partitions the graph's vertices into strongly
// connected components using Tarjan's algorithm. Isolated vertices form
// their own singleton component, matching ConnectedComponents' contract for
// weak connectivity.
func (db *DB) StronglyConnectedComponents() ([][]NodeID, error) {
	ids, err := db.AllNodeIDs()
	if err != nil {
		return nil, err
	}

	g := simple.NewDirectedGraph()
	for _, id := range ids {
		g.AddNode(simple.Node(int64(id)))
	}
	for _, id := range ids {
		edges, err := db.OutEdges(id)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if g.HasEdgeFromTo(int64(e.From), int64(e.To)) {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(int64(e.From)), simple.Node(int64(e.To))))
		}
	}

	sccs := topo.TarjanSCC(g)
	out := make([][]NodeID, 0, len(sccs))
	for _, scc := range sccs {
		component := make([]NodeID, 0, len(scc))
		for _, n := range scc {
			component = append(component, NodeID(n.ID()))
		}
		out = append(out, component)
	}
	return out, nil
}

// Communities partitions the graph's vertices by modularity optimization
// (the Louvain algorithm, via gonum's community.Modularize) over an undirected
// projection of the graph. Edge weight defaults to 1 for every edge; graphs
// with a numeric "weight" edge property use it instead.
func (db *DB) Communities() ([][]NodeID, error) {
	ids, err := db.AllNodeIDs()
	if err != nil {
		return nil, err
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for _, id := range ids {
		g.AddNode(simple.Node(int64(id)))
	}
	for _, id := range ids {
		edges, err := db.OutEdges(id)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if e.From == e.To {
				continue
			}
			if g.HasEdgeBetween(int64(e.From), int64(e.To)) {
				continue
			}
			weight := 1.0
			if w, ok := e.Get("weight"); ok {
				if f, ok := toFloat64(w); ok {
					weight = f
				}
			}
			g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(int64(e.From)), T: simple.Node(int64(e.To)), W: weight})
		}
	}

	reduced := community.Modularize(g, 1, nil)
	communities := reduced.Communities()
	out := make([][]NodeID, 0, len(communities))
	for _, c := range communities {
		members := make([]NodeID, 0, len(c))
		for _, n := range c {
			members = append(members, NodeID(n.ID()))
		}
		out = append(out, members)
	}
	return out, nil
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
