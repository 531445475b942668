package graphdb

import (
	"context"
	"time"

	"github.com/mstrYoda/msographdb/expr"
	"github.com/mstrYoda/msographdb/mso"
)

// MSOView adapts a *DB to expr.Graph and mso.Graph so second-order queries
// can run against the storage engine without either package importing it
// directly. NodeID/EdgeID convert to expr.VertexID/expr.EdgeID by identity —
// both are uint64-based, so the conversion is lossless in both directions.
type MSOView struct {
	db *DB
}

// NewMSOView wraps db for use with mso.Engine.
func NewMSOView(db *DB) *MSOView { return &MSOView{db: db} }

var _ mso.Graph = (*MSOView)(nil)

func (v *MSOView) Vertices() ([]expr.VertexID, error) {
	ids, err := v.db.AllNodeIDs()
	if err != nil {
		return nil, err
	}
	out := make([]expr.VertexID, len(ids))
	for i, id := range ids {
		out[i] = expr.VertexID(id)
	}
	return out, nil
}

func (v *MSOView) Edges() ([]expr.EdgeRef, error) {
	var out []expr.EdgeRef
	var cursor EdgeID
	for {
		page, err := v.db.ListEdges(cursor, 1000)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Edges {
			out = append(out, edgeToRef(e))
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

func (v *MSOView) VertexLabel(id expr.VertexID) string {
	label, err := v.db.GetLabel(NodeID(id))
	if err != nil {
		return ""
	}
	return label
}

func (v *MSOView) VertexAttr(id expr.VertexID, key string) (interface{}, bool) {
	n, err := v.db.GetNode(NodeID(id))
	if err != nil || n == nil {
		return nil, false
	}
	return n.Get(key)
}

func (v *MSOView) EdgeAttr(id expr.EdgeID, key string) (interface{}, bool) {
	e, err := v.db.GetEdge(EdgeID(id))
	if err != nil || e == nil {
		return nil, false
	}
	return e.Get(key)
}

func (v *MSOView) Out(id expr.VertexID, label string) ([]expr.VertexID, error) {
	edges, err := outEdgesLabeled(v.db, NodeID(id), label)
	if err != nil {
		return nil, err
	}
	out := make([]expr.VertexID, len(edges))
	for i, e := range edges {
		out[i] = expr.VertexID(e.To)
	}
	return out, nil
}

func (v *MSOView) In(id expr.VertexID, label string) ([]expr.VertexID, error) {
	edges, err := inEdgesLabeled(v.db, NodeID(id), label)
	if err != nil {
		return nil, err
	}
	out := make([]expr.VertexID, len(edges))
	for i, e := range edges {
		out[i] = expr.VertexID(e.From)
	}
	return out, nil
}

func (v *MSOView) OutEdges(id expr.VertexID, label string) ([]expr.EdgeRef, error) {
	edges, err := outEdgesLabeled(v.db, NodeID(id), label)
	if err != nil {
		return nil, err
	}
	return edgesToRefs(edges), nil
}

func (v *MSOView) InEdges(id expr.VertexID, label string) ([]expr.EdgeRef, error) {
	edges, err := inEdgesLabeled(v.db, NodeID(id), label)
	if err != nil {
		return nil, err
	}
	return edgesToRefs(edges), nil
}

func (v *MSOView) ComponentsWeak() ([][]expr.VertexID, error) {
	comps, err := v.db.ConnectedComponents()
	if err != nil {
		return nil, err
	}
	return componentsToVertexIDs(comps), nil
}

func (v *MSOView) ComponentsStrong() ([][]expr.VertexID, error) {
	comps, err := v.db.StronglyConnectedComponents()
	if err != nil {
		return nil, err
	}
	return componentsToVertexIDs(comps), nil
}

func (v *MSOView) Communities() ([][]expr.VertexID, error) {
	comps, err := v.db.Communities()
	if err != nil {
		return nil, err
	}
	return componentsToVertexIDs(comps), nil
}

func (v *MSOView) BFSReachable(seed expr.VertexID) ([]expr.VertexID, error) {
	results, err := v.db.BFSCollect(NodeID(seed), -1, Both)
	if err != nil {
		return nil, err
	}
	out := make([]expr.VertexID, 0, len(results)+1)
	out = append(out, seed)
	for _, r := range results {
		if expr.VertexID(r.Node.ID) == seed {
			continue
		}
		out = append(out, expr.VertexID(r.Node.ID))
	}
	return out, nil
}

func (v *MSOView) VertexProps(id expr.VertexID) (map[string]interface{}, bool) {
	n, err := v.db.GetNode(NodeID(id))
	if err != nil || n == nil {
		return nil, false
	}
	return n.Props, true
}

func (v *MSOView) EdgeProps(id expr.EdgeID) (map[string]interface{}, bool) {
	e, err := v.db.GetEdge(EdgeID(id))
	if err != nil || e == nil {
		return nil, false
	}
	return e.Props, true
}

func (v *MSOView) EdgeEndpoints(id expr.EdgeID) (from, to expr.VertexID, label string, ok bool) {
	e, err := v.db.GetEdge(EdgeID(id))
	if err != nil || e == nil {
		return 0, 0, "", false
	}
	return expr.VertexID(e.From), expr.VertexID(e.To), e.Label, true
}

func outEdgesLabeled(db *DB, id NodeID, label string) ([]*Edge, error) {
	if label == "" {
		return db.OutEdges(id)
	}
	return db.OutEdgesLabeled(id, label)
}

func inEdgesLabeled(db *DB, id NodeID, label string) ([]*Edge, error) {
	if label == "" {
		return db.InEdges(id)
	}
	return db.InEdgesLabeled(id, label)
}

func edgeToRef(e *Edge) expr.EdgeRef {
	return expr.EdgeRef{ID: expr.EdgeID(e.ID), From: expr.VertexID(e.From), To: expr.VertexID(e.To), Label: e.Label}
}

func edgesToRefs(edges []*Edge) []expr.EdgeRef {
	out := make([]expr.EdgeRef, len(edges))
	for i, e := range edges {
		out[i] = edgeToRef(e)
	}
	return out
}

func componentsToVertexIDs(comps [][]NodeID) [][]expr.VertexID {
	out := make([][]expr.VertexID, len(comps))
	for i, c := range comps {
		ids := make([]expr.VertexID, len(c))
		for j, id := range c {
			ids[j] = expr.VertexID(id)
		}
		out[i] = ids
	}
	return out
}

// NewMSOEngine builds an mso.Engine wired to db's storage, using opts (or
// mso.DefaultOptions() when the caller passes the zero value).
func NewMSOEngine(db *DB, opts mso.Options) *mso.Engine {
	if opts.MaxPowerSetVertices == 0 && opts.MaxResultSubsets == 0 {
		opts = mso.DefaultOptions()
	}
	return mso.NewEngine(NewMSOView(db), opts)
}

// Decide runs a second-order decision query against the database (spec.md
// §4.3's decide entry point). The default query timeout and slow-query/
// metrics observability that used to wrap the query engine's entry point
// apply here too: db.governor.wrapContext adds the governor's default
// deadline when the caller hasn't set one (DB.Open leaves that default at
// zero, so the caller's context is used as is), and the outcome feeds db.metrics/db.slowLog the
// same way every other read path does.
//
// Dispatch goes through db.ExecuteFunc rather than calling db.mso.Decide
// directly, so a second-order query queues on the same worker pool — and is
// subject to the same backpressure — as every other concurrent read. The
// call into the engine runs under safeExecuteResult, so a panic deep in
// quantifier recursion surfaces as ErrQueryPanic instead of taking down the
// worker goroutine.
func (db *DB) Decide(ctx context.Context, plan *mso.QueryPlan) (bool, error) {
	if db.isClosed() {
		return false, ErrReadOnly
	}
	ctx, cancel := db.governor.wrapContext(ctx)
	defer cancel()

	start := time.Now()
	values, errs := db.ExecuteFunc(ctx, func() (interface{}, error) {
		return safeExecuteResult(func() (bool, error) {
			return db.mso.Decide(ctx, plan)
		})
	})
	elapsed := time.Since(start)

	err := errs[0]
	var result bool
	if err == nil && values[0] != nil {
		result = values[0].(bool)
	}

	db.metrics.recordQueryDuration(elapsed)
	db.slowQueryCheck(plan.FilterBody, elapsed, 1)
	return result, err
}

// Collect runs a second-order collection query against the database
// (spec.md §4.3's collect entry point), dispatched through db.ExecuteFunc
// for the same pool-mediated backpressure as Decide, and recovered the same
// way with safeExecuteResult.
func (db *DB) Collect(ctx context.Context, plan *mso.QueryPlan) (*mso.CollectionResult, error) {
	if db.isClosed() {
		return nil, ErrReadOnly
	}
	ctx, cancel := db.governor.wrapContext(ctx)
	defer cancel()

	start := time.Now()
	values, errs := db.ExecuteFunc(ctx, func() (interface{}, error) {
		return safeExecuteResult(func() (*mso.CollectionResult, error) {
			return db.mso.Collect(ctx, plan)
		})
	})
	elapsed := time.Since(start)

	err := errs[0]
	var result *mso.CollectionResult
	if err == nil && values[0] != nil {
		result = values[0].(*mso.CollectionResult)
	}

	rows := 0
	if result != nil {
		rows = result.TotalCount
	}
	db.metrics.recordQueryDuration(elapsed)
	db.slowQueryCheck(plan.FilterBody, elapsed, rows)
	return result, err
}

// CollectMany runs several collection-mode plans concurrently on the worker
// pool, mirroring ConcurrentQuery.Execute's fan-out/collect pattern but for
// mso.QueryPlan instead of the fluent first-order Query — spec.md §7's
// "batch of independent second-order queries" case. Results and errors are
// returned in the same order as plans; a panic or storage failure in one
// plan does not affect the others' results.
func (db *DB) CollectMany(ctx context.Context, plans []*mso.QueryPlan) ([]*mso.CollectionResult, []error) {
	if db.isClosed() {
		errs := make([]error, len(plans))
		for i := range errs {
			errs[i] = ErrReadOnly
		}
		return make([]*mso.CollectionResult, len(plans)), errs
	}
	ctx, cancel := db.governor.wrapContext(ctx)
	defer cancel()

	fns := make([]func() (interface{}, error), len(plans))
	for i, plan := range plans {
		plan := plan
		fns[i] = func() (interface{}, error) {
			start := time.Now()
			result, err := safeExecuteResult(func() (*mso.CollectionResult, error) {
				return db.mso.Collect(ctx, plan)
			})
			elapsed := time.Since(start)
			rows := 0
			if result != nil {
				rows = result.TotalCount
			}
			db.metrics.recordQueryDuration(elapsed)
			db.slowQueryCheck(plan.FilterBody, elapsed, rows)
			return result, err
		}
	}

	values, errs := db.ExecuteFunc(ctx, fns...)
	results := make([]*mso.CollectionResult, len(values))
	for i, v := range values {
		if v != nil {
			results[i] = v.(*mso.CollectionResult)
		}
	}
	return results, errs
}
