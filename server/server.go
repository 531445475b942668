// Package server provides an HTTP/JSON API for the graphdb management UI.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	graphdb "github.com/mstrYoda/msographdb"
	"github.com/mstrYoda/msographdb/expr"
	"github.com/mstrYoda/msographdb/mso"
)

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wraps a graphdb.DB and exposes an HTTP/JSON API.
// It also serves the React SPA static files when uiDir is set.
type Server struct {
	db    *graphdb.DB
	mux   *http.ServeMux
	uiDir string // path to ui/dist (empty = API-only mode)
}

// New creates a ready-to-use Server.
func New(db *graphdb.DB, uiDir string) *Server {
	s := &Server{db: db, uiDir: uiDir}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// metricsHandler builds a dedicated registry so /metrics exposes only this
// database's counters (plus the Go/process collectors promhttp adds by
// default) instead of whatever else might be registered process-wide.
func metricsHandler(db *graphdb.DB) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(graphdb.NewPrometheusCollector(db))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler with CORS headers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		return
	}
	s.mux.ServeHTTP(w, r)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	// Stats
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.Handle("GET /metrics", metricsHandler(s.db))

	// Indexes
	s.mux.HandleFunc("GET /api/indexes", s.handleListIndexes)
	s.mux.HandleFunc("POST /api/indexes", s.handleCreateIndex)
	s.mux.HandleFunc("DELETE /api/indexes/{name}", s.handleDropIndex)
	s.mux.HandleFunc("POST /api/indexes/{name}/reindex", s.handleReIndex)

	// Second-order queries
	s.mux.HandleFunc("POST /api/mso/decide", s.handleMSODecide)
	s.mux.HandleFunc("POST /api/mso/collect", s.handleMSOCollect)
	s.mux.HandleFunc("POST /api/mso/collect/batch", s.handleMSOCollectBatch)

	// Nodes
	s.mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	s.mux.HandleFunc("GET /api/nodes/{id}", s.handleGetNode)
	s.mux.HandleFunc("GET /api/nodes/{id}/neighborhood", s.handleNodeNeighborhood)
	s.mux.HandleFunc("POST /api/nodes", s.handleCreateNode)
	s.mux.HandleFunc("DELETE /api/nodes/{id}", s.handleDeleteNode)

	// Edges
	s.mux.HandleFunc("POST /api/edges", s.handleCreateEdge)
	s.mux.HandleFunc("DELETE /api/edges/{id}", s.handleDeleteEdge)

	// SPA fallback — must be last.
	if s.uiDir != "" {
		s.mux.Handle("/", s.spaHandler())
	}
}

// ---------------------------------------------------------------------------
// SPA static file handler
// ---------------------------------------------------------------------------

func (s *Server) spaHandler() http.Handler {
	fsys := http.Dir(s.uiDir)
	fileServer := http.FileServer(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Try to open the requested path as a static file.
		p := r.URL.Path
		if p == "/" {
			http.ServeFile(w, r, filepath.Join(s.uiDir, "index.html"))
			return
		}
		f, err := fsys.Open(p)
		if err == nil {
			f.Close()
			fileServer.ServeHTTP(w, r)
			return
		}
		// Fallback: serve index.html so react-router can handle the route.
		http.ServeFile(w, r, filepath.Join(s.uiDir, "index.html"))
	})
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, stats)
}

// ---------------------------------------------------------------------------
// Indexes
// ---------------------------------------------------------------------------

func (s *Server) handleListIndexes(w http.ResponseWriter, _ *http.Request) {
	indexes := s.db.ListIndexes()
	writeJSON(w, 200, map[string]any{"indexes": indexes})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Property string `json:"property"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if req.Property == "" {
		writeError(w, 400, "property is required")
		return
	}
	if err := s.db.CreateIndex(req.Property); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, map[string]string{"status": "created", "property": req.Property})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.db.DropIndex(name); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{"status": "dropped", "property": name})
}

func (s *Server) handleReIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.db.ReIndex(name); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{"status": "reindexed", "property": name})
}

// ---------------------------------------------------------------------------
// Second-order queries
// ---------------------------------------------------------------------------

// quantifierRequest is the wire shape for one quantifier in a query plan,
// mirroring mso.Quantifier so a client can build a plan as plain JSON
// instead of driving mso.Builder in-process.
type quantifierRequest struct {
	Kind   string `json:"kind"`   // "exists" | "forall"
	Domain string `json:"domain"` // "vertex" | "subset"
	Var    string `json:"var"`
}

type familyRequest struct {
	Mode string `json:"mode"`           // "powerset" | "weak" | "strong" | "community" | "bfs"
	Seed uint64 `json:"seed,omitempty"` // vertex ID to BFS from, only for "bfs"
}

type queryRequest struct {
	Quantifiers []quantifierRequest `json:"quantifiers"`
	Family      *familyRequest      `json:"family,omitempty"`
	Filter      string              `json:"filter"`
	Aggregation string              `json:"aggregation,omitempty"`
	TimeoutMs   int                 `json:"timeout_ms,omitempty"`
}

func buildPlan(req queryRequest) (*mso.QueryPlan, error) {
	b := mso.NewBuilder()
	for _, q := range req.Quantifiers {
		switch strings.ToLower(q.Domain) {
		case "vertex":
			switch strings.ToLower(q.Kind) {
			case "exists":
				b = b.Exist(q.Var)
			case "forall":
				b = b.ForAll(q.Var)
			default:
				return nil, fmt.Errorf("unknown quantifier kind %q", q.Kind)
			}
		case "subset":
			switch strings.ToLower(q.Kind) {
			case "exists":
				b = b.ExistSet(q.Var)
			case "forall":
				b = b.ForAllSet(q.Var)
			default:
				return nil, fmt.Errorf("unknown quantifier kind %q", q.Kind)
			}
		default:
			return nil, fmt.Errorf("unknown quantifier domain %q", q.Domain)
		}
	}
	if req.Family != nil {
		mode, seed := familyMode(*req.Family)
		if mode == mso.FamilyBFS {
			b = b.Family(mode, seed)
		} else {
			b = b.Family(mode)
		}
	}
	b = b.Filter(req.Filter)
	if req.Aggregation != "" {
		b = b.Aggregate(req.Aggregation)
	}
	return b.Build()
}

func familyMode(f familyRequest) (mso.FamilyMode, expr.VertexID) {
	switch strings.ToLower(f.Mode) {
	case "weak":
		return mso.FamilyWCC, 0
	case "strong":
		return mso.FamilySCC, 0
	case "community":
		return mso.FamilyCommunity, 0
	case "bfs":
		return mso.FamilyBFS, expr.VertexID(f.Seed)
	default:
		return mso.FamilyPowerSet, 0
	}
}

func requestContext(r *http.Request, timeoutMs int) (context.Context, context.CancelFunc) {
	if timeoutMs <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), time.Duration(timeoutMs)*time.Millisecond)
}

func (s *Server) handleMSODecide(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	plan, err := buildPlan(req)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}

	ctx, cancel := requestContext(r, req.TimeoutMs)
	defer cancel()

	start := time.Now()
	result, err := s.db.Decide(ctx, plan)
	elapsed := time.Since(start)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{
		"result":       result,
		"exec_time_ms": float64(elapsed.Microseconds()) / 1000.0,
	})
}

func (s *Server) handleMSOCollect(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	plan, err := buildPlan(req)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}

	ctx, cancel := requestContext(r, req.TimeoutMs)
	defer cancel()

	result, err := s.db.Collect(ctx, plan)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 200, result)
}

// handleMSOCollectBatch runs several collection-mode plans concurrently on
// the database's worker pool (see DB.CollectMany) — useful for a dashboard
// that needs several unrelated subset queries (e.g. weakly-connected
// components AND a clique search) without paying for them sequentially.
func (s *Server) handleMSOCollectBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Queries   []queryRequest `json:"queries"`
		TimeoutMs int            `json:"timeout_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, 400, "queries must be non-empty")
		return
	}

	plans := make([]*mso.QueryPlan, len(req.Queries))
	for i, qr := range req.Queries {
		plan, err := buildPlan(qr)
		if err != nil {
			writeError(w, 400, fmt.Sprintf("queries[%d]: %v", i, err))
			return
		}
		plans[i] = plan
	}

	ctx, cancel := requestContext(r, req.TimeoutMs)
	defer cancel()

	results, errs := s.db.CollectMany(ctx, plans)

	type batchItem struct {
		Result *mso.CollectionResult `json:"result,omitempty"`
		Error  string                 `json:"error,omitempty"`
	}
	items := make([]batchItem, len(results))
	for i := range results {
		item := batchItem{Result: results[i]}
		if errs[i] != nil {
			item.Error = errs[i].Error()
		}
		items[i] = item
	}
	writeJSON(w, 200, map[string]any{"results": items})
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

type graphNode struct {
	ID    uint64         `json:"id"`
	Props map[string]any `json:"props"`
	Label string         `json:"label"`
}

type graphEdge struct {
	ID    uint64 `json:"id"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Label string `json:"label"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)

	type nodeJSON struct {
		ID    uint64         `json:"id"`
		Label string         `json:"label"`
		Props map[string]any `json:"props"`
	}

	var nodes []nodeJSON
	idx := 0
	_ = s.db.ForEachNode(func(n *graphdb.Node) error {
		if len(nodes) >= limit {
			return fmt.Errorf("stop")
		}
		if idx >= offset {
			nodes = append(nodes, nodeJSON{ID: uint64(n.ID), Label: n.Label, Props: n.Props})
		}
		idx++
		return nil
	})
	if nodes == nil {
		nodes = []nodeJSON{}
	}

	writeJSON(w, 200, map[string]any{
		"nodes":  nodes,
		"total":  s.db.NodeCount(),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid node id")
		return
	}
	node, err := s.db.GetNode(graphdb.NodeID(id))
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}
	writeJSON(w, 200, node)
}

// handleNodeNeighborhood returns a node, its edges, and all neighbor nodes
// in a single response — ideal for graph visualization.
func (s *Server) handleNodeNeighborhood(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid node id")
		return
	}

	center, err := s.db.GetNode(graphdb.NodeID(id))
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}

	allEdges, err := s.db.Edges(graphdb.NodeID(id))
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}

	edges := make([]graphEdge, 0, len(allEdges))
	neighborIDs := make(map[uint64]bool)
	for _, e := range allEdges {
		edges = append(edges, graphEdge{
			ID: uint64(e.ID), From: uint64(e.From), To: uint64(e.To), Label: e.Label,
		})
		if uint64(e.From) != id {
			neighborIDs[uint64(e.From)] = true
		}
		if uint64(e.To) != id {
			neighborIDs[uint64(e.To)] = true
		}
	}

	neighbors := make([]graphNode, 0, len(neighborIDs))
	for nid := range neighborIDs {
		n, err := s.db.GetNode(graphdb.NodeID(nid))
		if err != nil {
			neighbors = append(neighbors, graphNode{ID: nid, Props: map[string]any{}, Label: fmt.Sprintf("Node %d", nid)})
			continue
		}
		neighbors = append(neighbors, graphNode{ID: uint64(n.ID), Props: n.Props, Label: n.Label})
	}

	writeJSON(w, 200, map[string]any{
		"center":    graphNode{ID: uint64(center.ID), Props: center.Props, Label: center.Label},
		"neighbors": neighbors,
		"edges":     edges,
	})
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string         `json:"label"`
		Props map[string]any `json:"props"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	id, err := s.db.AddNode(req.Label, req.Props)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, map[string]any{"id": id})
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid node id")
		return
	}
	if err := s.db.DeleteNode(graphdb.NodeID(id)); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From  uint64         `json:"from"`
		To    uint64         `json:"to"`
		Label string         `json:"label"`
		Props map[string]any `json:"props"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid JSON body")
		return
	}
	if req.Label == "" {
		writeError(w, 400, "label is required")
		return
	}
	id, err := s.db.AddEdge(graphdb.NodeID(req.From), graphdb.NodeID(req.To), req.Label, req.Props)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, map[string]any{"id": id})
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, 400, "invalid edge id")
		return
	}
	if err := s.db.DeleteEdge(graphdb.EdgeID(id)); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// FileSize returns the on-disk size of a file, or 0 on error.
func FileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
