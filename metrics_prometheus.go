package graphdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts Metrics to prometheus.Collector so a DB's
// counters can be registered with a prometheus.Registry and scraped over
// /metrics alongside the process's default Go runtime metrics.
//
// Metrics itself stays dependency-free (see metrics.go); this wrapper is the
// only place in the package that imports prometheus/client_golang.
type PrometheusCollector struct {
	m *Metrics

	queriesTotal    *prometheus.Desc
	slowQueries     *prometheus.Desc
	queryErrors     *prometheus.Desc
	queryDurSum     *prometheus.Desc
	queryDurMax     *prometheus.Desc
	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	nodesCreated    *prometheus.Desc
	nodesDeleted    *prometheus.Desc
	edgesCreated    *prometheus.Desc
	edgesDeleted    *prometheus.Desc
	indexLookups    *prometheus.Desc
	bloomNegatives  *prometheus.Desc
	nodeCacheUsed   *prometheus.Desc
	nodeCacheBudget *prometheus.Desc
	nodesCurrent    *prometheus.Desc
	edgesCurrent    *prometheus.Desc
}

// NewPrometheusCollector wraps db's Metrics for registration with a
// prometheus.Registerer:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(graphdb.NewPrometheusCollector(db))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func NewPrometheusCollector(db *DB) *PrometheusCollector {
	return &PrometheusCollector{
		m:               db.metrics,
		queriesTotal:    prometheus.NewDesc("graphdb_queries_total", "Total number of second-order query executions", nil, nil),
		slowQueries:     prometheus.NewDesc("graphdb_slow_queries_total", "Total number of slow queries", nil, nil),
		queryErrors:     prometheus.NewDesc("graphdb_query_errors_total", "Total number of query errors", nil, nil),
		queryDurSum:     prometheus.NewDesc("graphdb_query_duration_microseconds_sum", "Cumulative query duration in microseconds", nil, nil),
		queryDurMax:     prometheus.NewDesc("graphdb_query_duration_microseconds_max", "Maximum observed query duration in microseconds", nil, nil),
		cacheHits:       prometheus.NewDesc("graphdb_cache_hits_total", "Total query cache hits", nil, nil),
		cacheMisses:     prometheus.NewDesc("graphdb_cache_misses_total", "Total query cache misses", nil, nil),
		nodesCreated:    prometheus.NewDesc("graphdb_nodes_created_total", "Total nodes created", nil, nil),
		nodesDeleted:    prometheus.NewDesc("graphdb_nodes_deleted_total", "Total nodes deleted", nil, nil),
		edgesCreated:    prometheus.NewDesc("graphdb_edges_created_total", "Total edges created", nil, nil),
		edgesDeleted:    prometheus.NewDesc("graphdb_edges_deleted_total", "Total edges deleted", nil, nil),
		indexLookups:    prometheus.NewDesc("graphdb_index_lookups_total", "Total index lookups", nil, nil),
		bloomNegatives:  prometheus.NewDesc("graphdb_bloom_negatives_total", "HasEdge calls avoided by the bloom filter", nil, nil),
		nodeCacheUsed:   prometheus.NewDesc("graphdb_node_cache_bytes_used", "Current bytes used by the node cache", nil, nil),
		nodeCacheBudget: prometheus.NewDesc("graphdb_node_cache_budget_bytes", "Node cache budget in bytes", nil, nil),
		nodesCurrent:    prometheus.NewDesc("graphdb_nodes_current", "Current number of nodes", nil, nil),
		edgesCurrent:    prometheus.NewDesc("graphdb_edges_current", "Current number of edges", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queriesTotal
	ch <- c.slowQueries
	ch <- c.queryErrors
	ch <- c.queryDurSum
	ch <- c.queryDurMax
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.nodesCreated
	ch <- c.nodesDeleted
	ch <- c.edgesCreated
	ch <- c.edgesDeleted
	ch <- c.indexLookups
	ch <- c.bloomNegatives
	ch <- c.nodeCacheUsed
	ch <- c.nodeCacheBudget
	ch <- c.nodesCurrent
	ch <- c.edgesCurrent
}

// Collect implements prometheus.Collector by reading the live snapshot on
// every scrape — counters carry no state of their own between calls.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()

	counter := func(desc *prometheus.Desc, key string) {
		v, _ := snap[key].(uint64)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	gauge := func(desc *prometheus.Desc, key string) {
		var v float64
		switch n := snap[key].(type) {
		case uint64:
			v = float64(n)
		case int64:
			v = float64(n)
		case int:
			v = float64(n)
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}

	counter(c.queriesTotal, "queries_total")
	counter(c.slowQueries, "slow_queries_total")
	counter(c.queryErrors, "query_errors_total")
	counter(c.queryDurSum, "query_duration_sum_us")
	counter(c.cacheHits, "cache_hits_total")
	counter(c.cacheMisses, "cache_misses_total")
	counter(c.nodesCreated, "nodes_created_total")
	counter(c.nodesDeleted, "nodes_deleted_total")
	counter(c.edgesCreated, "edges_created_total")
	counter(c.edgesDeleted, "edges_deleted_total")
	counter(c.indexLookups, "index_lookups_total")
	counter(c.bloomNegatives, "bloom_negatives_total")

	gauge(c.queryDurMax, "query_duration_max_us")
	gauge(c.nodeCacheUsed, "node_cache_bytes_used")
	gauge(c.nodeCacheBudget, "node_cache_budget_bytes")
	gauge(c.nodesCurrent, "node_count")
	gauge(c.edgesCurrent, "edge_count")
}
