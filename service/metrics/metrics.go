package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Helius API Metrics
	heliusRequestsTotal   *prometheus.CounterVec
	heliusRequestDuration *prometheus.HistogramVec

	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Fetch / Extract Metrics
	fetchPagesTotal       *prometheus.CounterVec
	transactionsFetched   *prometheus.CounterVec
	transactionsRejected  *prometheus.CounterVec
	fetchTruncationsTotal prometheus.Counter
	transactionsPerGraph  prometheus.Histogram

	// Account Resolution Metrics
	accountBatchesTotal      *prometheus.CounterVec
	accountCacheLookupsTotal *prometheus.CounterVec

	// Graph Metrics
	graphsBuiltTotal      *prometheus.CounterVec
	graphBuildDuration    *prometheus.HistogramVec
	graphTransfersDropped *prometheus.CounterVec
	graphCounterparties   prometheus.Histogram

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	wsActiveConnections prometheus.Gauge

	// Sink Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
	graphExportsTotal     *prometheus.CounterVec

	// Temporal Metrics
	activityDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		heliusRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "helius_requests_total",
				Help: "Total number of Helius API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		heliusRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "helius_request_duration_seconds",
				Help:    "Duration of Helius API requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		fetchPagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_pages_total",
				Help: "Total number of transaction history pages fetched by outcome",
			},
			[]string{"status"},
		),
		transactionsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of raw transactions seen by outcome (admitted, rejected, malformed)",
			},
			[]string{"outcome"},
		),
		transactionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_rejected_total",
				Help: "Total number of transactions rejected by the transfer extractor by reason",
			},
			[]string{"reason"},
		),
		fetchTruncationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fetch_truncations_total",
				Help: "Total number of fetches stopped by the transaction cap",
			},
		),
		transactionsPerGraph: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transactions_per_graph",
				Help:    "Number of admitted transactions per graph query",
				Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000},
			},
		),
		accountBatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_info_batches_total",
				Help: "Total number of account info batches by status",
			},
			[]string{"status"},
		),
		accountCacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_info_cache_lookups_total",
				Help: "Total number of account info cache lookups by layer and result",
			},
			[]string{"layer", "result"},
		),
		graphsBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphs_built_total",
				Help: "Total number of graph queries by result status",
			},
			[]string{"status"},
		),
		graphBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graph_build_duration_seconds",
				Help:    "Duration of graph pipeline runs in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		graphTransfersDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graph_transfers_dropped_total",
				Help: "Total number of transfers dropped during aggregation by reason",
			},
			[]string{"reason"},
		),
		graphCounterparties: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graph_counterparties",
				Help:    "Number of counterparties per built graph",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
			},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		wsActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_active_connections",
				Help: "Number of open graph progress websocket connections",
			},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"subject"},
		),
		graphExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graph_exports_total",
				Help: "Total number of graph exports to the graph database by status",
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"activity", "status"},
		),
	}
}

// Helius metric helpers

// RecordHeliusRequest records a Helius API request with duration.
func (m *Metrics) RecordHeliusRequest(endpoint string, statusCode int, duration float64) {
	m.heliusRequestsTotal.WithLabelValues(endpoint, statusCodeToString(statusCode)).Inc()
	m.heliusRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Fetch metric helpers

// RecordFetchPage records one page request ("success", "empty" or "error").
func (m *Metrics) RecordFetchPage(status string) {
	m.fetchPagesTotal.WithLabelValues(status).Inc()
}

// RecordTransactionsFetched records raw transactions by outcome.
func (m *Metrics) RecordTransactionsFetched(outcome string, count int) {
	m.transactionsFetched.WithLabelValues(outcome).Add(float64(count))
}

// RecordTransactionRejected records an extractor rejection.
func (m *Metrics) RecordTransactionRejected(reason string) {
	m.transactionsRejected.WithLabelValues(reason).Inc()
}

// RecordFetchTruncated records a fetch stopped by the transaction cap.
func (m *Metrics) RecordFetchTruncated() {
	m.fetchTruncationsTotal.Inc()
}

// Account resolution metric helpers

// RecordAccountBatch records an account info batch ("success" or "error").
func (m *Metrics) RecordAccountBatch(status string) {
	m.accountBatchesTotal.WithLabelValues(status).Inc()
}

// RecordAccountCacheLookup records cache hits and misses for a cache layer.
func (m *Metrics) RecordAccountCacheLookup(layer string, hits, misses int) {
	m.accountCacheLookupsTotal.WithLabelValues(layer, "hit").Add(float64(hits))
	m.accountCacheLookupsTotal.WithLabelValues(layer, "miss").Add(float64(misses))
}

// Graph metric helpers

// RecordGraphBuilt records a finished pipeline run.
func (m *Metrics) RecordGraphBuilt(status string, duration float64, transactions, counterparties int) {
	m.graphsBuiltTotal.WithLabelValues(status).Inc()
	m.graphBuildDuration.WithLabelValues(status).Observe(duration)
	if status == "error" {
		return
	}
	m.transactionsPerGraph.Observe(float64(transactions))
	m.graphCounterparties.Observe(float64(counterparties))
}

// RecordTransfersDropped records transfers dropped by an aggregation filter.
func (m *Metrics) RecordTransfersDropped(reason string, count int) {
	if count == 0 {
		return
	}
	m.graphTransfersDropped.WithLabelValues(reason).Add(float64(count))
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordWebsocketConnectionChange records a change in open websocket count.
func (m *Metrics) RecordWebsocketConnectionChange(delta float64) {
	m.wsActiveConnections.Add(delta)
}

// Sink metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// RecordGraphExport records a graph database export.
func (m *Metrics) RecordGraphExport(status string) {
	m.graphExportsTotal.WithLabelValues(status).Inc()
}

// Temporal metric helpers

// RecordActivityDuration records an activity execution.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
