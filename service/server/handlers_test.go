package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/config"
	"github.com/brojonat/walletgraph/service/db"
	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/brojonat/walletgraph/service/temporal"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet   = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"
	testExchange = "5tzFkiKscXHK5ZXCGbXZxdw7gTjjD1mBwuoFbhUvuAi9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeRunner is a GraphRunner returning a canned result.
type fakeRunner struct {
	mu       sync.Mutex
	result   *pipeline.Result
	err      error
	progress []string
	requests []pipeline.Request
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request, progress func(string)) (*pipeline.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if progress != nil {
		for _, p := range f.progress {
			progress(p)
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) lastRequest(t *testing.T) pipeline.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

// fakeStore is a QueryStore backed by a slice.
type fakeStore struct {
	queries []*db.GraphQuery
	err     error

	lastAddress string
	lastLimit   int32
}

func (f *fakeStore) GetGraphQuery(ctx context.Context, id string) (*db.GraphQuery, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, q := range f.queries {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) ListGraphQueries(ctx context.Context, address string, limit int32) ([]*db.GraphQuery, error) {
	f.lastAddress, f.lastLimit = address, limit
	if f.err != nil {
		return nil, f.err
	}
	var out []*db.GraphQuery
	for _, q := range f.queries {
		if address == "" || q.Address == address {
			out = append(out, q)
		}
	}
	return out, nil
}

func counterparty(addr string, txCount int, received int64, token string) graph.Node {
	return graph.Node{
		ID:      addr,
		Address: addr,
		Label:   graph.TruncateAddress(addr),
		Stats: &graph.NodeStats{
			TotalReceived:    decimal.NewFromInt(received),
			NetFlow:          decimal.NewFromInt(received),
			TransactionCount: txCount,
			Tokens:           []graph.TokenAmount{{Key: token, Token: token, Received: decimal.NewFromInt(received)}},
			TokensInvolved:   []string{token},
		},
	}
}

// testResult builds a three-counterparty graph: A (5 tx, SOL), B (2 tx,
// USDC) and C (1 tx, SOL).
func testResult() *pipeline.Result {
	nodes := []graph.Node{
		{ID: testWallet, Address: testWallet, Label: graph.TruncateAddress(testWallet), IsRoot: true},
		counterparty("AAAAaaaa1111", 5, 10, "SOL"),
		counterparty("BBBBbbbb2222", 2, 300, "USDC"),
		counterparty("CCCCcccc3333", 1, 1, "SOL"),
	}
	var edges []graph.Edge
	for _, n := range nodes[1:] {
		edges = append(edges, graph.Edge{ID: testWallet + "-" + n.ID, Source: testWallet, Target: n.ID, Stats: *n.Stats})
	}
	g := &graph.Graph{
		Root:  testWallet,
		Nodes: nodes,
		Edges: edges,
		Stats: graph.Stats{
			TotalCounterparties: 3,
			TotalTransactions:   8,
			TotalReceived:       decimal.NewFromInt(311),
			NetFlow:             decimal.NewFromInt(311),
			TokensInvolved:      []string{"SOL", "USDC"},
		},
	}

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		QueryID:             "query-1",
		Address:             testWallet,
		WindowDays:          30,
		Status:              pipeline.StatusOK,
		Graph:               g,
		RawTransactionCount: 12,
		TransactionCount:    8,
		Pages:               1,
		StartedAt:           started,
		CompletedAt:         started.Add(1500 * time.Millisecond),
	}
}

type testDeps struct {
	runner *fakeRunner
	store  *fakeStore
	jobs   *temporal.MockJobRunner
}

func newTestHandler(t *testing.T, cfg *config.Config) (http.Handler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		runner: &fakeRunner{result: testResult()},
		store:  &fakeStore{},
		jobs:   temporal.NewMockJobRunner(),
	}
	classifier := classify.New(classify.Tables{
		Exchanges: map[string]string{testExchange: "Binance"},
	})
	srv := New(":0", cfg, deps.runner, classifier, deps.store, deps.jobs, nil, nil, testLogger())
	return srv.Handler(), deps
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeGraphResponse(t *testing.T, w *httptest.ResponseRecorder) graphResponse {
	t.Helper()
	var resp graphResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetGraph(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet+"?days=7&min_usd=2.5", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	req := deps.runner.lastRequest(t)
	assert.Equal(t, testWallet, req.Address)
	assert.Equal(t, 7, req.WindowDays)
	require.True(t, req.MinValueUSD.Valid)
	assert.True(t, decimal.RequireFromString("2.5").Equal(req.MinValueUSD.Decimal))

	resp := decodeGraphResponse(t, w)
	assert.Equal(t, "query-1", resp.QueryID)
	assert.Equal(t, pipeline.StatusOK, resp.Status)
	assert.Equal(t, 12, resp.RawTransactionCount)
	assert.Equal(t, 8, resp.TransactionCount)
	assert.Equal(t, int64(1500), resp.DurationMS)
	require.NotNil(t, resp.Graph)
	assert.Len(t, resp.Graph.Nodes, 4)
	assert.Len(t, resp.TopCounterparties, 3)
	require.NotNil(t, resp.Summary.MostFrequent)
	assert.Equal(t, "AAAAaaaa1111", resp.Summary.MostFrequent.Address)
	require.NotNil(t, resp.Summary.LargestVolume)
	assert.Equal(t, "BBBBbbbb2222", resp.Summary.LargestVolume.Address)
}

func TestGetGraph_DefaultsLeaveRequestUnset(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet, "")
	require.Equal(t, http.StatusOK, w.Code)

	req := deps.runner.lastRequest(t)
	assert.Equal(t, 0, req.WindowDays, "zero lets the pipeline apply its default window")
	assert.False(t, req.MinValueUSD.Valid)
}

func TestGetGraph_ViewFilters(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		cfg           *config.Config
		expectedNodes []string
		expectedTop   int
		expectedCount int
	}{
		{
			name:          "token filter by symbol",
			query:         "?token=usdc",
			expectedNodes: []string{testWallet, "BBBBbbbb2222"},
			expectedTop:   1,
			expectedCount: 1,
		},
		{
			name:          "minimum transaction count",
			query:         "?min_tx=2",
			expectedNodes: []string{testWallet, "AAAAaaaa1111", "BBBBbbbb2222"},
			expectedTop:   2,
			expectedCount: 2,
		},
		{
			name:          "render cap keeps full stats",
			query:         "?max_nodes=2",
			expectedNodes: []string{testWallet, "AAAAaaaa1111"},
			expectedTop:   3,
			expectedCount: 3,
		},
		{
			name:          "top limit",
			query:         "?top=1",
			expectedNodes: []string{testWallet, "AAAAaaaa1111", "BBBBbbbb2222", "CCCCcccc3333"},
			expectedTop:   1,
			expectedCount: 3,
		},
		{
			name:          "configured render cap",
			cfg:           &config.Config{MaxRenderNodes: 3},
			expectedNodes: []string{testWallet, "AAAAaaaa1111", "BBBBbbbb2222"},
			expectedTop:   3,
			expectedCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.cfg)

			w := doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			resp := decodeGraphResponse(t, w)
			require.NotNil(t, resp.Graph)
			var got []string
			for _, n := range resp.Graph.Nodes {
				got = append(got, n.Address)
			}
			assert.Equal(t, tt.expectedNodes, got)
			assert.Len(t, resp.TopCounterparties, tt.expectedTop)
			assert.Equal(t, tt.expectedCount, resp.Graph.Stats.TotalCounterparties)
			for _, e := range resp.Graph.Edges {
				assert.Contains(t, got, e.Target, "edges never point at a cut node")
			}
		})
	}
}

func TestGetGraph_EmptyResult(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	deps.runner.result = &pipeline.Result{
		QueryID: "query-2",
		Address: testWallet,
		Status:  pipeline.StatusNoTransactions,
		Message: "no transactions found in the last 30 days",
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeGraphResponse(t, w)
	assert.Equal(t, pipeline.StatusNoTransactions, resp.Status)
	assert.Equal(t, "no transactions found in the last 30 days", resp.Message)
	assert.Nil(t, resp.Graph)
	assert.NotNil(t, resp.TopCounterparties)
	assert.Empty(t, resp.TopCounterparties)
}

func TestGetGraph_PathologicalInput(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	tests := []struct {
		name          string
		target        string
		expectedError string
	}{
		{
			name:          "address too long",
			target:        "/api/v1/graph/" + strings.Repeat("A", 500),
			expectedError: "address too long",
		},
		{
			name:          "invalid base58 characters",
			target:        "/api/v1/graph/0OIl" + testWallet[4:],
			expectedError: "invalid address format",
		},
		{
			name:          "address with control characters",
			target:        "/api/v1/graph/wallet%01abc",
			expectedError: "invalid characters",
		},
		{
			name:          "non-integer days",
			target:        "/api/v1/graph/" + testWallet + "?days=abc",
			expectedError: "invalid days parameter",
		},
		{
			name:          "negative days",
			target:        "/api/v1/graph/" + testWallet + "?days=-1",
			expectedError: "days cannot be negative",
		},
		{
			name:          "days too large",
			target:        "/api/v1/graph/" + testWallet + "?days=366",
			expectedError: "days cannot exceed 365",
		},
		{
			name:          "non-numeric min_usd",
			target:        "/api/v1/graph/" + testWallet + "?min_usd=lots",
			expectedError: "invalid min_usd parameter",
		},
		{
			name:          "negative min_usd",
			target:        "/api/v1/graph/" + testWallet + "?min_usd=-2",
			expectedError: "min_usd cannot be negative",
		},
		{
			name:          "zero max_nodes",
			target:        "/api/v1/graph/" + testWallet + "?max_nodes=0",
			expectedError: "invalid max_nodes parameter",
		},
		{
			name:          "negative min_tx",
			target:        "/api/v1/graph/" + testWallet + "?min_tx=-3",
			expectedError: "invalid min_tx parameter",
		},
		{
			name:          "zero top",
			target:        "/api/v1/graph/" + testWallet + "?top=0",
			expectedError: "invalid top parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
		})
	}

	deps.runner.mu.Lock()
	defer deps.runner.mu.Unlock()
	assert.Empty(t, deps.runner.requests, "invalid requests never reach the pipeline")
}

func TestGetGraph_PipelineErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "invalid window",
			err:            fetcher.ErrInvalidWindow,
			expectedStatus: http.StatusBadRequest,
			expectedError:  fetcher.ErrInvalidWindow.Error(),
		},
		{
			name:           "missing api key",
			err:            &helius.ConfigError{Reason: "missing API key"},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "service misconfigured",
		},
		{
			name:           "upstream status",
			err:            errors.Join(errors.New("page 2"), &helius.FetchError{StatusCode: 429, Body: "slow down"}),
			expectedStatus: http.StatusBadGateway,
			expectedError:  "upstream indexer returned status 429",
		},
		{
			name:           "upstream transport failure",
			err:            &helius.FetchError{Err: errors.New("connection reset")},
			expectedStatus: http.StatusBadGateway,
			expectedError:  "upstream indexer request failed",
		},
		{
			name:           "cancelled",
			err:            context.Canceled,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "request cancelled",
		},
		{
			name:           "anything else",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := newTestHandler(t, nil)
			deps.runner.err = tt.err

			w := doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet, "")
			assert.Equal(t, tt.expectedStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedError, body["error"])
			assert.NotContains(t, w.Body.String(), "slow down", "upstream bodies are not leaked")
		})
	}
}

func TestClassify(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	tests := []struct {
		name         string
		address      string
		expectedKind classify.Kind
		expectedName string
		likelyUser   bool
		displayLabel string
	}{
		{
			name:         "exchange",
			address:      testExchange,
			expectedKind: classify.KindExchange,
			expectedName: "Binance",
			displayLabel: "Binance Hot Wallet",
		},
		{
			name:         "user wallet",
			address:      testWallet,
			expectedKind: classify.KindUser,
			likelyUser:   true,
			displayLabel: "DYw8...NSKK",
		},
		{
			name:         "program pattern",
			address:      "Vote111111111111111111111111111111111111111",
			expectedKind: classify.KindProgram,
			expectedName: "Unknown Program",
			displayLabel: "Vote...1111",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodGet, "/api/v1/classify/"+tt.address, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var body struct {
				Address      string        `json:"address"`
				Kind         classify.Kind `json:"kind"`
				Name         string        `json:"name"`
				IsLikelyUser bool          `json:"is_likely_user"`
				DisplayLabel string        `json:"display_label"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.address, body.Address)
			assert.Equal(t, tt.expectedKind, body.Kind)
			assert.Equal(t, tt.expectedName, body.Name)
			assert.Equal(t, tt.likelyUser, body.IsLikelyUser)
			assert.Equal(t, tt.displayLabel, body.DisplayLabel)
		})
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/classify/not-base58!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartJob_PathologicalInput(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	tests := []struct {
		name          string
		body          string
		expectedError string
	}{
		{
			name:          "extremely large request body",
			body:          `{"address":"` + strings.Repeat("A", 2*1024*1024) + `"}`,
			expectedError: "request body too large",
		},
		{
			name:          "malformed JSON",
			body:          `{"address":"wallet123","window_days":`,
			expectedError: "invalid request body",
		},
		{
			name:          "empty JSON object",
			body:          `{}`,
			expectedError: "address is required",
		},
		{
			name:          "address with SQL injection attempt",
			body:          `{"address":"wallet'; DROP TABLE graph_queries; --"}`,
			expectedError: "invalid address format",
		},
		{
			name:          "negative window",
			body:          `{"address":"` + testWallet + `","window_days":-5}`,
			expectedError: "days cannot be negative",
		},
		{
			name:          "negative min value",
			body:          `{"address":"` + testWallet + `","min_value_usd":"-1"}`,
			expectedError: "min_value_usd cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
		})
	}

	assert.Equal(t, 0, deps.jobs.JobCount())
}

func TestStartAndGetJob(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodPost, "/api/v1/jobs",
		`{"address":"`+testWallet+`","window_days":14,"min_value_usd":"5"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started temporal.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, temporal.JobRunning, started.Status)
	require.NotEmpty(t, started.WorkflowID)

	input, ok := deps.jobs.StartedInput(started.WorkflowID)
	require.True(t, ok)
	assert.Equal(t, testWallet, input.Address)
	assert.Equal(t, 14, input.WindowDays)
	require.True(t, input.MinValueUSD.Valid)
	assert.True(t, decimal.NewFromInt(5).Equal(input.MinValueUSD.Decimal))

	w = doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+started.WorkflowID, "")
	require.Equal(t, http.StatusOK, w.Code)

	deps.jobs.Complete(started.WorkflowID, &temporal.BuildGraphWorkflowResult{Result: testResult(), Recorded: true})
	w = doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+started.WorkflowID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var done temporal.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, temporal.JobCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Recorded)
	assert.Equal(t, "query-1", done.Result.Result.QueryID)
}

func TestJobs_Errors(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "job not found")

	deps.jobs.SetStartError(errors.New("temporal unavailable"))
	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs", `{"address":"`+testWallet+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to start job")
	assert.NotContains(t, w.Body.String(), "temporal unavailable")
}

func TestQueries(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	deps.store.queries = []*db.GraphQuery{
		{ID: "q-1", Address: testWallet, Status: "ok", CounterpartyCount: 3},
		{ID: "q-2", Address: testExchange, Status: "no_transactions"},
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/queries", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Queries []db.GraphQuery `json:"queries"`
		Count   int             `json:"count"`
		Limit   int             `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 50, list.Limit)
	assert.Equal(t, int32(50), deps.store.lastLimit)

	w = doRequest(t, h, http.MethodGet, "/api/v1/queries?address="+testWallet+"&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "q-1", list.Queries[0].ID)
	assert.Equal(t, testWallet, deps.store.lastAddress)
	assert.Equal(t, int32(10), deps.store.lastLimit)

	w = doRequest(t, h, http.MethodGet, "/api/v1/queries/q-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one db.GraphQuery
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "no_transactions", one.Status)

	w = doRequest(t, h, http.MethodGet, "/api/v1/queries/q-404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueries_EmptyListIsArray(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/queries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queries":[]`)
}

func TestQueries_PathologicalInput(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		expectedError  string
	}{
		{"non-integer limit", "/api/v1/queries?limit=ten", http.StatusBadRequest, "must be an integer"},
		{"zero limit", "/api/v1/queries?limit=0", http.StatusBadRequest, "at least 1"},
		{"limit too large", "/api/v1/queries?limit=1001", http.StatusBadRequest, "cannot exceed 1000"},
		{"bad address", "/api/v1/queries?address=0000", http.StatusBadRequest, "invalid address format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
		})
	}

	deps.store.err = errors.New("connection refused")
	w := doRequest(t, h, http.MethodGet, "/api/v1/queries", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestOptionalRoutesDisabled(t *testing.T) {
	srv := New(":0", nil, &fakeRunner{result: testResult()}, classify.New(classify.Tables{}), nil, nil, nil, nil, testLogger())
	h := srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/queries", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs", `{"address":"`+testWallet+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/graph/"+testWallet, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, deps := newTestHandler(t, nil)

	w := doRequest(t, h, http.MethodOptions, "/api/v1/graph/"+testWallet, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")

	deps.runner.mu.Lock()
	defer deps.runner.mu.Unlock()
	assert.Empty(t, deps.runner.requests)
}

func dialGraphWebsocket(t *testing.T, baseURL, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/v1/graph/" + testWallet + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGraphWebsocket(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	deps.runner.progress = []string{"fetched page 1 (100 transactions)", "resolving 3 accounts"}

	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialGraphWebsocket(t, server.URL, "?top=2")

	var messages []wsMessage
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		messages = append(messages, msg)
	}

	require.Len(t, messages, 3)
	assert.Equal(t, wsTypeProgress, messages[0].Type)
	assert.Equal(t, "fetched page 1 (100 transactions)", messages[0].Message)
	assert.Equal(t, wsTypeProgress, messages[1].Type)
	assert.Equal(t, wsTypeResult, messages[2].Type)
	require.NotNil(t, messages[2].Result)
	assert.Equal(t, "query-1", messages[2].Result.QueryID)
	assert.Len(t, messages[2].Result.TopCounterparties, 2)
}

func TestGraphWebsocket_PipelineError(t *testing.T) {
	h, deps := newTestHandler(t, nil)
	deps.runner.err = &helius.FetchError{StatusCode: 503}

	server := httptest.NewServer(h)
	defer server.Close()

	conn := dialGraphWebsocket(t, server.URL, "")

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, wsTypeError, msg.Type)
	assert.Equal(t, http.StatusBadGateway, msg.Status)
	assert.Equal(t, "upstream indexer returned status 503", msg.Error)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "unexpected error: %v", err)
}

func TestGraphWebsocket_InvalidRequest(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/graph/" + testWallet + "/ws?days=-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
