package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK"

func writeTestJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func testGraph() *graph.Graph {
	return &graph.Graph{
		Root: testWallet,
		Nodes: []graph.Node{
			{ID: testWallet, Address: testWallet, IsRoot: true},
			{ID: "cp1", Address: "cp1", Label: "cp1"},
		},
		Edges: []graph.Edge{{ID: "e1", Source: testWallet, Target: "cp1"}},
		Stats: graph.Stats{TotalCounterparties: 1, TotalTransactions: 2},
	}
}

func TestClient_Graph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/graph/"+testWallet, r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "7", q.Get("days"))
		assert.Equal(t, "5.5", q.Get("min_usd"))
		assert.Equal(t, "20", q.Get("max_nodes"))
		assert.Equal(t, "USDC", q.Get("token"))
		assert.Equal(t, "", q.Get("min_tx"), "zero options are omitted")

		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"query_id":          "q-1",
			"address":           testWallet,
			"window_days":       7,
			"status":            "ok",
			"graph":             testGraph(),
			"transaction_count": 2,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	resp, err := client.Graph(context.Background(), testWallet, GraphOptions{
		Days:     7,
		MinUSD:   decimal.NewNullDecimal(decimal.RequireFromString("5.5")),
		MaxNodes: 20,
		Token:    "USDC",
	})
	require.NoError(t, err)

	assert.Equal(t, "q-1", resp.QueryID)
	assert.Equal(t, pipeline.StatusOK, resp.Status)
	assert.Equal(t, 2, resp.TransactionCount)
	require.NotNil(t, resp.Graph)
	assert.Len(t, resp.Graph.Nodes, 2)
	assert.Equal(t, 1, resp.Graph.Stats.TotalCounterparties)
}

func TestClient_Graph_Error(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{
			name:        "json error body",
			status:      http.StatusBadGateway,
			body:        `{"error":"upstream indexer returned status 429"}`,
			wantMessage: "upstream indexer returned status 429",
		},
		{
			name:        "plain text body",
			status:      http.StatusInternalServerError,
			body:        "boom\n",
			wantMessage: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			_, err := client.Graph(context.Background(), testWallet, GraphOptions{})
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
		})
	}
}

func TestClient_StreamGraph(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/graph/"+testWallet+"/ws", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("days"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "progress", "message": "page 1"})
		conn.WriteJSON(map[string]string{"type": "progress", "message": "page 2"})
		conn.WriteJSON(map[string]interface{}{
			"type":   "result",
			"result": map[string]interface{}{"query_id": "q-ws", "status": "ok", "graph": testGraph()},
		})
	}))
	defer server.Close()

	var progress []string
	client := NewClient(server.URL, nil, nil)
	resp, err := client.StreamGraph(context.Background(), testWallet, GraphOptions{Days: 3}, func(msg string) {
		progress = append(progress, msg)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"page 1", "page 2"}, progress)
	assert.Equal(t, "q-ws", resp.QueryID)
	require.NotNil(t, resp.Graph)
	assert.Equal(t, testWallet, resp.Graph.Root)
}

func TestClient_StreamGraph_ErrorMessage(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteJSON(map[string]interface{}{
			"type":   "error",
			"error":  "upstream indexer request failed",
			"status": http.StatusBadGateway,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StreamGraph(context.Background(), testWallet, GraphOptions{}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream indexer request failed", apiErr.Message)
}

func TestClient_StreamGraph_RejectedUpgrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusBadRequest, map[string]string{"error": "invalid address format"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StreamGraph(context.Background(), "bad", GraphOptions{}, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid address format", apiErr.Message)
}

func TestClient_Classify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/classify/"+testWallet, r.URL.Path)
		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"address":        testWallet,
			"kind":           "exchange",
			"name":           "Binance",
			"is_likely_user": false,
			"exchange_label": "Binance Hot Wallet",
			"display_label":  "Binance Hot Wallet",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	c, err := client.Classify(context.Background(), testWallet)
	require.NoError(t, err)

	assert.Equal(t, "exchange", c.Kind)
	assert.Equal(t, "Binance", c.Name)
	assert.False(t, c.IsLikelyUser)
	assert.Equal(t, "Binance Hot Wallet", c.DisplayLabel)
}

func TestClient_StartJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testWallet, body["address"])
		assert.Equal(t, float64(14), body["window_days"])
		assert.Equal(t, "2", body["min_value_usd"])

		writeTestJSON(t, w, http.StatusAccepted, map[string]string{
			"workflow_id": "build-graph-" + testWallet + "-1",
			"run_id":      "run-1",
			"status":      "running",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	job, err := client.StartJob(context.Background(), testWallet, 14, decimal.NewNullDecimal(decimal.NewFromInt(2)))
	require.NoError(t, err)

	assert.Equal(t, "build-graph-"+testWallet+"-1", job.WorkflowID)
	assert.Equal(t, "running", job.Status)
	assert.False(t, job.Done())
}

func TestClient_StartJob_OmitsUnsetMinValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["min_value_usd"]
		assert.False(t, ok)
		writeTestJSON(t, w, http.StatusAccepted, map[string]string{"workflow_id": "wf", "status": "running"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StartJob(context.Background(), testWallet, 0, decimal.NullDecimal{})
	require.NoError(t, err)
}

func TestClient_AwaitJob(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/wf-1", r.URL.Path)
		if polls.Add(1) < 3 {
			writeTestJSON(t, w, http.StatusOK, map[string]string{"workflow_id": "wf-1", "status": "running"})
			return
		}
		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"workflow_id": "wf-1",
			"status":      "completed",
			"result": map[string]interface{}{
				"result":   map[string]interface{}{"query_id": "q-9", "status": "ok"},
				"recorded": true,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	job, err := client.AwaitJob(context.Background(), "wf-1", 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, int32(3), polls.Load())
	assert.True(t, job.Done())
	require.NotNil(t, job.Result)
	require.NotNil(t, job.Result.Result)
	assert.Equal(t, "q-9", job.Result.Result.QueryID)
	assert.True(t, job.Result.Recorded)
}

func TestClient_AwaitJob_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusOK, map[string]string{"workflow_id": "wf-1", "status": "running"})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, nil, nil)
	_, err := client.AwaitJob(ctx, "wf-1", 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_AwaitJob_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(t, w, http.StatusNotFound, map[string]string{"error": "job not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.AwaitJob(context.Background(), "missing", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")
}

func TestClient_Queries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/queries", r.URL.Path)
		assert.Equal(t, testWallet, r.URL.Query().Get("address"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))

		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"queries": []map[string]interface{}{
				{"id": "q-1", "address": testWallet, "status": "ok", "net_flow": "1.5", "counterparty_count": 4},
			},
			"count": 1,
			"limit": 5,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	queries, err := client.Queries(context.Background(), testWallet, 5)
	require.NoError(t, err)

	require.Len(t, queries, 1)
	assert.Equal(t, "q-1", queries[0].ID)
	assert.Equal(t, 4, queries[0].CounterpartyCount)
	assert.True(t, decimal.RequireFromString("1.5").Equal(queries[0].NetFlow))
}

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/queries/q-1" {
			writeTestJSON(t, w, http.StatusNotFound, map[string]string{"error": "query not found"})
			return
		}
		writeTestJSON(t, w, http.StatusOK, map[string]interface{}{
			"id": "q-1", "address": testWallet, "window_days": 30, "status": "no_transactions",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	q, err := client.Query(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, 30, q.WindowDays)
	assert.Equal(t, "no_transactions", q.Status)

	_, err = client.Query(context.Background(), "q-2")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "query not found", apiErr.Message)
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	require.NoError(t, client.Health(context.Background()))

	server.Close()
	assert.Error(t, client.Health(context.Background()))
}
