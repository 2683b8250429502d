package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// GraphOptions are the optional query parameters of a graph request. Zero
// values use the server defaults.
type GraphOptions struct {
	Days     int
	MinUSD   decimal.NullDecimal
	MaxNodes int
	Token    string
	MinTx    int
	Top      int
}

// GraphResponse is a built graph as returned by the server.
type GraphResponse struct {
	QueryID             string          `json:"query_id"`
	Address             string          `json:"address"`
	WindowDays          int             `json:"window_days"`
	Status              pipeline.Status `json:"status"`
	Message             string          `json:"message,omitempty"`
	Graph               *graph.Graph    `json:"graph"`
	TopCounterparties   []graph.Node    `json:"top_counterparties"`
	Summary             graph.Summary   `json:"summary"`
	RawTransactionCount int             `json:"raw_transaction_count"`
	TransactionCount    int             `json:"transaction_count"`
	Truncated           bool            `json:"truncated"`
	DurationMS          int64           `json:"duration_ms"`
}

// Classification is the server's view of one address.
type Classification struct {
	Address       string `json:"address"`
	Kind          string `json:"kind"`
	Name          string `json:"name,omitempty"`
	IsLikelyUser  bool   `json:"is_likely_user"`
	ExchangeLabel string `json:"exchange_label,omitempty"`
	DisplayLabel  string `json:"display_label"`
}

// JobResult is the output of a completed graph job.
type JobResult struct {
	Result    *pipeline.Result `json:"result"`
	Recorded  bool             `json:"recorded"`
	Published bool             `json:"published"`
	Exported  bool             `json:"exported"`
}

// Job is the state of a graph job.
type Job struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"` // running, completed, failed, unknown
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// QueryRecord is one entry of the server's query log.
type QueryRecord struct {
	ID                  string          `json:"id"`
	Address             string          `json:"address"`
	WindowDays          int             `json:"window_days"`
	Status              string          `json:"status"`
	Message             string          `json:"message,omitempty"`
	RawTransactionCount int             `json:"raw_transaction_count"`
	TransactionCount    int             `json:"transaction_count"`
	CounterpartyCount   int             `json:"counterparty_count"`
	TotalSent           decimal.Decimal `json:"total_sent"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	NetFlow             decimal.Decimal `json:"net_flow"`
	Truncated           bool            `json:"truncated"`
	Stats               graph.Stats     `json:"stats"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         time.Time       `json:"completed_at"`
	CreatedAt           time.Time       `json:"created_at"`
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the walletgraph service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// NewClient creates a new walletgraph service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// Graph builds the counterparty graph of address and waits for the result.
func (c *Client) Graph(ctx context.Context, address string, opts GraphOptions) (*GraphResponse, error) {
	u := fmt.Sprintf("%s/api/v1/graph/%s", c.baseURL, url.PathEscape(address))
	if q := opts.query().Encode(); q != "" {
		u += "?" + q
	}

	var out GraphResponse
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("graph retrieved", "address", address, "query_id", out.QueryID, "status", out.Status)
	return &out, nil
}

// StreamGraph builds the graph over the websocket endpoint, calling
// onProgress for each progress message. onProgress may be nil.
func (c *Client) StreamGraph(ctx context.Context, address string, opts GraphOptions, onProgress func(string)) (*GraphResponse, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/graph/" + url.PathEscape(address) + "/ws"
	u.RawQuery = opts.query().Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, c.parseErrorResponse(resp)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg struct {
			Type    string         `json:"type"`
			Message string         `json:"message"`
			Result  *GraphResponse `json:"result"`
			Error   string         `json:"error"`
			Status  int            `json:"status"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("websocket read failed: %w", err)
		}

		switch msg.Type {
		case "progress":
			c.logger.Debug("graph progress", "address", address, "message", msg.Message)
			if onProgress != nil {
				onProgress(msg.Message)
			}
		case "result":
			if msg.Result == nil {
				return nil, errors.New("websocket result message without a result")
			}
			return msg.Result, nil
		case "error":
			return nil, &APIError{StatusCode: msg.Status, Message: msg.Error}
		default:
			c.logger.Debug("ignoring websocket message", "type", msg.Type)
		}
	}
}

// Classify returns the classification of address.
func (c *Client) Classify(ctx context.Context, address string) (*Classification, error) {
	u := fmt.Sprintf("%s/api/v1/classify/%s", c.baseURL, url.PathEscape(address))

	var out Classification
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartJob starts a background graph job.
func (c *Client) StartJob(ctx context.Context, address string, days int, minUSD decimal.NullDecimal) (*Job, error) {
	reqBody := map[string]interface{}{
		"address":     address,
		"window_days": days,
	}
	if minUSD.Valid {
		reqBody["min_value_usd"] = minUSD.Decimal.String()
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out Job
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/jobs", body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}

	c.logger.Debug("graph job started", "address", address, "workflow_id", out.WorkflowID)
	return &out, nil
}

// GetJob returns the state of a graph job.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	u := fmt.Sprintf("%s/api/v1/jobs/%s", c.baseURL, url.PathEscape(id))

	var out Job
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwaitJob polls a job until it finishes or ctx is done.
func (c *Client) AwaitJob(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}

		c.logger.Debug("waiting for graph job", "workflow_id", id, "status", job.Status)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Queries lists the most recent logged queries. An empty address lists all.
func (c *Client) Queries(ctx context.Context, address string, limit int) ([]*QueryRecord, error) {
	q := url.Values{}
	if address != "" {
		q.Set("address", address)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.baseURL + "/api/v1/queries"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var out struct {
		Queries []*QueryRecord `json:"queries"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Queries, nil
}

// Query returns one logged query by ID.
func (c *Client) Query(ctx context.Context, id string) (*QueryRecord, error) {
	u := fmt.Sprintf("%s/api/v1/queries/%s", c.baseURL, url.PathEscape(id))

	var out QueryRecord
	if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, http.StatusOK, nil)
}

func (o GraphOptions) query() url.Values {
	q := url.Values{}
	if o.Days > 0 {
		q.Set("days", strconv.Itoa(o.Days))
	}
	if o.MinUSD.Valid {
		q.Set("min_usd", o.MinUSD.Decimal.String())
	}
	if o.MaxNodes > 0 {
		q.Set("max_nodes", strconv.Itoa(o.MaxNodes))
	}
	if o.Token != "" {
		q.Set("token", o.Token)
	}
	if o.MinTx > 0 {
		q.Set("min_tx", strconv.Itoa(o.MinTx))
	}
	if o.Top > 0 {
		q.Set("top", strconv.Itoa(o.Top))
	}
	return q
}

// do sends a request and decodes the response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, u string, body []byte, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
