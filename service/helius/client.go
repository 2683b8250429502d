// Package helius is a minimal client for the Helius enhanced transactions API.
package helius

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
	"strings"
	"time"

	"github.com/brojonat/walletgraph/service/metrics"
)

// DefaultBaseURL is the Helius v0 REST endpoint.
const DefaultBaseURL = "https://api.helius.xyz/v0"

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 << 10

// Client fetches parsed transaction history from Helius.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewClient creates a Helius client. It fails with a *ConfigError if apiKey is
// empty or the placeholder, without touching the network.
func NewClient(baseURL, apiKey string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if err := ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Page returns one page of transactions for address, newest first. before is
// the signature cursor; empty requests the newest page. Records that fail to
// decode are skipped.
func (c *Client) Page(ctx context.Context, address, before string) ([]RawTransaction, error) {
	q := url.Values{}
	q.Set("api-key", c.apiKey)
	if before != "" {
		q.Set("before", before)
	}
	u := fmt.Sprintf("%s/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.DebugContext(ctx, "fetching transaction page",
		"address", address,
		"before", before,
	)

	records, err := c.do(req, "transactions")
	if err != nil {
		return nil, err
	}
	return c.decodeRecords(ctx, records), nil
}

// GetTransaction looks up a single transaction by signature. It returns
// (nil, nil) when Helius has no record of it.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*RawTransaction, error) {
	body, err := json.Marshal(map[string][]string{"transactions": {signature}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	q := url.Values{}
	q.Set("api-key", c.apiKey)
	u := fmt.Sprintf("%s/transactions?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	records, err := c.do(req, "parse_transactions")
	if err != nil {
		return nil, err
	}
	txs := c.decodeRecords(ctx, records)
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// do executes req and returns the top level JSON array of records.
func (c *Client) do(req *http.Request, endpoint string) ([]json.RawMessage, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(endpoint, 0, start)
		var ue *url.Error
		if errors.As(err, &ue) {
			// The query string carries the API key.
			ue.URL = strings.ReplaceAll(ue.URL, c.apiKey, "REDACTED")
		}
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()
	c.record(endpoint, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.WarnContext(req.Context(), "helius request failed",
			"endpoint", endpoint,
			"status", resp.StatusCode,
		)
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return records, nil
}

func (c *Client) decodeRecords(ctx context.Context, records []json.RawMessage) []RawTransaction {
	txs := make([]RawTransaction, 0, len(records))
	for i, rec := range records {
		var tx RawTransaction
		if err := json.Unmarshal(rec, &tx); err != nil {
			c.logger.WarnContext(ctx, "skipping malformed transaction record",
				"index", i,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordTransactionsFetched("malformed", 1)
			}
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func (c *Client) record(endpoint string, status int, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordHeliusRequest(endpoint, status, time.Since(start).Seconds())
	}
}
