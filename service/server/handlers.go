package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/db"
	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/brojonat/walletgraph/service/temporal"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a job request
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxWindowDays      = 365
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// GraphRunner builds and delivers graph queries.
type GraphRunner interface {
	Run(ctx context.Context, req pipeline.Request, progress func(string)) (*pipeline.Result, error)
}

// QueryStore reads the graph query log.
type QueryStore interface {
	GetGraphQuery(ctx context.Context, id string) (*db.GraphQuery, error)
	ListGraphQueries(ctx context.Context, address string, limit int32) ([]*db.GraphQuery, error)
}

// viewParams are the presentation options shared by the graph endpoints.
type viewParams struct {
	MaxNodes        int
	Token           string
	MinTransactions int
	Top             int
}

// graphResponse is the JSON response format for a graph query.
type graphResponse struct {
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

// handleGetGraph returns a handler that builds a wallet's counterparty graph.
// GET /api/v1/graph/{address}?days=N&min_usd=X&max_nodes=N&token=T&min_tx=N&top=N
func handleGetGraph(runner GraphRunner, defaults viewParams, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, view, err := parseGraphRequest(r, defaults)
		if err != nil {
			logger.Debug("invalid graph request", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := runner.Run(r.Context(), req, nil)
		if err != nil {
			writePipelineError(w, err, req.Address, logger)
			return
		}

		logger.Debug("graph built", "address", req.Address, "query_id", res.QueryID, "status", res.Status)
		writeJSON(w, buildGraphResponse(res, view), http.StatusOK)
	})
}

// handleClassify returns a handler that classifies an address.
// GET /api/v1/classify/{address}
func handleClassify(classifier classify.Classifier, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result := classifier.Classify(address)
		writeJSON(w, map[string]interface{}{
			"address":        address,
			"kind":           result.Kind,
			"name":           result.Name,
			"is_likely_user": classifier.IsLikelyUserWallet(address),
			"exchange_label": exchangeLabel(result),
			"display_label":  displayLabel(address, result),
		}, http.StatusOK)
	})
}

// startJobRequest is the JSON body for starting a graph job.
type startJobRequest struct {
	Address     string              `json:"address"`
	WindowDays  int                 `json:"window_days"`
	MinValueUSD decimal.NullDecimal `json:"min_value_usd"`
}

// handleStartJob returns a handler that starts a BuildGraphWorkflow.
// POST /api/v1/jobs
func handleStartJob(jobs temporal.JobRunner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var body startJobRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(body.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateWindowDays(body.WindowDays); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.MinValueUSD.Valid && body.MinValueUSD.Decimal.IsNegative() {
			writeError(w, "min_value_usd cannot be negative", http.StatusBadRequest)
			return
		}

		status, err := jobs.StartBuildGraph(r.Context(), temporal.BuildGraphInput{
			Address:     body.Address,
			WindowDays:  body.WindowDays,
			MinValueUSD: body.MinValueUSD,
		})
		if err != nil {
			logger.Error("failed to start graph job", "address", body.Address, "error", err)
			writeError(w, "failed to start job", http.StatusInternalServerError)
			return
		}

		logger.Info("graph job started", "address", body.Address, "workflow_id", status.WorkflowID)
		writeJSON(w, status, http.StatusAccepted)
	})
}

// handleGetJob returns a handler that reports a graph job's state.
// GET /api/v1/jobs/{id}
func handleGetJob(jobs temporal.JobRunner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "job id is required", http.StatusBadRequest)
			return
		}

		status, err := jobs.GetBuildGraph(r.Context(), id)
		if err != nil {
			logger.Debug("failed to get graph job", "workflow_id", id, "error", err)
			writeError(w, "job not found", http.StatusNotFound)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

// handleListQueries returns a handler that lists logged graph queries.
// GET /api/v1/queries?address=ADDRESS&limit=N
func handleListQueries(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		address := query.Get("address")
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		// Parse limit (default 50, max 1000)
		limit := int32(50)
		if limitStr := query.Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		queries, err := store.ListGraphQueries(r.Context(), address, limit)
		if err != nil {
			logger.Error("failed to list graph queries", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if queries == nil {
			queries = []*db.GraphQuery{}
		}

		writeJSON(w, map[string]interface{}{
			"queries": queries,
			"count":   len(queries),
			"limit":   limit,
		}, http.StatusOK)
	})
}

// handleGetQuery returns a handler that retrieves one logged graph query.
// GET /api/v1/queries/{id}
func handleGetQuery(store QueryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		q, err := store.GetGraphQuery(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "query not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get graph query", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, q, http.StatusOK)
	})
}

// parseGraphRequest reads the pipeline request and view options from the
// path and query string.
func parseGraphRequest(r *http.Request, defaults viewParams) (pipeline.Request, viewParams, error) {
	req := pipeline.Request{Address: r.PathValue("address")}
	view := defaults

	if err := validateAddress(req.Address); err != nil {
		return req, view, err
	}

	query := r.URL.Query()
	var err error
	if req.WindowDays, err = intParam(query.Get("days"), 0); err != nil {
		return req, view, errorf("invalid days parameter: must be an integer")
	}
	if err := validateWindowDays(req.WindowDays); err != nil {
		return req, view, err
	}

	if s := query.Get("min_usd"); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return req, view, errorf("invalid min_usd parameter: must be a number")
		}
		if v.IsNegative() {
			return req, view, errorf("min_usd cannot be negative")
		}
		req.MinValueUSD = decimal.NewNullDecimal(v)
	}

	if view.MaxNodes, err = intParam(query.Get("max_nodes"), defaults.MaxNodes); err != nil || view.MaxNodes < 1 {
		return req, view, errorf("invalid max_nodes parameter: must be a positive integer")
	}
	if view.MinTransactions, err = intParam(query.Get("min_tx"), defaults.MinTransactions); err != nil || view.MinTransactions < 0 {
		return req, view, errorf("invalid min_tx parameter: must be a non-negative integer")
	}
	if view.Top, err = intParam(query.Get("top"), defaults.Top); err != nil || view.Top < 1 {
		return req, view, errorf("invalid top parameter: must be a positive integer")
	}
	view.Token = strings.TrimSpace(query.Get("token"))

	return req, view, nil
}

// buildGraphResponse applies the view filters and render cap to a result.
// The summary and top list describe the filtered graph before the cap.
func buildGraphResponse(res *pipeline.Result, view viewParams) graphResponse {
	resp := graphResponse{
		QueryID:             res.QueryID,
		Address:             res.Address,
		WindowDays:          res.WindowDays,
		Status:              res.Status,
		Message:             res.Message,
		RawTransactionCount: res.RawTransactionCount,
		TransactionCount:    res.TransactionCount,
		Truncated:           res.Truncated,
		DurationMS:          res.Duration().Milliseconds(),
		TopCounterparties:   []graph.Node{},
	}
	if res.Graph == nil {
		return resp
	}

	g := graph.FilterByToken(res.Graph, view.Token)
	if view.MinTransactions > 0 {
		g = graph.FilterByMinTransactions(g, view.MinTransactions)
	}

	resp.Summary = graph.Summarize(g)
	resp.TopCounterparties = graph.TopCounterparties(g, view.Top)
	resp.Graph = graph.Limit(g, view.MaxNodes)
	return resp
}

// writePipelineError writes the HTTP form of a pipeline failure.
func writePipelineError(w http.ResponseWriter, err error, address string, logger *slog.Logger) {
	code, msg := pipelineErrorStatus(err, address, logger)
	writeError(w, msg, code)
}

// pipelineErrorStatus maps pipeline failures to HTTP status codes and
// client-safe messages.
func pipelineErrorStatus(err error, address string, logger *slog.Logger) (int, string) {
	var cfgErr *helius.ConfigError
	var fetchErr *helius.FetchError

	switch {
	case errors.Is(err, fetcher.ErrEmptyAddress), errors.Is(err, fetcher.ErrInvalidWindow):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &cfgErr):
		logger.Error("service misconfigured", "error", err)
		return http.StatusInternalServerError, "service misconfigured"
	case errors.As(err, &fetchErr):
		logger.Warn("upstream fetch failed", "address", address, "status_code", fetchErr.StatusCode, "error", err)
		if fetchErr.StatusCode != 0 {
			return http.StatusBadGateway, fmt.Sprintf("upstream indexer returned status %d", fetchErr.StatusCode)
		}
		return http.StatusBadGateway, "upstream indexer request failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("graph request cancelled", "address", address, "error", err)
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		logger.Error("failed to build graph", "address", address, "error", err)
		return http.StatusInternalServerError, "internal server error"
	}
}

func exchangeLabel(result classify.Result) string {
	if result.Kind != classify.KindExchange {
		return ""
	}
	return classify.ExchangeLabel(result.Name)
}

func displayLabel(address string, result classify.Result) string {
	if label := exchangeLabel(result); label != "" {
		return label
	}
	return graph.TruncateAddress(address)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateWindowDays validates a lookback window. Zero selects the default.
func validateWindowDays(days int) error {
	if days < 0 {
		return errorf("days cannot be negative")
	}
	if days > maxWindowDays {
		return errorf("days cannot exceed %d", maxWindowDays)
	}
	return nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
