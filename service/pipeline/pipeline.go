// Package pipeline runs one counterparty graph query end to end: fetch the
// window, resolve counterparty account types, aggregate, then hand the result
// to the optional sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultWindowDays is used when a request does not set a window.
const DefaultWindowDays = 30

// Status describes whether a query produced a renderable graph.
type Status string

const (
	StatusOK               Status = "ok"
	StatusNoTransactions   Status = "no_transactions"
	StatusNoCounterparties Status = "no_counterparties"
)

const noCounterpartiesMessage = "No wallet interactions found after filtering. This wallet may only interact with programs."

// Fetcher collects the admitted transactions of an address.
type Fetcher interface {
	Fetch(ctx context.Context, address string, windowDays int, progress fetcher.ProgressFunc) (*fetcher.Result, error)
}

// Resolver looks up account types for counterparties.
type Resolver interface {
	Resolve(ctx context.Context, addrs []string, progress func(string)) (map[string]accountinfo.AccountInfo, error)
}

// QueryRecorder persists a finished query.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, res *Result) error
}

// Publisher announces a finished query.
type Publisher interface {
	PublishGraph(ctx context.Context, res *Result) error
}

// Exporter writes a graph to a graph database.
type Exporter interface {
	ExportGraph(ctx context.Context, g *graph.Graph) error
}

// Request is one graph query.
type Request struct {
	Address    string `json:"address"`
	WindowDays int    `json:"window_days"`
	// MinValueUSD overrides the configured value filter when valid.
	MinValueUSD decimal.NullDecimal `json:"min_value_usd"`
}

// Result is the outcome of a query. Graph is set for every status.
type Result struct {
	QueryID             string       `json:"query_id"`
	Address             string       `json:"address"`
	WindowDays          int          `json:"window_days"`
	Status              Status       `json:"status"`
	Message             string       `json:"message,omitempty"`
	Graph               *graph.Graph `json:"graph"`
	RawTransactionCount int          `json:"raw_transaction_count"`
	TransactionCount    int          `json:"transaction_count"`
	Pages               int          `json:"pages"`
	Truncated           bool         `json:"truncated"`
	StartedAt           time.Time    `json:"started_at"`
	CompletedAt         time.Time    `json:"completed_at"`
}

// Duration is the wall time of the query.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Config holds the Builder's dependencies. Sinks may be nil.
type Config struct {
	Fetcher           Fetcher
	Resolver          Resolver
	Classifier        classify.Classifier
	Engine            graph.Options
	DefaultWindowDays int

	Recorder  QueryRecorder
	Publisher Publisher
	Exporter  Exporter

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Builder runs graph queries. It is safe for concurrent use.
type Builder struct {
	fetcher    Fetcher
	resolver   Resolver
	classifier classify.Classifier
	engine     *graph.Engine
	engineOpts graph.Options
	windowDays int

	recorder  QueryRecorder
	publisher Publisher
	exporter  Exporter

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Classifier == nil {
		c, err := classify.NewDefault()
		if err != nil {
			return nil, fmt.Errorf("failed to load classification tables: %w", err)
		}
		cfg.Classifier = c
	}
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = DefaultWindowDays
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		fetcher:    cfg.Fetcher,
		resolver:   cfg.Resolver,
		classifier: cfg.Classifier,
		engine:     graph.NewEngine(cfg.Classifier, cfg.Engine),
		engineOpts: cfg.Engine,
		windowDays: cfg.DefaultWindowDays,
		recorder:   cfg.Recorder,
		publisher:  cfg.Publisher,
		exporter:   cfg.Exporter,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Classifier returns the classifier the Builder labels nodes with.
func (b *Builder) Classifier() classify.Classifier {
	return b.classifier
}

// Build runs the query. Empty outcomes are reported through Status, not as
// errors. progress may be nil.
func (b *Builder) Build(ctx context.Context, req Request, progress func(string)) (*Result, error) {
	if req.Address == "" {
		return nil, fetcher.ErrEmptyAddress
	}
	if req.WindowDays == 0 {
		req.WindowDays = b.windowDays
	}
	if req.WindowDays < 0 {
		return nil, fetcher.ErrInvalidWindow
	}

	res := &Result{
		QueryID:    b.newID(),
		Address:    req.Address,
		WindowDays: req.WindowDays,
		StartedAt:  b.now(),
	}
	logger := b.logger.With("query_id", res.QueryID, "address", req.Address)
	logger.InfoContext(ctx, "building graph", "window_days", req.WindowDays)

	fetched, err := b.fetcher.Fetch(ctx, req.Address, req.WindowDays, progress)
	if err != nil {
		b.finish(res, "error")
		logger.ErrorContext(ctx, "fetch failed", "error", err)
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	res.RawTransactionCount = fetched.RawCount
	res.TransactionCount = len(fetched.Transactions)
	res.Pages = fetched.Pages
	res.Truncated = fetched.Truncated

	engine := b.engineFor(req)

	if len(fetched.Transactions) == 0 {
		res.Graph = engine.Aggregate(nil, req.Address, nil)
		res.Status = StatusNoTransactions
		res.Message = fmt.Sprintf("No transactions found for this wallet in the past %d days.", req.WindowDays)
		b.finish(res, string(res.Status))
		logger.InfoContext(ctx, "no transactions in window")
		return res, nil
	}

	var counterparties []string
	for _, tx := range fetched.Transactions {
		for _, t := range tx.Transfers {
			if t.Counterparty != "" {
				counterparties = append(counterparties, t.Counterparty)
			}
		}
	}

	info, err := b.resolver.Resolve(ctx, counterparties, progress)
	if err != nil {
		b.finish(res, "error")
		return nil, fmt.Errorf("failed to resolve account info: %w", err)
	}

	if progress != nil {
		progress("Processing data...")
	}
	res.Graph = engine.Aggregate(fetched.Transactions, req.Address, info)

	res.Status = StatusOK
	if res.Graph.Stats.TotalCounterparties == 0 {
		res.Status = StatusNoCounterparties
		res.Message = noCounterpartiesMessage
	}
	b.finish(res, string(res.Status))

	if b.metrics != nil {
		b.metrics.RecordTransfersDropped("value", res.Graph.Stats.FilteredByValue)
		b.metrics.RecordTransfersDropped("account_type", res.Graph.Stats.FilteredByAccountType)
	}
	logger.InfoContext(ctx, "graph built",
		"status", res.Status,
		"transactions", res.TransactionCount,
		"counterparties", res.Graph.Stats.TotalCounterparties,
		"truncated", res.Truncated,
		"duration", res.Duration(),
	)
	return res, nil
}

// Deliver hands res to every configured sink. Sink failures are logged and
// never fail the query.
func (b *Builder) Deliver(ctx context.Context, res *Result) {
	if b.recorder != nil {
		if err := b.recorder.RecordQuery(ctx, res); err != nil {
			b.logger.WarnContext(ctx, "failed to record query", "query_id", res.QueryID, "error", err)
		}
	}
	if b.publisher != nil {
		if err := b.publisher.PublishGraph(ctx, res); err != nil {
			b.logger.WarnContext(ctx, "failed to publish graph", "query_id", res.QueryID, "error", err)
		}
	}
	if b.exporter != nil && res.Status == StatusOK {
		err := b.exporter.ExportGraph(ctx, res.Graph)
		if b.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			b.metrics.RecordGraphExport(status)
		}
		if err != nil {
			b.logger.WarnContext(ctx, "failed to export graph", "query_id", res.QueryID, "error", err)
		}
	}
}

// Run builds and delivers.
func (b *Builder) Run(ctx context.Context, req Request, progress func(string)) (*Result, error) {
	res, err := b.Build(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	b.Deliver(ctx, res)
	return res, nil
}

func (b *Builder) engineFor(req Request) *graph.Engine {
	if !req.MinValueUSD.Valid {
		return b.engine
	}
	opts := b.engineOpts
	opts.MinValueUSD = req.MinValueUSD.Decimal
	return graph.NewEngine(b.classifier, opts)
}

func (b *Builder) finish(res *Result, status string) {
	res.CompletedAt = b.now()
	if b.metrics == nil {
		return
	}
	counterparties := 0
	if res.Graph != nil {
		counterparties = res.Graph.Stats.TotalCounterparties
	}
	b.metrics.RecordGraphBuilt(status, res.Duration().Seconds(), res.TransactionCount, counterparties)
}
