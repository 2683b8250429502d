// Package fetcher pages through a wallet's transaction history and yields the
// transactions that carry admissible transfers.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/brojonat/walletgraph/service/transfers"
)

// DefaultMaxTransactions caps how many parsed transactions one fetch keeps.
const DefaultMaxTransactions = 10000

var (
	ErrEmptyAddress  = errors.New("address is required")
	ErrInvalidWindow = errors.New("window days must be positive")
)

// PageSource returns pages of raw transactions, newest first, older than the
// before signature. An empty page means the history is exhausted.
type PageSource interface {
	Page(ctx context.Context, address, before string) ([]helius.RawTransaction, error)
}

// Extractor reduces a raw transaction to its admitted transfers.
type Extractor interface {
	Extract(raw helius.RawTransaction, root string) *transfers.ParsedTransaction
}

// ProgressFunc receives human readable milestones. It may be nil.
type ProgressFunc func(msg string)

// Result is the collected output of a fetch.
type Result struct {
	Transactions []transfers.ParsedTransaction `json:"transactions"`
	// RawCount is the number of raw records inspected within the window.
	RawCount  int  `json:"raw_count"`
	Pages     int  `json:"pages"`
	Truncated bool `json:"truncated"`
}

// Fetcher walks transaction history for a single address.
type Fetcher struct {
	source          PageSource
	extractor       Extractor
	maxTransactions int
	now             func() time.Time
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxTransactions overrides the parsed transaction cap.
func WithMaxTransactions(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxTransactions = n
		}
	}
}

// WithClock sets the time source used for the window cutoff.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// WithMetrics records page and transaction counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a Fetcher.
func New(source PageSource, extractor Extractor, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		source:          source,
		extractor:       extractor,
		maxTransactions: DefaultMaxTransactions,
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// stats is filled in while a stream is consumed.
type stats struct {
	raw       int
	pages     int
	truncated bool
}

// Stream yields the admitted transactions of address within the last
// windowDays, newest first. Each call starts from the newest page. Iteration
// ends after the first error, which is yielded with a zero transaction.
func (f *Fetcher) Stream(ctx context.Context, address string, windowDays int, progress ProgressFunc) iter.Seq2[transfers.ParsedTransaction, error] {
	return func(yield func(transfers.ParsedTransaction, error) bool) {
		f.stream(ctx, address, windowDays, progress, &stats{}, yield)
	}
}

// Fetch collects the whole stream. Reaching the cap is not an error.
func (f *Fetcher) Fetch(ctx context.Context, address string, windowDays int, progress ProgressFunc) (*Result, error) {
	st := &stats{}
	res := &Result{}
	var fetchErr error
	f.stream(ctx, address, windowDays, progress, st, func(tx transfers.ParsedTransaction, err error) bool {
		if err != nil {
			fetchErr = err
			return false
		}
		res.Transactions = append(res.Transactions, tx)
		return true
	})
	if fetchErr != nil {
		return nil, fetchErr
	}
	res.RawCount = st.raw
	res.Pages = st.pages
	res.Truncated = st.truncated
	return res, nil
}

func (f *Fetcher) stream(
	ctx context.Context,
	address string,
	windowDays int,
	progress ProgressFunc,
	st *stats,
	yield func(transfers.ParsedTransaction, error) bool,
) {
	if address == "" {
		yield(transfers.ParsedTransaction{}, ErrEmptyAddress)
		return
	}
	if windowDays <= 0 {
		yield(transfers.ParsedTransaction{}, fmt.Errorf("%w: %d", ErrInvalidWindow, windowDays))
		return
	}

	notify(progress, "Fetching transactions...")

	cutoff := f.now().Unix() - int64(windowDays)*86400
	logger := f.logger.With("address", address, "window_days", windowDays)

	var (
		before   string
		admitted int
	)
	for {
		if err := ctx.Err(); err != nil {
			yield(transfers.ParsedTransaction{}, err)
			return
		}

		page, err := f.source.Page(ctx, address, before)
		if err != nil {
			f.recordPage("error")
			logger.ErrorContext(ctx, "failed to fetch transaction page",
				"page", st.pages+1,
				"before", before,
				"error", err,
			)
			yield(transfers.ParsedTransaction{}, err)
			return
		}
		if len(page) == 0 {
			f.recordPage("empty")
			logger.DebugContext(ctx, "transaction history exhausted", "pages", st.pages)
			return
		}
		st.pages++
		f.recordPage("success")

		var (
			pageAdmitted, pageRejected, pageMalformed int
			crossedCutoff                             bool
			cursor                                    string
		)
		for _, raw := range page {
			if raw.Signature != "" {
				cursor = raw.Signature
			}
			if raw.Signature == "" || raw.Timestamp <= 0 {
				pageMalformed++
				continue
			}
			if raw.Timestamp < cutoff {
				crossedCutoff = true
				break
			}
			st.raw++

			parsed := f.extractor.Extract(raw, address)
			if parsed == nil {
				pageRejected++
				continue
			}
			pageAdmitted++
			admitted++
			if !yield(*parsed, nil) {
				f.recordCounts(pageAdmitted, pageRejected, pageMalformed)
				return
			}
			if admitted >= f.maxTransactions {
				st.truncated = true
				break
			}
		}
		f.recordCounts(pageAdmitted, pageRejected, pageMalformed)

		notify(progress, fmt.Sprintf("Fetched %d transactions (page %d)...", admitted, st.pages))

		switch {
		case st.truncated:
			logger.WarnContext(ctx, "transaction cap reached, stopping early",
				"cap", f.maxTransactions,
				"pages", st.pages,
			)
			if f.metrics != nil {
				f.metrics.RecordFetchTruncated()
			}
			return
		case crossedCutoff:
			logger.DebugContext(ctx, "reached window cutoff", "pages", st.pages, "admitted", admitted)
			return
		case cursor == "" || cursor == before:
			logger.WarnContext(ctx, "pagination cursor did not advance, stopping", "before", before)
			return
		}
		before = cursor
	}
}

func (f *Fetcher) recordPage(status string) {
	if f.metrics != nil {
		f.metrics.RecordFetchPage(status)
	}
}

func (f *Fetcher) recordCounts(admitted, rejected, malformed int) {
	if f.metrics == nil {
		return
	}
	f.metrics.RecordTransactionsFetched("admitted", admitted)
	f.metrics.RecordTransactionsFetched("rejected", rejected)
	f.metrics.RecordTransactionsFetched("malformed", malformed)
}

func notify(progress ProgressFunc, msg string) {
	if progress != nil {
		progress(msg)
	}
}
