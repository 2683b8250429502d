package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/fetcher"
	"github.com/brojonat/walletgraph/service/graph"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(prefix string) string {
	return prefix + strings.Repeat("x", 40-len(prefix))
}

var (
	root  = addr("Root")
	alice = addr("Alice")
	bob   = addr("Bob")
)

type fakeFetcher struct {
	result *fetcher.Result
	err    error
	days   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, address string, windowDays int, progress fetcher.ProgressFunc) (*fetcher.Result, error) {
	f.days = windowDays
	if progress != nil {
		progress("Fetching transactions...")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeResolver struct {
	info  map[string]accountinfo.AccountInfo
	err   error
	addrs []string
}

func (r *fakeResolver) Resolve(ctx context.Context, addrs []string, progress func(string)) (map[string]accountinfo.AccountInfo, error) {
	r.addrs = addrs
	if r.err != nil {
		return nil, r.err
	}
	return r.info, nil
}

type recordingSink struct {
	mu        sync.Mutex
	recorded  []*Result
	published []*Result
	exported  []*graph.Graph
	err       error
}

func (s *recordingSink) RecordQuery(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, res)
	return s.err
}

func (s *recordingSink) PublishGraph(ctx context.Context, res *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, res)
	return s.err
}

func (s *recordingSink) ExportGraph(ctx context.Context, g *graph.Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exported = append(s.exported, g)
	return s.err
}

func sol(dir transfers.Direction, counterparty, amount string) transfers.Transfer {
	return transfers.Transfer{
		Token:        transfers.NativeSymbol,
		Mint:         transfers.NativeMint,
		Amount:       decimal.RequireFromString(amount),
		Direction:    dir,
		Counterparty: counterparty,
	}
}

func fetched(txs ...transfers.ParsedTransaction) *fetcher.Result {
	return &fetcher.Result{Transactions: txs, RawCount: len(txs) + 3, Pages: 1}
}

func newTestBuilder(t *testing.T, f Fetcher, r Resolver, sink *recordingSink) *Builder {
	t.Helper()
	cfg := Config{
		Fetcher:    f,
		Resolver:   r,
		Classifier: classify.New(classify.Tables{}),
		Engine:     graph.DefaultOptions(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if sink != nil {
		cfg.Recorder = sink
		cfg.Publisher = sink
		cfg.Exporter = sink
	}
	b, err := New(cfg)
	require.NoError(t, err)

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	b.newID = func() string { return "query-1" }
	return b
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Resolver: &fakeResolver{}})
	assert.Error(t, err)
	_, err = New(Config{Fetcher: &fakeFetcher{}})
	assert.Error(t, err)
}

func TestNew_DefaultClassifier(t *testing.T) {
	b, err := New(Config{Fetcher: &fakeFetcher{}, Resolver: &fakeResolver{}})
	require.NoError(t, err)
	require.NotNil(t, b.Classifier())

	assert.Equal(t, classify.KindProgram, b.Classifier().Classify("11111111111111111111111111111111").Kind)
	assert.True(t, b.Classifier().IsLikelyUserWallet(alice))
}

func TestBuild_OK(t *testing.T) {
	f := &fakeFetcher{result: fetched(
		transfers.ParsedTransaction{Signature: "s1", Timestamp: 100, Transfers: []transfers.Transfer{
			sol(transfers.Inflow, alice, "0.02"),
		}},
		transfers.ParsedTransaction{Signature: "s2", Timestamp: 200, Transfers: []transfers.Transfer{
			sol(transfers.Outflow, alice, "1"),
			sol(transfers.Outflow, bob, "1"),
		}},
	)}
	r := &fakeResolver{info: map[string]accountinfo.AccountInfo{
		bob: accountinfo.FromType(accountinfo.TypeMint),
	}}
	b := newTestBuilder(t, f, r, nil)

	var progress []string
	res, err := b.Build(context.Background(), Request{Address: root}, func(msg string) {
		progress = append(progress, msg)
	})
	require.NoError(t, err)

	assert.Equal(t, "query-1", res.QueryID)
	assert.Equal(t, StatusOK, res.Status)
	assert.Empty(t, res.Message)
	assert.Equal(t, DefaultWindowDays, f.days)
	assert.Equal(t, DefaultWindowDays, res.WindowDays)
	assert.Equal(t, 2, res.TransactionCount)
	assert.Equal(t, 5, res.RawTransactionCount)
	assert.Equal(t, time.Second, res.Duration())

	assert.ElementsMatch(t, []string{alice, alice, bob}, r.addrs)
	assert.Equal(t, []string{"Fetching transactions...", "Processing data..."}, progress)

	require.NotNil(t, res.Graph)
	assert.Equal(t, 1, res.Graph.Stats.TotalCounterparties)
	assert.Equal(t, 1, res.Graph.Stats.FilteredByAccountType)
	assert.Equal(t, alice, res.Graph.Edges[0].Target)
}

func TestBuild_NoTransactions(t *testing.T) {
	r := &fakeResolver{}
	b := newTestBuilder(t, &fakeFetcher{result: fetched()}, r, nil)

	res, err := b.Build(context.Background(), Request{Address: root, WindowDays: 7}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusNoTransactions, res.Status)
	assert.Equal(t, "No transactions found for this wallet in the past 7 days.", res.Message)
	require.NotNil(t, res.Graph)
	assert.Len(t, res.Graph.Nodes, 1)
	assert.Nil(t, r.addrs, "resolver is not called")
}

func TestBuild_NoCounterparties(t *testing.T) {
	f := &fakeFetcher{result: fetched(
		transfers.ParsedTransaction{Signature: "s1", Timestamp: 100, Transfers: []transfers.Transfer{
			sol(transfers.Inflow, alice, "0.001"),
		}},
	)}
	b := newTestBuilder(t, f, &fakeResolver{}, nil)

	res, err := b.Build(context.Background(), Request{Address: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoCounterparties, res.Status)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 1, res.Graph.Stats.FilteredByValue)
}

func TestBuild_MinValueOverride(t *testing.T) {
	f := &fakeFetcher{result: fetched(
		transfers.ParsedTransaction{Signature: "s1", Timestamp: 100, Transfers: []transfers.Transfer{
			sol(transfers.Inflow, alice, "0.001"),
		}},
	)}
	b := newTestBuilder(t, f, &fakeResolver{}, nil)

	res, err := b.Build(context.Background(), Request{
		Address:     root,
		MinValueUSD: decimal.NewNullDecimal(decimal.Zero),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.Graph.Stats.TotalCounterparties)
}

func TestBuild_Errors(t *testing.T) {
	b := newTestBuilder(t, &fakeFetcher{result: fetched()}, &fakeResolver{}, nil)

	_, err := b.Build(context.Background(), Request{}, nil)
	assert.ErrorIs(t, err, fetcher.ErrEmptyAddress)

	_, err = b.Build(context.Background(), Request{Address: root, WindowDays: -1}, nil)
	assert.ErrorIs(t, err, fetcher.ErrInvalidWindow)

	upstream := &helius.FetchError{StatusCode: 503, Body: "unavailable"}
	b = newTestBuilder(t, &fakeFetcher{err: upstream}, &fakeResolver{}, nil)
	_, err = b.Build(context.Background(), Request{Address: root}, nil)
	var fe *helius.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.StatusCode)

	f := &fakeFetcher{result: fetched(transfers.ParsedTransaction{
		Signature: "s1", Timestamp: 1, Transfers: []transfers.Transfer{sol(transfers.Inflow, alice, "1")},
	})}
	b = newTestBuilder(t, f, &fakeResolver{err: context.Canceled}, nil)
	_, err = b.Build(context.Background(), Request{Address: root}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_DeliversToSinks(t *testing.T) {
	f := &fakeFetcher{result: fetched(transfers.ParsedTransaction{
		Signature: "s1", Timestamp: 1, Transfers: []transfers.Transfer{sol(transfers.Inflow, alice, "1")},
	})}
	sink := &recordingSink{}
	b := newTestBuilder(t, f, &fakeResolver{}, sink)

	res, err := b.Run(context.Background(), Request{Address: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, []*Result{res}, sink.recorded)
	assert.Equal(t, []*Result{res}, sink.published)
	assert.Equal(t, []*graph.Graph{res.Graph}, sink.exported)
}

func TestRun_SinkFailuresAreNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	b := newTestBuilder(t, &fakeFetcher{result: fetched()}, &fakeResolver{}, sink)

	res, err := b.Run(context.Background(), Request{Address: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoTransactions, res.Status)
	assert.Len(t, sink.recorded, 1)
	assert.Len(t, sink.published, 1)
	assert.Empty(t, sink.exported, "empty graphs are not exported")
}
