package graph

import (
	"cmp"
	"slices"
	"sort"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/shopspring/decimal"
)

var (
	// DefaultMinValueUSD drops transfers worth less than two dollars.
	DefaultMinValueUSD = decimal.NewFromInt(2)
	// DefaultNativeUSDRate is the fixed SOL price used for the value filter.
	DefaultNativeUSDRate = decimal.NewFromInt(200)
)

// Options configures the aggregation-level value filter.
type Options struct {
	MinValueUSD   decimal.Decimal
	NativeUSDRate decimal.Decimal
}

// DefaultOptions returns the $2 at $200/SOL configuration.
func DefaultOptions() Options {
	return Options{
		MinValueUSD:   DefaultMinValueUSD,
		NativeUSDRate: DefaultNativeUSDRate,
	}
}

// Engine aggregates parsed transactions into a Graph. It holds no per-query
// state and is safe for concurrent use.
type Engine struct {
	classifier classify.Classifier
	opts       Options
	minNative  decimal.Decimal
}

// NewEngine creates an Engine. A non-positive rate disables the value filter.
func NewEngine(c classify.Classifier, opts Options) *Engine {
	minNative := decimal.Zero
	if opts.NativeUSDRate.IsPositive() && opts.MinValueUSD.IsPositive() {
		minNative = opts.MinValueUSD.Div(opts.NativeUSDRate)
	}
	return &Engine{
		classifier: c,
		opts:       opts,
		minNative:  minNative,
	}
}

// MinNativeAmount is the SOL equivalent of the minimum USD value.
func (e *Engine) MinNativeAmount() decimal.Decimal {
	return e.minNative
}

// accumulator is the running total for one counterparty. It is only touched
// during a single Aggregate call.
type accumulator struct {
	address      string
	sent         decimal.Decimal
	received     decimal.Decimal
	signatures   map[string]struct{}
	txs          []TxSummary
	tokens       map[string]*TokenAmount
	symbols      map[string]struct{}
	first, last  int64
	isExchange   bool
	exchangeName string
	accountType  string
}

// Aggregate folds txs into a graph centered on root. accountInfo may be nil.
// The output is deterministic for identical input.
func (e *Engine) Aggregate(txs []transfers.ParsedTransaction, root string, accountInfo map[string]accountinfo.AccountInfo) *Graph {
	accs := make(map[string]*accumulator)
	seen := make(map[string]struct{}, len(txs))
	var filteredByValue, filteredByAccountType int

	for _, tx := range txs {
		if _, dup := seen[tx.Signature]; dup {
			continue
		}
		seen[tx.Signature] = struct{}{}

		for _, t := range tx.Transfers {
			if t.Counterparty == "" {
				continue
			}
			if t.IsNative() && t.Amount.LessThan(e.minNative) {
				filteredByValue++
				continue
			}
			info, hasInfo := accountInfo[t.Counterparty]
			if hasInfo && !info.IsValid {
				filteredByAccountType++
				continue
			}

			acc, ok := accs[t.Counterparty]
			if !ok {
				acc = e.newAccumulator(t.Counterparty, info.AccountType)
				accs[t.Counterparty] = acc
			}
			acc.add(tx, t)
		}
	}

	g := &Graph{
		Root:  root,
		Nodes: make([]Node, 0, len(accs)+1),
		Edges: make([]Edge, 0, len(accs)),
	}
	g.Nodes = append(g.Nodes, Node{
		ID:      root,
		Address: root,
		Label:   TruncateAddress(root),
		IsRoot:  true,
	})

	for _, acc := range accs {
		stats := acc.snapshot()
		label := TruncateAddress(acc.address)
		exchangeLabel := ""
		if acc.isExchange {
			label = acc.exchangeName
			exchangeLabel = classify.ExchangeLabel(acc.exchangeName)
		}

		s := stats
		g.Nodes = append(g.Nodes, Node{
			ID:            acc.address,
			Address:       acc.address,
			Label:         label,
			IsExchange:    acc.isExchange,
			ExchangeName:  acc.exchangeName,
			ExchangeLabel: exchangeLabel,
			Stats:         &s,
		})

		direction := transfers.Inflow
		if stats.NetFlow.IsNegative() {
			direction = transfers.Outflow
		}
		g.Edges = append(g.Edges, Edge{
			ID:               EdgeID(root, acc.address),
			Source:           root,
			Target:           acc.address,
			PrimaryDirection: direction,
			IsBidirectional:  stats.TotalSent.IsPositive() && stats.TotalReceived.IsPositive(),
			Stats:            stats,
		})
	}

	sortNodes(g.Nodes)
	sortEdges(g.Edges)

	g.Stats = computeStats(g)
	g.Stats.FilteredByValue = filteredByValue
	g.Stats.FilteredByAccountType = filteredByAccountType
	g.Stats.MinValueUSD = e.opts.MinValueUSD
	return g
}

func (e *Engine) newAccumulator(address, accountType string) *accumulator {
	acc := &accumulator{
		address:     address,
		signatures:  make(map[string]struct{}),
		tokens:      make(map[string]*TokenAmount),
		symbols:     make(map[string]struct{}),
		accountType: accountType,
	}
	if e.classifier != nil && e.classifier.IsExchange(address) {
		acc.isExchange = true
		acc.exchangeName = e.classifier.ExchangeName(address)
	}
	return acc
}

func (a *accumulator) add(tx transfers.ParsedTransaction, t transfers.Transfer) {
	key := t.Key()
	ta, ok := a.tokens[key]
	if !ok {
		ta = &TokenAmount{Key: key, Token: t.Token}
		a.tokens[key] = ta
	}

	switch t.Direction {
	case transfers.Outflow:
		a.sent = a.sent.Add(t.Amount)
		ta.Sent = ta.Sent.Add(t.Amount)
	case transfers.Inflow:
		a.received = a.received.Add(t.Amount)
		ta.Received = ta.Received.Add(t.Amount)
	}
	if t.Token != "" {
		a.symbols[t.Token] = struct{}{}
	}

	if len(a.signatures) == 0 || tx.Timestamp < a.first {
		a.first = tx.Timestamp
	}
	if len(a.signatures) == 0 || tx.Timestamp > a.last {
		a.last = tx.Timestamp
	}

	if _, ok := a.signatures[tx.Signature]; ok {
		return
	}
	a.signatures[tx.Signature] = struct{}{}
	a.txs = append(a.txs, TxSummary{
		Signature: tx.Signature,
		Timestamp: tx.Timestamp,
		Direction: t.Direction,
		Amount:    t.Amount,
		Token:     t.Token,
	})
}

func (a *accumulator) snapshot() NodeStats {
	tokens := make([]TokenAmount, 0, len(a.tokens))
	for _, ta := range a.tokens {
		tokens = append(tokens, *ta)
	}
	slices.SortFunc(tokens, func(x, y TokenAmount) int { return cmp.Compare(x.Key, y.Key) })

	txs := slices.Clone(a.txs)
	slices.SortFunc(txs, func(x, y TxSummary) int {
		if c := cmp.Compare(y.Timestamp, x.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.Signature, y.Signature)
	})

	return NodeStats{
		TotalSent:        a.sent,
		TotalReceived:    a.received,
		NetFlow:          a.received.Sub(a.sent),
		TransactionCount: len(a.signatures),
		Tokens:           tokens,
		TokensInvolved:   sortedKeys(a.symbols),
		FirstInteraction: a.first,
		LastInteraction:  a.last,
		Transactions:     txs,
		AccountType:      a.accountType,
	}
}

// computeStats derives the counterparty totals from g's nodes. Filter
// counters are left zero.
func computeStats(g *Graph) Stats {
	st := Stats{}
	tokens := make(map[string]struct{})
	for _, n := range g.Nodes {
		if n.IsRoot || n.Stats == nil {
			continue
		}
		st.TotalCounterparties++
		st.TotalTransactions += n.Stats.TransactionCount
		st.TotalSent = st.TotalSent.Add(n.Stats.TotalSent)
		st.TotalReceived = st.TotalReceived.Add(n.Stats.TotalReceived)
		for _, t := range n.Stats.TokensInvolved {
			tokens[t] = struct{}{}
		}
		if n.IsExchange {
			st.ExchangeCount++
		}
	}
	st.NetFlow = st.TotalReceived.Sub(st.TotalSent)
	st.TokensInvolved = sortedKeys(tokens)
	return st
}

// sortNodes puts the root first, then orders by transaction count descending
// with the address as tiebreak.
func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsRoot != b.IsRoot {
			return a.IsRoot
		}
		ca, cb := txCount(a.Stats), txCount(b.Stats)
		if ca != cb {
			return ca > cb
		}
		return a.Address < b.Address
	})
}

func sortEdges(edges []Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Stats.TransactionCount != b.Stats.TransactionCount {
			return a.Stats.TransactionCount > b.Stats.TransactionCount
		}
		return a.Target < b.Target
	})
}

func txCount(s *NodeStats) int {
	if s == nil {
		return 0
	}
	return s.TransactionCount
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// EdgeID is the stable identifier of the root to counterparty edge.
func EdgeID(root, counterparty string) string {
	return root + "-" + counterparty
}

// TruncateAddress shortens an address for display as first4...last4.
func TruncateAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}
