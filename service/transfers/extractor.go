package transfers

import (
	"strings"

	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/shopspring/decimal"
)

// DefaultDustThreshold is the smallest SOL amount worth keeping.
var DefaultDustThreshold = decimal.New(1, -3)

// DefaultAllowedTypes are the Helius transaction types treated as plain transfers.
var DefaultAllowedTypes = []string{"TRANSFER"}

// systemSources are source tags that do not indicate DEX or aggregator routing.
var systemSources = map[string]struct{}{
	"":                       {},
	"SYSTEM_PROGRAM":         {},
	"SOLANA_PROGRAM_LIBRARY": {},
}

// excludedKeywords mark swaps, trades and account lifecycle operations.
var excludedKeywords = []string{"create", "close", "account", "swap", "buy", "sell"}

// Rejection reasons, also used as metric labels.
const (
	RejectType        = "type"
	RejectSource      = "source"
	RejectDescription = "description"
	RejectNoTransfers = "no_transfers"
)

// Options configures the extractor.
type Options struct {
	// DustThreshold applies to SOL lines. Amounts equal to it are kept.
	DustThreshold decimal.Decimal
	// AllowedTypes is matched case-insensitively against the declared type.
	AllowedTypes []string
	// IncludeTokenTransfers admits SPL token lines alongside SOL lines.
	IncludeTokenTransfers bool
	// AdmitExchanges keeps counterparties listed in the exchange table even
	// though they are not user wallets. Off by default.
	AdmitExchanges bool
}

// DefaultOptions returns the native-only configuration.
func DefaultOptions() Options {
	return Options{
		DustThreshold: DefaultDustThreshold,
		AllowedTypes:  DefaultAllowedTypes,
	}
}

// Extractor applies the per-transaction and per-line admission filters.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	classifier classify.Classifier
	opts       Options
	allowed    map[string]struct{}
	metrics    *metrics.Metrics
}

// NewExtractor creates an extractor. A zero DustThreshold is treated as unset
// and, like empty AllowedTypes, falls back to the default. config.Validate
// rejects a configured zero.
func NewExtractor(c classify.Classifier, opts Options, m *metrics.Metrics) *Extractor {
	if opts.DustThreshold.IsZero() {
		opts.DustThreshold = DefaultDustThreshold
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[strings.ToUpper(t)] = struct{}{}
	}
	return &Extractor{
		classifier: c,
		opts:       opts,
		allowed:    allowed,
		metrics:    m,
	}
}

// Extract returns the admitted transfers of raw relative to root, or nil when
// the transaction is rejected or keeps no transfer lines.
func (e *Extractor) Extract(raw helius.RawTransaction, root string) *ParsedTransaction {
	if reason := e.rejectTransaction(raw); reason != "" {
		e.reject(reason)
		return nil
	}

	var out []Transfer
	for _, nt := range raw.NativeTransfers {
		amount := LamportsToSOL(nt.Amount)
		if amount.LessThan(e.opts.DustThreshold) {
			continue
		}
		if t, ok := e.direct(nt.FromUserAccount, nt.ToUserAccount, root); ok {
			t.Token = NativeSymbol
			t.Mint = NativeMint
			t.Amount = amount
			out = append(out, t)
		}
	}

	if e.opts.IncludeTokenTransfers {
		for _, tt := range raw.TokenTransfers {
			if !tt.TokenAmount.IsPositive() {
				continue
			}
			if t, ok := e.direct(tt.FromUserAccount, tt.ToUserAccount, root); ok {
				t.Token = tt.Symbol
				if t.Token == "" {
					t.Token = tt.Mint
				}
				t.Mint = tt.Mint
				t.Amount = tt.TokenAmount
				out = append(out, t)
			}
		}
	}

	if len(out) == 0 {
		e.reject(RejectNoTransfers)
		return nil
	}

	first := out[0]
	return &ParsedTransaction{
		Signature:    raw.Signature,
		Timestamp:    raw.Timestamp,
		Type:         raw.Type,
		Fee:          raw.Fee,
		FeePayer:     raw.FeePayer,
		Transfers:    out,
		Counterparty: first.Counterparty,
		Direction:    first.Direction,
		Amount:       first.Amount,
		Token:        first.Token,
	}
}

func (e *Extractor) rejectTransaction(raw helius.RawTransaction) string {
	if _, ok := e.allowed[strings.ToUpper(raw.Type)]; !ok {
		return RejectType
	}
	if _, ok := systemSources[strings.ToUpper(raw.Source)]; !ok {
		return RejectSource
	}
	desc := strings.ToLower(raw.Description)
	for _, kw := range excludedKeywords {
		if strings.Contains(desc, kw) {
			return RejectDescription
		}
	}
	return ""
}

// direct resolves the direction of a from/to pair relative to root and checks
// the counterparty. Self transfers and lines not touching root are dropped.
func (e *Extractor) direct(from, to, root string) (Transfer, bool) {
	var t Transfer
	switch {
	case strings.EqualFold(from, root):
		t.Direction, t.Counterparty = Outflow, to
	case strings.EqualFold(to, root):
		t.Direction, t.Counterparty = Inflow, from
	default:
		return Transfer{}, false
	}
	if t.Counterparty == "" || strings.EqualFold(t.Counterparty, root) {
		return Transfer{}, false
	}
	if !e.admitCounterparty(t.Counterparty) {
		return Transfer{}, false
	}
	t.From, t.To = from, to
	return t, true
}

func (e *Extractor) admitCounterparty(addr string) bool {
	if e.classifier.IsLikelyUserWallet(addr) {
		return true
	}
	return e.opts.AdmitExchanges && e.classifier.IsExchange(addr)
}

func (e *Extractor) reject(reason string) {
	if e.metrics != nil {
		e.metrics.RecordTransactionRejected(reason)
	}
}
