package transfers

import (
	"strings"
	"testing"

	"github.com/brojonat/walletgraph/service/classify"
	"github.com/brojonat/walletgraph/service/helius"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(prefix string) string {
	return prefix + strings.Repeat("x", 40-len(prefix))
}

var (
	root     = addr("Root")
	alice    = addr("Alice")
	bob      = addr("Bob")
	exchange = addr("Exch")
	program  = addr("Prog")
)

func testTables() classify.Tables {
	return classify.Tables{
		Programs:  map[string]string{program: "Test Program"},
		Exchanges: map[string]string{exchange: "TestEx"},
	}
}

func newTestExtractor(opts Options) *Extractor {
	return NewExtractor(classify.New(testTables()), opts, nil)
}

func nativeTx(sig string, lines ...helius.NativeTransfer) helius.RawTransaction {
	return helius.RawTransaction{
		Signature:       sig,
		Timestamp:       1700000000,
		Type:            "TRANSFER",
		Source:          "SYSTEM_PROGRAM",
		Description:     "transferred SOL",
		Fee:             5000,
		FeePayer:        root,
		NativeTransfers: lines,
	}
}

func TestExtract_Inflow(t *testing.T) {
	e := newTestExtractor(DefaultOptions())

	parsed := e.Extract(nativeTx("s1", helius.NativeTransfer{FromUserAccount: alice, ToUserAccount: root, Amount: 20_000_000}), root)
	require.NotNil(t, parsed)

	assert.Equal(t, "s1", parsed.Signature)
	assert.Equal(t, uint64(5000), parsed.Fee)
	require.Len(t, parsed.Transfers, 1)

	tr := parsed.Transfers[0]
	assert.Equal(t, Inflow, tr.Direction)
	assert.Equal(t, alice, tr.Counterparty)
	assert.Equal(t, alice, tr.From)
	assert.Equal(t, root, tr.To)
	assert.Equal(t, NativeMint, tr.Mint)
	assert.Equal(t, NativeSymbol, tr.Token)
	assert.True(t, tr.Amount.Equal(decimal.RequireFromString("0.02")))

	assert.Equal(t, alice, parsed.Counterparty)
	assert.Equal(t, Inflow, parsed.Direction)
	assert.True(t, parsed.Amount.Equal(tr.Amount))
	assert.Equal(t, NativeSymbol, parsed.Token)
}

func TestExtract_TransactionFilters(t *testing.T) {
	e := newTestExtractor(DefaultOptions())
	line := helius.NativeTransfer{FromUserAccount: root, ToUserAccount: alice, Amount: 1_000_000_000}

	tests := []struct {
		name   string
		mutate func(*helius.RawTransaction)
		admit  bool
	}{
		{"plain transfer", func(tx *helius.RawTransaction) {}, true},
		{"lowercase type", func(tx *helius.RawTransaction) { tx.Type = "transfer" }, true},
		{"empty source", func(tx *helius.RawTransaction) { tx.Source = "" }, true},
		{"swap type", func(tx *helius.RawTransaction) { tx.Type = "SWAP" }, false},
		{"nft sale", func(tx *helius.RawTransaction) { tx.Type = "NFT_SALE" }, false},
		{"dex source", func(tx *helius.RawTransaction) { tx.Source = "JUPITER" }, false},
		{"create account description", func(tx *helius.RawTransaction) { tx.Description = "Root created an account" }, false},
		{"uppercase swap description", func(tx *helius.RawTransaction) { tx.Description = "SWAPPED 1 SOL" }, false},
		{"sell description", func(tx *helius.RawTransaction) { tx.Description = "sold for 1 SOL via Sell" }, false},
		{"close description", func(tx *helius.RawTransaction) { tx.Description = "Close token" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := nativeTx("sig", line)
			tt.mutate(&tx)
			parsed := e.Extract(tx, root)
			if tt.admit {
				assert.NotNil(t, parsed)
			} else {
				assert.Nil(t, parsed)
			}
		})
	}
}

func TestExtract_DustBoundary(t *testing.T) {
	e := newTestExtractor(DefaultOptions())

	tests := []struct {
		name     string
		lamports uint64
		admit    bool
	}{
		{"exactly threshold", 1_000_000, true},
		{"one lamport below", 999_999, false},
		{"0.0009 SOL", 900_000, false},
		{"well above", 5_000_000_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := e.Extract(nativeTx("sig", helius.NativeTransfer{FromUserAccount: root, ToUserAccount: alice, Amount: tt.lamports}), root)
			assert.Equal(t, tt.admit, parsed != nil)
		})
	}
}

func TestExtract_LineFilters(t *testing.T) {
	e := newTestExtractor(DefaultOptions())

	tx := nativeTx("sig",
		// Dropped: unrelated to root, program, bad length, self transfer.
		helius.NativeTransfer{FromUserAccount: alice, ToUserAccount: bob, Amount: 1_000_000_000},
		helius.NativeTransfer{FromUserAccount: root, ToUserAccount: program, Amount: 1_000_000_000},
		helius.NativeTransfer{FromUserAccount: root, ToUserAccount: "short", Amount: 1_000_000_000},
		helius.NativeTransfer{FromUserAccount: root, ToUserAccount: root, Amount: 1_000_000_000},
		// Kept: root matched case-insensitively.
		helius.NativeTransfer{FromUserAccount: strings.ToLower(root), ToUserAccount: bob, Amount: 2_000_000_000},
		helius.NativeTransfer{FromUserAccount: alice, ToUserAccount: strings.ToUpper(root), Amount: 3_000_000_000},
	)

	parsed := e.Extract(tx, root)
	require.NotNil(t, parsed)
	require.Len(t, parsed.Transfers, 2)

	assert.Equal(t, Outflow, parsed.Transfers[0].Direction)
	assert.Equal(t, bob, parsed.Transfers[0].Counterparty)
	assert.Equal(t, Inflow, parsed.Transfers[1].Direction)
	assert.Equal(t, alice, parsed.Transfers[1].Counterparty)

	// Summary fields follow the first surviving line.
	assert.Equal(t, bob, parsed.Counterparty)
	assert.True(t, parsed.Amount.Equal(decimal.NewFromInt(2)))
}

func TestExtract_NoSurvivingLines(t *testing.T) {
	e := newTestExtractor(DefaultOptions())

	assert.Nil(t, e.Extract(nativeTx("sig"), root))
	assert.Nil(t, e.Extract(nativeTx("sig", helius.NativeTransfer{FromUserAccount: alice, ToUserAccount: bob, Amount: 1_000_000_000}), root))
}

func TestExtract_Exchanges(t *testing.T) {
	tx := nativeTx("sig", helius.NativeTransfer{FromUserAccount: exchange, ToUserAccount: root, Amount: 1_000_000_000})

	c := classify.New(testTables())
	require.False(t, c.IsLikelyUserWallet(exchange))

	// Exchanges are not user wallets, so the default drops them.
	assert.Nil(t, newTestExtractor(DefaultOptions()).Extract(tx, root))

	opts := DefaultOptions()
	opts.AdmitExchanges = true
	parsed := newTestExtractor(opts).Extract(tx, root)
	require.NotNil(t, parsed)
	assert.Equal(t, exchange, parsed.Counterparty)
}

func TestExtract_TokenTransfers(t *testing.T) {
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	tx := nativeTx("sig")
	tx.TokenTransfers = []helius.TokenTransfer{
		{FromUserAccount: alice, ToUserAccount: root, TokenAmount: decimal.RequireFromString("25.5"), Mint: mint, Symbol: "USDC"},
		{FromUserAccount: root, ToUserAccount: bob, TokenAmount: decimal.NewFromInt(3), Mint: "SomeMint"},
		{FromUserAccount: root, ToUserAccount: bob, TokenAmount: decimal.Zero, Mint: mint},
	}

	// Native-only by default.
	assert.Nil(t, newTestExtractor(DefaultOptions()).Extract(tx, root))

	opts := DefaultOptions()
	opts.IncludeTokenTransfers = true
	parsed := newTestExtractor(opts).Extract(tx, root)
	require.NotNil(t, parsed)
	require.Len(t, parsed.Transfers, 2)

	assert.Equal(t, "USDC", parsed.Transfers[0].Token)
	assert.Equal(t, mint, parsed.Transfers[0].Mint)
	assert.Equal(t, mint, parsed.Transfers[0].Key())
	assert.False(t, parsed.Transfers[0].IsNative())
	assert.Equal(t, "SomeMint", parsed.Transfers[1].Token)
}

func TestTransferKey(t *testing.T) {
	assert.Equal(t, "mint", Transfer{Mint: "mint", Token: "SYM"}.Key())
	assert.Equal(t, "SYM", Transfer{Token: "SYM"}.Key())
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, "1.5", LamportsToSOL(1_500_000_000).String())
	assert.Equal(t, "0.000000001", LamportsToSOL(1).String())
	assert.True(t, LamportsToSOL(0).IsZero())
}
