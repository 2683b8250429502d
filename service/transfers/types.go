// Package transfers turns raw indexer records into directional transfers
// relative to a queried wallet.
package transfers

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeMint is the sentinel mint used for SOL transfer lines.
const NativeMint = "So11111111111111111111111111111111111111112"

// NativeSymbol is the display symbol for SOL.
const NativeSymbol = "SOL"

// lamportsExp scales lamports to SOL.
const lamportsExp = -9

// Direction is relative to the root address.
type Direction string

const (
	Inflow  Direction = "inflow"
	Outflow Direction = "outflow"
)

// Transfer is one admitted value movement between the root and a counterparty.
type Transfer struct {
	Token        string          `json:"token"`
	Mint         string          `json:"mint"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    Direction       `json:"direction"`
	Counterparty string          `json:"counterparty"`
	From         string          `json:"from"`
	To           string          `json:"to"`
}

// IsNative reports whether t moves SOL.
func (t Transfer) IsNative() bool {
	return t.Mint == NativeMint
}

// Key identifies the token for sub-totals: the mint, or the symbol when no
// mint is known.
func (t Transfer) Key() string {
	if t.Mint != "" {
		return t.Mint
	}
	return t.Token
}

// ParsedTransaction is a raw transaction reduced to its admitted transfers.
// The summary fields mirror Transfers[0].
type ParsedTransaction struct {
	Signature string     `json:"signature"`
	Timestamp int64      `json:"timestamp"`
	Type      string     `json:"type"`
	Fee       uint64     `json:"fee"`
	FeePayer  string     `json:"fee_payer"`
	Transfers []Transfer `json:"transfers"`

	Counterparty string          `json:"counterparty"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	Token        string          `json:"token"`
}

// LamportsToSOL converts lamports to whole SOL without rounding.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsExp)
}
