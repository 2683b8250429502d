// Package classify maps Solana addresses to program, exchange or user wallets
// using static lookup tables and a conservative address pattern heuristic.
package classify

import (
	"strings"
)

// Kind is the classification of an address.
type Kind string

const (
	KindProgram  Kind = "program"
	KindExchange Kind = "exchange"
	KindUser     Kind = "user"
	KindUnknown  Kind = "unknown"
)

const (
	// MinAddressLength and MaxAddressLength bound a base58 encoded public key.
	MinAddressLength = 32
	MaxAddressLength = 44

	// fillerChar is the base58 encoding of a zero byte. Vanity program IDs
	// pad with it.
	fillerChar = '1'

	unknownProgramName = "Unknown Program"
)

// Result is the outcome of classifying an address. Name is empty for users.
type Result struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`
}

// Classifier is the lookup service consulted by the extractor and the
// aggregation engine.
type Classifier interface {
	Classify(address string) Result
	IsExchange(address string) bool
	IsProgram(address string) bool
	ExchangeName(address string) string
	IsLikelyUserWallet(address string) bool
}

// StaticClassifier classifies addresses against immutable tables.
// It is safe for concurrent use.
type StaticClassifier struct {
	programs  map[string]string
	exchanges map[string]string
	prefixes  []string
}

// New creates a classifier over the given tables. The maps are copied.
func New(t Tables) *StaticClassifier {
	c := &StaticClassifier{
		programs:  make(map[string]string, len(t.Programs)),
		exchanges: make(map[string]string, len(t.Exchanges)),
		prefixes:  append([]string{}, t.ProgramPrefixes...),
	}
	for k, v := range t.Programs {
		c.programs[k] = v
	}
	for k, v := range t.Exchanges {
		c.exchanges[k] = v
	}
	return c
}

// NewDefault creates a classifier over the embedded tables.
func NewDefault() (*StaticClassifier, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// Classify checks the exchange table first, then the program table and the
// program pattern heuristic.
func (c *StaticClassifier) Classify(address string) Result {
	if address == "" {
		return Result{Kind: KindUnknown}
	}
	if name, ok := c.exchanges[address]; ok {
		return Result{Kind: KindExchange, Name: name}
	}
	if name, ok := c.programs[address]; ok {
		return Result{Kind: KindProgram, Name: name}
	}
	if c.MatchesProgramPattern(address) {
		return Result{Kind: KindProgram, Name: unknownProgramName}
	}
	return Result{Kind: KindUser}
}

func (c *StaticClassifier) IsExchange(address string) bool {
	_, ok := c.exchanges[address]
	return ok
}

func (c *StaticClassifier) IsProgram(address string) bool {
	if _, ok := c.programs[address]; ok {
		return true
	}
	return c.MatchesProgramPattern(address)
}

// ExchangeName returns the exchange name for address, or "" if not listed.
func (c *StaticClassifier) ExchangeName(address string) string {
	return c.exchanges[address]
}

// ProgramName returns the table name for a known program, or "".
func (c *StaticClassifier) ProgramName(address string) string {
	return c.programs[address]
}

// IsLikelyUserWallet is the cheap first pass before any network lookup.
func (c *StaticClassifier) IsLikelyUserWallet(address string) bool {
	if len(address) < MinAddressLength || len(address) > MaxAddressLength {
		return false
	}
	return c.Classify(address).Kind == KindUser
}

// MatchesProgramPattern reports whether address looks like a program ID.
// False positives are acceptable here; an empty address matches.
func (c *StaticClassifier) MatchesProgramPattern(address string) bool {
	if address == "" {
		return true
	}
	if strings.HasSuffix(address, strings.Repeat(string(fillerChar), 4)) {
		return true
	}
	if strings.Trim(address, string(fillerChar)) == "" {
		return true
	}
	if longestRun(address, fillerChar) >= 8 {
		return true
	}
	for _, p := range c.prefixes {
		if p != "" && strings.HasPrefix(address, p) {
			return true
		}
	}
	return false
}

func longestRun(s string, ch byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == ch {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}

// ExchangeLabel is the display label used for a centralized exchange wallet.
func ExchangeLabel(name string) string {
	if name == "" {
		return ""
	}
	return name + " Hot Wallet"
}
