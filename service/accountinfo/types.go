// Package accountinfo resolves and caches on-chain account types so program
// and token accounts can be dropped from counterparty graphs.
package accountinfo

// Account type tags.
const (
	TypeUnknown      = "unknown"
	TypeWallet       = "wallet"
	TypeProgram      = "program"
	TypeProgramData  = "program_data"
	TypeTokenAccount = "token_account"
	TypeMint         = "mint"
	TypeProgramOwned = "program_owned"
)

var invalidTypes = map[string]struct{}{
	TypeProgram:      {},
	TypeProgramData:  {},
	TypeTokenAccount: {},
	TypeMint:         {},
}

// AccountInfo is what the aggregation engine needs to know about an address.
type AccountInfo struct {
	AccountType string `json:"account_type"`
	IsValid     bool   `json:"is_valid"`
}

// FromType builds an AccountInfo from a type tag. An empty tag is unknown.
func FromType(accountType string) AccountInfo {
	if accountType == "" {
		accountType = TypeUnknown
	}
	_, invalid := invalidTypes[accountType]
	return AccountInfo{AccountType: accountType, IsValid: !invalid}
}

// Unknown is the fail-open entry used when an address could not be resolved.
func Unknown() AccountInfo {
	return AccountInfo{AccountType: TypeUnknown, IsValid: true}
}
