package solana

import (
	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// SystemProgramID owns every plain wallet account
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// BPFLoaderUpgradeableID owns program data accounts
	BPFLoaderUpgradeableID = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")
)

// SPL token account layouts
const (
	tokenMintSize    = 82
	tokenAccountSize = 165

	// Token-2022 stores the account kind right after the base layout when
	// extensions are present.
	token2022AccountTypeOffset = tokenAccountSize
	token2022MintKind          = 1
)

// AccountType derives an account type tag from a getMultipleAccounts entry.
// A nil account does not exist on chain.
func AccountType(acct *rpc.Account) string {
	if acct == nil {
		return accountinfo.TypeUnknown
	}
	if acct.Executable {
		return accountinfo.TypeProgram
	}

	switch {
	case acct.Owner.Equals(SystemProgramID):
		return accountinfo.TypeWallet
	case acct.Owner.Equals(BPFLoaderUpgradeableID):
		return accountinfo.TypeProgramData
	case acct.Owner.Equals(TokenProgramID), acct.Owner.Equals(Token2022ProgramID):
		return tokenAccountType(accountData(acct))
	}
	return accountinfo.TypeProgramOwned
}

func tokenAccountType(data []byte) string {
	if len(data) == tokenMintSize {
		return accountinfo.TypeMint
	}
	if len(data) > token2022AccountTypeOffset && data[token2022AccountTypeOffset] == token2022MintKind {
		return accountinfo.TypeMint
	}
	return accountinfo.TypeTokenAccount
}

func accountData(acct *rpc.Account) []byte {
	if acct.Data == nil {
		return nil
	}
	return acct.Data.GetBinary()
}
