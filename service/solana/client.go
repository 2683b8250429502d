package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletgraph/service/accountinfo"
	"github.com/brojonat/walletgraph/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MaxAccountsPerCall is the getMultipleAccounts limit.
const MaxAccountsPerCall = 100

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetMultipleAccounts(
		ctx context.Context,
		accounts []solana.PublicKey,
		opts *rpc.GetMultipleAccountsOpts,
	) (*rpc.GetMultipleAccountsResult, error)
}

// Client resolves account metadata over JSON-RPC.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// AccountTypes returns an account type tag per address, aligned with addrs.
// Addresses that are not valid public keys are tagged unknown without a
// network call. At most MaxAccountsPerCall addresses may be passed.
func (c *Client) AccountTypes(ctx context.Context, addrs []string) ([]string, error) {
	if len(addrs) > MaxAccountsPerCall {
		return nil, fmt.Errorf("too many accounts: %d > %d", len(addrs), MaxAccountsPerCall)
	}

	out := make([]string, len(addrs))
	keys := make([]solana.PublicKey, 0, len(addrs))
	index := make([]int, 0, len(addrs))
	for i, a := range addrs {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			c.logger.DebugContext(ctx, "skipping invalid account address", "address", a, "error", err)
			out[i] = accountinfo.TypeUnknown
			continue
		}
		keys = append(keys, pk)
		index = append(index, i)
	}
	if len(keys) == 0 {
		return out, nil
	}

	c.logger.DebugContext(ctx, "calling GetMultipleAccounts", "count", len(keys))

	start := time.Now()
	res, err := c.rpc.GetMultipleAccounts(ctx, keys, &rpc.GetMultipleAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		c.record("error", duration)
		return nil, fmt.Errorf("failed to get multiple accounts: %w", err)
	}
	c.record("success", duration)

	if res == nil || len(res.Value) != len(keys) {
		got := 0
		if res != nil {
			got = len(res.Value)
		}
		return nil, fmt.Errorf("getMultipleAccounts returned %d accounts for %d keys", got, len(keys))
	}

	for j, acct := range res.Value {
		out[index[j]] = AccountType(acct)
	}
	return out, nil
}

func (c *Client) record(status string, duration float64) {
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getMultipleAccounts", status, c.endpoint, duration)
	}
}
