package solana

import (
	"net/url"
	"strings"
)

// providers maps host fragments to metric labels, checked in order.
var providers = []struct{ fragment, label string }{
	{"helius", "helius"},
	{"quiknode", "quiknode"},
	{"quicknode", "quiknode"},
	{"alchemy", "alchemy"},
	{"triton", "triton"},
	{"rpcpool", "rpcpool"},
	{"mainnet", "mainnet"},
	{"devnet", "devnet"},
	{"testnet", "testnet"},
}

// EndpointLabel extracts a short identifier from an RPC URL for metrics
// labeling. Query strings, which often carry API keys, never appear in it.
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
//   - "http://localhost:8899" -> "localhost"
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}
	host := parsed.Hostname()
	if host == "" {
		return "unknown"
	}
	for _, p := range providers {
		if strings.Contains(host, p.fragment) {
			return p.label
		}
	}
	return host
}
