// Package chain is the event provider adapter: a JSON-RPC client against
// the chain-indexing service plus range-splitting, bisection, and decoding
// of historical event logs.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"daoharvest/internal/httpx"
)

var alchemyHosts = map[string]string{
	"mainnet": "eth-mainnet.g.alchemy.com",
	"goerli":  "eth-goerli.g.alchemy.com",
	"sepolia": "eth-sepolia.g.alchemy.com",
}

// EndpointURL builds the indexing-service RPC URL for a network.
func EndpointURL(network, apiKey string) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("alchemy api key is required")
	}
	host, ok := alchemyHosts[network]
	if !ok {
		return "", fmt.Errorf("unsupported network: %s", network)
	}
	return fmt.Sprintf("https://%s/v2/%s", host, apiKey), nil
}

// Client wraps go-ethereum RPC over the shared rate-limited transport.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// Dial connects to the RPC endpoint, routing all requests through hc so the
// provider's rate and concurrency caps apply.
func Dial(ctx context.Context, rawURL string, hc *httpx.Client) (*Client, error) {
	var opts []rpc.ClientOption
	if hc != nil {
		opts = append(opts, rpc.WithHTTPClient(hc.HTTPClient()))
	}
	rpcClient, err := rpc.DialOptions(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainHead returns the latest block number.
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// FilterLogs returns logs emitted by address in the inclusive block range.
func (c *Client) FilterLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	}
	return c.ethClient.FilterLogs(ctx, query)
}
