package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"mempoolScope/internal/model"
)

// Client wraps a go-ethereum RPC connection to the upstream node.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewClient dials the upstream node. Subscriptions require a ws, wss or ipc URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() error {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
	return nil
}

// SubscribePendingTransactions streams pending transaction hashes as raw strings.
// Validation is left to the caller so that malformed notifications can be dropped
// without tearing the subscription down.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- string) (ethereum.Subscription, error) {
	return c.rpcClient.EthSubscribe(ctx, ch, "newPendingTransactions")
}

// TransactionByHash resolves a hash to a full record. A hash unknown to the node
// returns ethereum.NotFound.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*model.TransactionRecord, error) {
	var tx *rpcTransaction
	if err := c.rpcClient.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ethereum.NotFound
	}
	return tx.record(), nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
