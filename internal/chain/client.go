// Package chain talks to a Starknet node over JSON-RPC.
package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"lendingScope/internal/felt"
	"lendingScope/internal/model"
)

const maxCachedTimestamps = 4096

// Client wraps go-ethereum's JSON-RPC client with the Starknet methods the
// indexer and scheduler need.
type Client struct {
	rpcClient *rpc.Client
	timeout   time.Duration

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient dials rpcURL. timeout bounds each call; zero disables it.
func NewClient(ctx context.Context, rpcURL string, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return NewClientWithRPC(rpcClient, timeout), nil
}

// NewClientWithRPC wraps an existing RPC client.
func NewClientWithRPC(rpcClient *rpc.Client, timeout time.Duration) *Client {
	return &Client{
		rpcClient: rpcClient,
		timeout:   timeout,
		tsCache:   make(map[uint64]uint64),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.rpcClient.CallContext(ctx, result, method, args...); err != nil {
		return classify(method, err)
	}
	return nil
}

// LatestBlockNumber returns the chain head.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	if err := c.call(ctx, &n, "starknet_blockNumber"); err != nil {
		return 0, err
	}
	return n, nil
}

type blockID struct {
	BlockNumber uint64 `json:"block_number"`
}

// EventFilter selects events for starknet_getEvents.
type EventFilter struct {
	FromBlock         uint64
	ToBlock           uint64
	Address           string
	Keys              [][]string
	ChunkSize         int
	ContinuationToken string
}

type eventFilterParams struct {
	FromBlock         blockID    `json:"from_block"`
	ToBlock           blockID    `json:"to_block"`
	Address           string     `json:"address,omitempty"`
	Keys              [][]string `json:"keys,omitempty"`
	ChunkSize         int        `json:"chunk_size"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
}

// EventsPage is one page of starknet_getEvents.
type EventsPage struct {
	Events            []model.RawEvent `json:"events"`
	ContinuationToken string           `json:"continuation_token,omitempty"`
}

// GetEvents returns one page of events matching filter.
func (c *Client) GetEvents(ctx context.Context, filter EventFilter) (EventsPage, error) {
	params := eventFilterParams{
		FromBlock:         blockID{BlockNumber: filter.FromBlock},
		ToBlock:           blockID{BlockNumber: filter.ToBlock},
		Address:           filter.Address,
		Keys:              filter.Keys,
		ChunkSize:         filter.ChunkSize,
		ContinuationToken: filter.ContinuationToken,
	}
	var page EventsPage
	if err := c.call(ctx, &page, "starknet_getEvents", params); err != nil {
		return EventsPage{}, err
	}
	return page, nil
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	var block struct {
		Timestamp uint64 `json:"timestamp"`
	}
	if err := c.call(ctx, &block, "starknet_getBlockWithTxHashes", blockID{BlockNumber: number}); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if len(c.tsCache) >= maxCachedTimestamps {
		c.tsCache = make(map[uint64]uint64)
	}
	c.tsCache[number] = block.Timestamp
	c.mu.Unlock()

	return block.Timestamp, nil
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// Call invokes a view function at the latest block and returns its raw felts.
func (c *Client) Call(ctx context.Context, contract, entryPoint string, calldata []string) ([]string, error) {
	req := functionCall{
		ContractAddress:    contract,
		EntryPointSelector: felt.Hex(felt.Selector(entryPoint)),
		Calldata:           calldata,
	}
	if req.Calldata == nil {
		req.Calldata = []string{}
	}
	var out []string
	if err := c.call(ctx, &out, "starknet_call", req, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipt is the subset of a transaction receipt used to settle outcomes.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	FinalityStatus  string `json:"finality_status"`
	ExecutionStatus string `json:"execution_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
}

// Accepted reports whether the transaction is final on L2 or L1.
func (r Receipt) Accepted() bool {
	return r.FinalityStatus == "ACCEPTED_ON_L2" || r.FinalityStatus == "ACCEPTED_ON_L1"
}

// Reverted reports whether execution failed.
func (r Receipt) Reverted() bool {
	return r.ExecutionStatus == "REVERTED"
}

// TransactionReceipt fetches the receipt of txHash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (Receipt, error) {
	var r Receipt
	if err := c.call(ctx, &r, "starknet_getTransactionReceipt", txHash); err != nil {
		return Receipt{}, err
	}
	return r, nil
}
