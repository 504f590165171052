package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultRelayMethod is the JSON-RPC method the relayer exposes for invokes.
const DefaultRelayMethod = "relay_execute"

// Relayer submits invoke transactions through a signing service that holds
// the account key. The indexer never sees the key.
type Relayer struct {
	rpcClient *rpc.Client
	method    string
	timeout   time.Duration
}

// NewRelayer dials the relayer at url.
func NewRelayer(ctx context.Context, url, method string, timeout time.Duration) (*Relayer, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRelayerWithRPC(rpcClient, method, timeout), nil
}

// NewRelayerWithRPC wraps an existing RPC client.
func NewRelayerWithRPC(rpcClient *rpc.Client, method string, timeout time.Duration) *Relayer {
	if method == "" {
		method = DefaultRelayMethod
	}
	return &Relayer{rpcClient: rpcClient, method: method, timeout: timeout}
}

func (r *Relayer) Close() {
	if r.rpcClient != nil {
		r.rpcClient.Close()
	}
}

type invokeRequest struct {
	ContractAddress string   `json:"contract_address"`
	EntryPoint      string   `json:"entry_point"`
	Calldata        []string `json:"calldata"`
}

type invokeResult struct {
	TransactionHash string `json:"transaction_hash"`
}

// Execute submits contract.entryPoint(calldata) and returns the transaction hash.
func (r *Relayer) Execute(ctx context.Context, contract, entryPoint string, calldata []string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var res invokeResult
	req := invokeRequest{ContractAddress: contract, EntryPoint: entryPoint, Calldata: calldata}
	if err := r.rpcClient.CallContext(ctx, &res, r.method, req); err != nil {
		return "", classify(r.method, err)
	}
	if res.TransactionHash == "" {
		return "", fmt.Errorf("%s: empty transaction hash", r.method)
	}
	return res.TransactionHash, nil
}
