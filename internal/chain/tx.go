package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// txHashNotFound is the Starknet JSON-RPC code for an unknown transaction.
const txHashNotFound = 29

// RevertedError reports a transaction that was included but reverted.
type RevertedError struct {
	TxHash string
	Reason string
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// WaitForTransaction polls the receipt of txHash until it is accepted or
// reverted, or ctx ends. A node that does not know the hash yet, or a
// transient failure, is treated as pending.
func (c *Client) WaitForTransaction(ctx context.Context, txHash string, every time.Duration) (Receipt, error) {
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		r, err := c.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if r.Reverted() {
				return r, &RevertedError{TxHash: txHash, Reason: r.RevertReason}
			}
			if r.Accepted() {
				return r, nil
			}
		case isNotFound(err), IsTransient(err):
		default:
			return Receipt{}, err
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("wait for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func isNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == txHashNotFound
}
