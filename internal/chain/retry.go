package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Chain-confirmation latency means a transaction the client just sent is
// often not visible on the first read. Callers verifying immediately after
// a payment claim poll with linearly increasing backoff before giving up.
const (
	defaultVerifyAttempts = 5
	backoffStep           = time.Second
)

// pollDelay returns the wait after the given 1-based poll attempt. The
// schedule is linear: 1s after the first attempt up to 5s after the fifth.
func pollDelay(attempt int) time.Duration {
	return time.Duration(attempt) * backoffStep
}

// VerifyTransferWithRetry polls VerifyTransfer until the transaction shows
// up, sleeping 1s, 2s, 3s, 4s, 5s after each of the five failed polls; the
// final 5s wait gives the chain one last confirmation window before
// tx_not_found is surfaced. Only tx_not_found is retried: every other
// verification failure is definitive, and infrastructure errors are
// surfaced immediately for the caller to handle.
func (v *TransferVerifier) VerifyTransferWithRetry(ctx context.Context, txHash common.Hash, expectedRecipient common.Address, expectedAmount *big.Int, tokenAddress common.Address) (*TransferResult, error) {
	var lastErr error
	for attempt := 1; attempt <= defaultVerifyAttempts; attempt++ {
		result, err := v.VerifyTransfer(ctx, txHash, expectedRecipient, expectedAmount, tokenAddress)
		if err == nil {
			return result, nil
		}
		if !IsTxNotFound(err) {
			return nil, err
		}
		lastErr = err

		v.logger.Debug().
			Str("tx_hash", txHash.Hex()).
			Int("attempt", attempt).
			Msg("transaction not found yet, waiting")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollDelay(attempt)):
		}
	}
	return nil, lastErr
}
