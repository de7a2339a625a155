package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// transferEventSig is the keccak256 of the ERC-20 Transfer(address,address,uint256) event.
var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// toleranceDenominator sets the relative slack on amount checks: 1/10000
// (0.01%) absorbs integer-rounding noise from fee arithmetic upstream.
const toleranceDenominator = 10000

// TransferResult describes the on-chain transfer that satisfied a challenge.
type TransferResult struct {
	Payer       common.Address
	Amount      *big.Int
	BlockNumber int64
}

// decodedTransfer is one Transfer event pulled off a receipt.
type decodedTransfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// TransferVerifier confirms that a transaction carries a token transfer
// matching a payment challenge.
type TransferVerifier struct {
	provider Provider
	logger   zerolog.Logger
}

// NewTransferVerifier creates a verifier over the given chain provider.
func NewTransferVerifier(provider Provider, logger zerolog.Logger) *TransferVerifier {
	return &TransferVerifier{
		provider: provider,
		logger:   logger.With().Str("component", "transfer_verifier").Logger(),
	}
}

// VerifyTransfer checks that txHash contains a token transfer from the given
// token contract to expectedRecipient for expectedAmount (within tolerance).
// Definitive failures return a *VerificationError; RPC problems return plain
// errors so callers can distinguish a bad transaction from an unreachable chain.
func (v *TransferVerifier) VerifyTransfer(ctx context.Context, txHash common.Hash, expectedRecipient common.Address, expectedAmount *big.Int, tokenAddress common.Address) (*TransferResult, error) {
	receipt, err := v.provider.ReceiptByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &VerificationError{
			Code:    CodeTxNotFound,
			Message: fmt.Sprintf("transaction %s not found", txHash.Hex()),
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &VerificationError{
			Code:    CodeTxFailed,
			Message: fmt.Sprintf("transaction %s execution failed", txHash.Hex()),
		}
	}

	transfers := decodeTransfers(receipt, tokenAddress)
	if len(transfers) == 0 {
		return nil, &VerificationError{
			Code:    CodeNoTransferToRecipient,
			Message: fmt.Sprintf("transaction %s contains no transfers of token %s", txHash.Hex(), tokenAddress.Hex()),
		}
	}

	// First transfer paying the expected recipient wins; address compare is
	// case-insensitive by construction (common.Address is canonical bytes).
	var match *decodedTransfer
	for i := range transfers {
		if transfers[i].To == expectedRecipient {
			match = &transfers[i]
			break
		}
	}
	if match == nil {
		return nil, &VerificationError{
			Code:    CodeNoTransferToRecipient,
			Message: fmt.Sprintf("no transfer to recipient %s in transaction %s", expectedRecipient.Hex(), txHash.Hex()),
		}
	}

	if !withinTolerance(match.Value, expectedAmount) {
		return nil, &VerificationError{
			Code:     CodeAmountMismatch,
			Message:  "transfer amount outside tolerance",
			Received: new(big.Int).Set(match.Value),
			Required: new(big.Int).Set(expectedAmount),
		}
	}

	blockNumber := int64(0)
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Int64()
	}

	v.logger.Debug().
		Str("tx_hash", txHash.Hex()).
		Str("payer", match.From.Hex()).
		Str("amount", match.Value.String()).
		Int64("block", blockNumber).
		Msg("transfer verified")

	return &TransferResult{
		Payer:       match.From,
		Amount:      new(big.Int).Set(match.Value),
		BlockNumber: blockNumber,
	}, nil
}

// decodeTransfers extracts every Transfer event emitted by the token
// contract on the receipt.
func decodeTransfers(receipt *types.Receipt, tokenAddress common.Address) []decodedTransfer {
	var transfers []decodedTransfer
	for _, log := range receipt.Logs {
		if log.Address != tokenAddress {
			continue
		}
		// Indexed from/to land in topics 1 and 2; value stays in the data.
		if len(log.Topics) != 3 || log.Topics[0] != transferEventSig {
			continue
		}
		transfers = append(transfers, decodedTransfer{
			From:  common.BytesToAddress(log.Topics[1].Bytes()),
			To:    common.BytesToAddress(log.Topics[2].Bytes()),
			Value: new(big.Int).SetBytes(log.Data),
		})
	}
	return transfers
}

// withinTolerance reports whether |value - expected| <= expected / 10000.
func withinTolerance(value, expected *big.Int) bool {
	diff := new(big.Int).Sub(value, expected)
	diff.Abs(diff)
	tolerance := new(big.Int).Div(expected, big.NewInt(toleranceDenominator))
	return diff.Cmp(tolerance) <= 0
}
