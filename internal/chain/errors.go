package chain

import (
	"errors"
	"fmt"
	"math/big"
)

// VerifyErrorCode classifies why a transfer failed verification.
type VerifyErrorCode string

const (
	// CodeTxNotFound means no receipt exists for the hash yet.
	CodeTxNotFound VerifyErrorCode = "tx_not_found"
	// CodeTxFailed means the transaction executed but reverted.
	CodeTxFailed VerifyErrorCode = "tx_failed"
	// CodeNoTransferToRecipient means no token transfer on the receipt pays
	// the expected recipient.
	CodeNoTransferToRecipient VerifyErrorCode = "no_transfer_to_recipient"
	// CodeAmountMismatch means the transfer value is outside tolerance of
	// the expected amount.
	CodeAmountMismatch VerifyErrorCode = "amount_mismatch"
)

// VerificationError is a definitive verification failure: the transaction is
// absent, reverted, or does not pay what the challenge demanded. It is never
// used for infrastructure failures, which surface as plain wrapped errors so
// callers can tell a bad transaction from a flaky RPC.
type VerificationError struct {
	Code    VerifyErrorCode
	Message string
	// Received and Required carry the observed and expected transfer values
	// verbatim on amount mismatches, for reconciliation and tests.
	Received *big.Int
	Required *big.Int
	// ExplorerLink points a human at the transaction when set.
	ExplorerLink string
}

func (e *VerificationError) Error() string {
	if e.Received != nil && e.Required != nil {
		return fmt.Sprintf("%s: %s (received=%s, required=%s)", e.Code, e.Message, e.Received, e.Required)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsVerificationError unwraps err into a VerificationError if it is one.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// IsTxNotFound reports whether err is a tx_not_found verification failure,
// the only failure worth retrying while a transaction confirms.
func IsTxNotFound(err error) bool {
	verr, ok := AsVerificationError(err)
	return ok && verr.Code == CodeTxNotFound
}
