package models

import (
	"time"

	"github.com/google/uuid"
)

// SideEffectError records a non-fatal failure that occurred while committing
// a payment, such as an external license mint that did not go through. The
// payment itself remains valid; the error is kept on the row so it stays
// auditable after the fact.
type SideEffectError struct {
	Op         string    `json:"op"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// VerifiedPayment is the durable record of a confirmed on-chain payment.
// There is at most one row per transaction hash; that uniqueness is the
// correctness guarantee of the whole purchase protocol.
type VerifiedPayment struct {
	TransactionHash string     `json:"transaction_hash"`
	PayerAddress    string     `json:"payer_address"`
	AssetID         uuid.UUID  `json:"asset_id"`
	UnlockLayerID   *uuid.UUID `json:"unlock_layer_id,omitempty"`
	// AmountPaid is the on-chain transfer value in token minor units.
	AmountPaid    int64 `json:"amount_paid"`
	CreatorAmount int64 `json:"creator_amount"`
	PlatformFee   int64 `json:"platform_fee"`
	// PlatformTxHash is set when the payer routed the platform fee as a
	// separate transfer.
	PlatformTxHash   *string           `json:"platform_tx_hash,omitempty"`
	BlockNumber      int64             `json:"block_number"`
	SideEffectErrors []SideEffectError `json:"side_effect_errors,omitempty"`
	VerifiedAt       time.Time         `json:"verified_at"`
}

// NewVerifiedPayment creates a payment record for a confirmed transfer.
func NewVerifiedPayment(txHash, payer string, assetID uuid.UUID, layerID *uuid.UUID, amountPaid, creatorAmount, fee int64, blockNumber int64) *VerifiedPayment {
	return &VerifiedPayment{
		TransactionHash: txHash,
		PayerAddress:    payer,
		AssetID:         assetID,
		UnlockLayerID:   layerID,
		AmountPaid:      amountPaid,
		CreatorAmount:   creatorAmount,
		PlatformFee:     fee,
		BlockNumber:     blockNumber,
		VerifiedAt:      time.Now().UTC(),
	}
}

// AddSideEffectError appends a recovered side-effect failure to the record.
func (p *VerifiedPayment) AddSideEffectError(op string, err error) {
	p.SideEffectErrors = append(p.SideEffectErrors, SideEffectError{
		Op:         op,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}
