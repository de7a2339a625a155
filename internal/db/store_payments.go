package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mosaicworks/unlockd/internal/models"
)

// VerifiedPayment methods

// GetVerifiedPaymentByTxHash returns a payment record, or nil if the
// transaction has not been verified.
func (db *DB) GetVerifiedPaymentByTxHash(ctx context.Context, txHash string) (*models.VerifiedPayment, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT transaction_hash, payer_address, asset_id, unlock_layer_id,
		       amount_paid, creator_amount, platform_fee, platform_tx_hash,
		       block_number, side_effect_errors, verified_at
		FROM verified_payments
		WHERE transaction_hash = $1
	`, txHash)

	payment, err := scanVerifiedPayment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get verified payment: %w", err)
	}
	return payment, nil
}

// CommitPayment records a verified payment and its entitlement as one atomic
// unit. The insert is keyed on the transaction hash with ON CONFLICT DO
// NOTHING: when two verify calls race on the same transaction, exactly one
// row is committed and the losing writer re-reads the winner's row. The
// returned payment is always the committed row; inserted reports whether
// this call was the writer.
func (db *DB) CommitPayment(ctx context.Context, payment *models.VerifiedPayment, entitlement *models.Entitlement) (*models.VerifiedPayment, bool, error) {
	sideEffects, err := json.Marshal(payment.SideEffectErrors)
	if err != nil {
		return nil, false, fmt.Errorf("marshal side effect errors: %w", err)
	}

	var inserted bool
	err = db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO verified_payments
				(transaction_hash, payer_address, asset_id, unlock_layer_id,
				 amount_paid, creator_amount, platform_fee, platform_tx_hash,
				 block_number, side_effect_errors, verified_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (transaction_hash) DO NOTHING
		`, payment.TransactionHash, payment.PayerAddress, payment.AssetID, payment.UnlockLayerID,
			payment.AmountPaid, payment.CreatorAmount, payment.PlatformFee, payment.PlatformTxHash,
			payment.BlockNumber, sideEffects, payment.VerifiedAt)
		if err != nil {
			return fmt.Errorf("insert verified payment: %w", err)
		}

		inserted = tag.RowsAffected() == 1
		if !inserted {
			// A concurrent writer won; nothing else to do in this transaction.
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO entitlements
				(id, owner_address, asset_id, unlock_layer_id, transaction_hash,
				 license_type, external_license_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (transaction_hash) DO NOTHING
		`, entitlement.ID, entitlement.OwnerAddress, entitlement.AssetID, entitlement.UnlockLayerID,
			entitlement.TransactionHash, entitlement.LicenseType, entitlement.ExternalLicenseID,
			entitlement.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert entitlement: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if inserted {
		return payment, true, nil
	}

	winner, err := db.GetVerifiedPaymentByTxHash(ctx, payment.TransactionHash)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("payment %s lost insert race but winner row is missing", payment.TransactionHash)
	}
	return winner, false, nil
}

// scanVerifiedPayment scans a payment row including its jsonb side effects.
func scanVerifiedPayment(row pgx.Row) (*models.VerifiedPayment, error) {
	var p models.VerifiedPayment
	var sideEffects []byte
	err := row.Scan(&p.TransactionHash, &p.PayerAddress, &p.AssetID, &p.UnlockLayerID,
		&p.AmountPaid, &p.CreatorAmount, &p.PlatformFee, &p.PlatformTxHash,
		&p.BlockNumber, &sideEffects, &p.VerifiedAt)
	if err != nil {
		return nil, err
	}
	if len(sideEffects) > 0 {
		if err := json.Unmarshal(sideEffects, &p.SideEffectErrors); err != nil {
			return nil, fmt.Errorf("unmarshal side effect errors: %w", err)
		}
	}
	return &p, nil
}
