package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mosaicworks/unlockd/internal/models"
)

// Entitlement methods

// GetEntitlementByTxHash returns the entitlement minted for a payment, or
// nil if none exists.
func (db *DB) GetEntitlementByTxHash(ctx context.Context, txHash string) (*models.Entitlement, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, owner_address, asset_id, unlock_layer_id, transaction_hash,
		       license_type, external_license_id, created_at
		FROM entitlements
		WHERE transaction_hash = $1
	`, txHash)

	e, err := scanEntitlement(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get entitlement by tx: %w", err)
	}
	return e, nil
}

// FindEntitlement returns the entitlement an address holds for an exact
// asset/layer scope, or nil if the address never paid for that scope.
// Layer matching is tier-exact, including the no-layer (base asset) case.
func (db *DB) FindEntitlement(ctx context.Context, owner string, assetID uuid.UUID, layerID *uuid.UUID) (*models.Entitlement, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, owner_address, asset_id, unlock_layer_id, transaction_hash,
		       license_type, external_license_id, created_at
		FROM entitlements
		WHERE owner_address = $1 AND asset_id = $2 AND unlock_layer_id IS NOT DISTINCT FROM $3
		ORDER BY created_at
		LIMIT 1
	`, strings.ToLower(owner), assetID, layerID)

	e, err := scanEntitlement(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find entitlement: %w", err)
	}
	return e, nil
}

// GetEntitlementsByOwner returns every entitlement held by an address.
func (db *DB) GetEntitlementsByOwner(ctx context.Context, owner string) ([]*models.Entitlement, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, owner_address, asset_id, unlock_layer_id, transaction_hash,
		       license_type, external_license_id, created_at
		FROM entitlements
		WHERE owner_address = $1
		ORDER BY created_at DESC
	`, strings.ToLower(owner))
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var entitlements []*models.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		entitlements = append(entitlements, e)
	}

	return entitlements, rows.Err()
}

// scanEntitlement scans an entitlement from a row or rows cursor.
func scanEntitlement(row pgx.Row) (*models.Entitlement, error) {
	var e models.Entitlement
	err := row.Scan(&e.ID, &e.OwnerAddress, &e.AssetID, &e.UnlockLayerID, &e.TransactionHash,
		&e.LicenseType, &e.ExternalLicenseID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
