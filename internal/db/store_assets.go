package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mosaicworks/unlockd/internal/models"
)

// Asset methods

// GetAssetByID returns an asset by ID, or nil if it does not exist.
func (db *DB) GetAssetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	err := db.Pool.QueryRow(ctx, `
		SELECT id, title, creator_address, base_price, preview_url, content_url, created_at, updated_at
		FROM assets
		WHERE id = $1
	`, id).Scan(&asset.ID, &asset.Title, &asset.CreatorAddress, &asset.BasePrice,
		&asset.PreviewURL, &asset.ContentURL, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &asset, nil
}

// CreateAsset inserts a new asset row.
func (db *DB) CreateAsset(ctx context.Context, asset *models.Asset) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO assets (id, title, creator_address, base_price, preview_url, content_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, asset.ID, asset.Title, asset.CreatorAddress, asset.BasePrice,
		asset.PreviewURL, asset.ContentURL, asset.CreatedAt, asset.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

// GetUnlockLayerByID returns an unlock layer by ID, or nil if it does not exist.
func (db *DB) GetUnlockLayerByID(ctx context.Context, id uuid.UUID) (*models.UnlockLayer, error) {
	var layer models.UnlockLayer
	err := db.Pool.QueryRow(ctx, `
		SELECT id, asset_id, layer_index, name, price, unlock_type, recipient_address, content_url, created_at
		FROM unlock_layers
		WHERE id = $1
	`, id).Scan(&layer.ID, &layer.AssetID, &layer.LayerIndex, &layer.Name, &layer.Price,
		&layer.UnlockType, &layer.RecipientAddress, &layer.ContentURL, &layer.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get unlock layer: %w", err)
	}
	return &layer, nil
}

// GetUnlockLayersByAssetID returns all unlock layers of an asset ordered by layer index.
func (db *DB) GetUnlockLayersByAssetID(ctx context.Context, assetID uuid.UUID) ([]*models.UnlockLayer, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, asset_id, layer_index, name, price, unlock_type, recipient_address, content_url, created_at
		FROM unlock_layers
		WHERE asset_id = $1
		ORDER BY layer_index
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list unlock layers: %w", err)
	}
	defer rows.Close()

	var layers []*models.UnlockLayer
	for rows.Next() {
		var layer models.UnlockLayer
		err := rows.Scan(&layer.ID, &layer.AssetID, &layer.LayerIndex, &layer.Name, &layer.Price,
			&layer.UnlockType, &layer.RecipientAddress, &layer.ContentURL, &layer.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan unlock layer: %w", err)
		}
		layers = append(layers, &layer)
	}

	return layers, rows.Err()
}

// CreateUnlockLayer inserts a new unlock layer row.
func (db *DB) CreateUnlockLayer(ctx context.Context, layer *models.UnlockLayer) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO unlock_layers (id, asset_id, layer_index, name, price, unlock_type, recipient_address, content_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, layer.ID, layer.AssetID, layer.LayerIndex, layer.Name, layer.Price,
		layer.UnlockType, layer.RecipientAddress, layer.ContentURL, layer.CreatedAt)
	if err != nil {
		return fmt.Errorf("create unlock layer: %w", err)
	}
	return nil
}
