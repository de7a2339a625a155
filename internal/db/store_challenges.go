package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mosaicworks/unlockd/internal/models"
)

// PaymentChallenge methods

// UpsertChallenge persists a challenge keyed by its content-derived ID.
// Re-issuing an identical challenge is a no-op rather than a duplicate row;
// the stored expiry is refreshed so a re-requested challenge does not die
// on its predecessor's clock.
func (db *DB) UpsertChallenge(ctx context.Context, c *models.PaymentChallenge) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO payment_challenges
			(id, asset_id, unlock_layer_id, amount, creator_amount, platform_fee,
			 token_address, recipient, network, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, c.ID, c.AssetID, c.UnlockLayerID, c.Amount, c.CreatorAmount, c.PlatformFee,
		c.TokenAddress, c.Recipient, c.Network, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert challenge: %w", err)
	}
	return nil
}

// GetChallengeByID returns a stored challenge, or nil if it does not exist.
func (db *DB) GetChallengeByID(ctx context.Context, id string) (*models.PaymentChallenge, error) {
	var c models.PaymentChallenge
	err := db.Pool.QueryRow(ctx, `
		SELECT id, asset_id, unlock_layer_id, amount, creator_amount, platform_fee,
		       token_address, recipient, network, expires_at, created_at
		FROM payment_challenges
		WHERE id = $1
	`, id).Scan(&c.ID, &c.AssetID, &c.UnlockLayerID, &c.Amount, &c.CreatorAmount, &c.PlatformFee,
		&c.TokenAddress, &c.Recipient, &c.Network, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return &c, nil
}

// DeleteChallenge removes a challenge, typically after successful verification.
func (db *DB) DeleteChallenge(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM payment_challenges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// DeleteExpiredChallenges purges challenges whose deadline passed before cutoff.
// Returns the number of rows removed.
func (db *DB) DeleteExpiredChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM payment_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
