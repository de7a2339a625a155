// Package payments implements the pay-per-resource protocol core: issuing
// payment challenges, verifying on-chain transfers against them, and
// committing the resulting entitlements.
package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/rs/zerolog"
)

// feeBpsDenominator converts basis points to a fraction.
const feeBpsDenominator = 10000

// IssuerStore defines the store operations the challenge issuer needs.
type IssuerStore interface {
	GetAssetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	GetUnlockLayerByID(ctx context.Context, id uuid.UUID) (*models.UnlockLayer, error)
	UpsertChallenge(ctx context.Context, c *models.PaymentChallenge) error
}

// ChallengeIssuer prices asset scopes and emits time-boxed payment challenges.
type ChallengeIssuer struct {
	store  IssuerStore
	cfg    config.PaymentConfig
	logger zerolog.Logger
}

// NewChallengeIssuer creates a ChallengeIssuer.
func NewChallengeIssuer(store IssuerStore, cfg config.PaymentConfig, logger zerolog.Logger) *ChallengeIssuer {
	return &ChallengeIssuer{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "challenge_issuer").Logger(),
	}
}

// SplitFee computes the platform's cut of amount at feeBps basis points.
// The fee rounds down; the creator keeps the remainder, so the two shares
// always sum to the full amount.
func SplitFee(amount, feeBps int64) (creatorAmount, fee int64) {
	fee = amount * feeBps / feeBpsDenominator
	return amount - fee, fee
}

// IssueChallenge resolves the price and recipient for an asset scope and
// persists a fresh challenge. A zero ttl uses the configured default.
// Issuing the same scope twice yields the same challenge ID.
func (i *ChallengeIssuer) IssueChallenge(ctx context.Context, assetID uuid.UUID, layerID *uuid.UUID, ttl time.Duration) (*models.PaymentChallenge, error) {
	asset, err := i.store.GetAssetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrAssetNotFound
	}

	amount := asset.BasePrice
	recipient := asset.CreatorAddress

	if layerID != nil {
		layer, err := i.store.GetUnlockLayerByID(ctx, *layerID)
		if err != nil {
			return nil, err
		}
		if layer == nil || layer.AssetID != assetID {
			return nil, ErrUnlockLayerNotFound
		}
		amount = layer.Price
		recipient = layer.Recipient(asset)
	}

	if ttl <= 0 {
		ttl = i.cfg.ChallengeTTL
	}

	creatorAmount, fee := SplitFee(amount, i.cfg.PlatformFeeBps)
	challenge := models.NewPaymentChallenge(assetID, layerID, amount, creatorAmount, fee,
		i.cfg.TokenAddress, recipient, i.cfg.Network, ttl)

	if err := i.store.UpsertChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	i.logger.Debug().
		Str("challenge_id", challenge.ID).
		Str("asset_id", assetID.String()).
		Int64("amount", amount).
		Int64("platform_fee", fee).
		Time("expires_at", challenge.ExpiresAt).
		Msg("challenge issued")

	return challenge, nil
}
