package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChallengeTTL is how long an issued payment challenge stays valid.
const DefaultChallengeTTL = 300 * time.Second

// PaymentChallenge describes the payment a client must make before a
// resource is unlocked: how much, in which token, to whom, and by when.
type PaymentChallenge struct {
	// ID is derived from the challenge content, so issuing the same
	// challenge twice yields the same row.
	ID            string     `json:"id"`
	AssetID       uuid.UUID  `json:"asset_id"`
	UnlockLayerID *uuid.UUID `json:"unlock_layer_id,omitempty"`
	// Amount is the total payable in token minor units.
	Amount        int64     `json:"amount"`
	CreatorAmount int64     `json:"creator_amount"`
	PlatformFee   int64     `json:"platform_fee"`
	TokenAddress  string    `json:"token_address"`
	Recipient     string    `json:"recipient"`
	Network       string    `json:"network"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewPaymentChallenge creates a challenge for the given scope and amounts.
func NewPaymentChallenge(assetID uuid.UUID, layerID *uuid.UUID, amount, creatorAmount, fee int64, tokenAddress, recipient, network string, ttl time.Duration) *PaymentChallenge {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	now := time.Now().UTC()
	c := &PaymentChallenge{
		AssetID:       assetID,
		UnlockLayerID: layerID,
		Amount:        amount,
		CreatorAmount: creatorAmount,
		PlatformFee:   fee,
		TokenAddress:  strings.ToLower(tokenAddress),
		Recipient:     strings.ToLower(recipient),
		Network:       network,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	c.ID = c.contentID()
	return c
}

// contentID hashes the stable challenge fields. Timestamps are excluded so
// that re-requesting a challenge for the same scope and price maps onto the
// existing row.
func (c *PaymentChallenge) contentID() string {
	layer := ""
	if c.UnlockLayerID != nil {
		layer = c.UnlockLayerID.String()
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s|%s|%s",
		c.AssetID, layer, c.Amount, c.TokenAddress, c.Recipient, c.Network))
	return hex.EncodeToString(sum[:])
}

// IsExpired reports whether the challenge deadline has passed.
func (c *PaymentChallenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
