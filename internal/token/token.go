// Package token issues and validates signed access tokens for unlocked
// resources. A token is the bearer form of an entitlement: it can be
// re-derived from the entitlement row at any time, so nothing here is
// persisted.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is deliberately long: a paid license does not need re-purchase,
// so tokens are treated as effectively permanent.
const DefaultTTL = 10 * 365 * 24 * time.Hour

// Claims are the scope a token authorizes. Validation is exact: a token for
// one asset/layer pair never opens any other.
type Claims struct {
	AssetID       uuid.UUID  `json:"asset_id"`
	UnlockLayerID *uuid.UUID `json:"unlock_layer_id,omitempty"`
	OwnerAddress  string     `json:"owner_address"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// tokenPayload is the JSON structure encoded in a signed token.
type tokenPayload struct {
	AssetID       string `json:"asset_id"`
	UnlockLayerID string `json:"unlock_layer_id,omitempty"`
	OwnerAddress  string `json:"owner_address"`
	IssuedAt      int64  `json:"issued_at"`
	ExpiresAt     int64  `json:"expires_at"`
}

// Issuer signs and verifies access tokens with an Ed25519 key pair.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewIssuer creates an Issuer from a 32-byte Ed25519 seed.
func NewIssuer(seed []byte) (*Issuer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Issuer{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the verification key.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// Issue signs a token for the given scope.
// The key format is: base64url(payload).base64url(signature)
func (i *Issuer) Issue(assetID uuid.UUID, layerID *uuid.UUID, ownerAddress string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now().UTC()

	payload := tokenPayload{
		AssetID:      assetID.String(),
		OwnerAddress: strings.ToLower(ownerAddress),
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
	}
	if layerID != nil {
		payload.UnlockLayerID = layerID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal token payload: %w", err)
	}

	sig := ed25519.Sign(i.privateKey, payloadBytes)
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." +
		base64.RawURLEncoding.EncodeToString(sig), nil
}

// Parse decodes and verifies a token, returning its claims.
func (i *Issuer) Parse(tok string) (*Claims, error) {
	return ParseWithKey(tok, i.publicKey)
}

// ParseWithKey decodes and verifies a token against an explicit public key.
func ParseWithKey(tok string, publicKey ed25519.PublicKey) (*Claims, error) {
	if tok == "" {
		return nil, errors.New("empty token")
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, errors.New("invalid Ed25519 public key")
	}

	parts := strings.SplitN(tok, ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid token format: expected payload.signature")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}

	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode token signature: %w", err)
	}

	if !ed25519.Verify(publicKey, payloadBytes, sigBytes) {
		return nil, errors.New("invalid token signature")
	}

	var payload tokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("parse token payload: %w", err)
	}

	assetID, err := uuid.Parse(payload.AssetID)
	if err != nil {
		return nil, fmt.Errorf("parse asset id claim: %w", err)
	}

	claims := &Claims{
		AssetID:      assetID,
		OwnerAddress: payload.OwnerAddress,
		IssuedAt:     time.Unix(payload.IssuedAt, 0),
		ExpiresAt:    time.Unix(payload.ExpiresAt, 0),
	}
	if payload.UnlockLayerID != "" {
		layerID, err := uuid.Parse(payload.UnlockLayerID)
		if err != nil {
			return nil, fmt.Errorf("parse unlock layer id claim: %w", err)
		}
		claims.UnlockLayerID = &layerID
	}

	return claims, nil
}

// IsExpired reports whether the token has expired.
func (c *Claims) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Authorizes reports whether the claims cover exactly the requested
// asset/layer scope. A structurally valid token for a different asset or a
// different layer of the same asset is rejected; tiers are not cumulative.
func (c *Claims) Authorizes(assetID uuid.UUID, layerID *uuid.UUID) bool {
	if c.IsExpired() {
		return false
	}
	if c.AssetID != assetID {
		return false
	}
	if (c.UnlockLayerID == nil) != (layerID == nil) {
		return false
	}
	if c.UnlockLayerID != nil && *c.UnlockLayerID != *layerID {
		return false
	}
	return true
}
