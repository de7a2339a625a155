package models

import (
	"time"

	"github.com/google/uuid"
)

// LicenseType classifies the rights granted by an entitlement.
type LicenseType string

const (
	// LicenseTypePersonal covers personal, non-commercial use.
	LicenseTypePersonal LicenseType = "personal"
	// LicenseTypeCommercial covers commercial usage rights.
	LicenseTypeCommercial LicenseType = "commercial"
)

// Entitlement is durable proof that an address paid for access to an asset
// scope. Entitlements are never revoked: once paid, access is permanent and
// a fresh bearer token can be derived from the row at any time.
type Entitlement struct {
	ID              uuid.UUID   `json:"id"`
	OwnerAddress    string      `json:"owner_address"`
	AssetID         uuid.UUID   `json:"asset_id"`
	UnlockLayerID   *uuid.UUID  `json:"unlock_layer_id,omitempty"`
	TransactionHash string      `json:"transaction_hash"`
	LicenseType     LicenseType `json:"license_type"`
	// ExternalLicenseID is the opaque identifier returned by the licensing
	// service when commercial rights were minted, if any.
	ExternalLicenseID *string   `json:"external_license_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewEntitlement creates an entitlement tied to a verified payment.
func NewEntitlement(owner string, assetID uuid.UUID, layerID *uuid.UUID, txHash string, licenseType LicenseType) *Entitlement {
	return &Entitlement{
		ID:              uuid.New(),
		OwnerAddress:    owner,
		AssetID:         assetID,
		UnlockLayerID:   layerID,
		TransactionHash: txHash,
		LicenseType:     licenseType,
		CreatedAt:       time.Now().UTC(),
	}
}

// Matches reports whether the entitlement covers exactly the given asset and
// layer scope. Layer checks are tier-exact: an entitlement for one layer
// does not cover any other layer of the same asset.
func (e *Entitlement) Matches(assetID uuid.UUID, layerID *uuid.UUID) bool {
	if e.AssetID != assetID {
		return false
	}
	if (e.UnlockLayerID == nil) != (layerID == nil) {
		return false
	}
	if e.UnlockLayerID != nil && *e.UnlockLayerID != *layerID {
		return false
	}
	return true
}
