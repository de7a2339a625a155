package models

import (
	"time"

	"github.com/google/uuid"
)

// UnlockType represents the access tier an unlock layer grants.
type UnlockType string

const (
	// UnlockTypePreview grants access to a watermarked or reduced preview.
	UnlockTypePreview UnlockType = "preview"
	// UnlockTypeHD grants access to the high-resolution rendition.
	UnlockTypeHD UnlockType = "hd"
	// UnlockTypeFull grants access to the original file.
	UnlockTypeFull UnlockType = "full"
	// UnlockTypeCommercial grants full access plus commercial usage rights.
	UnlockTypeCommercial UnlockType = "commercial"
)

// IsValid reports whether the unlock type is one of the known tiers.
func (t UnlockType) IsValid() bool {
	switch t {
	case UnlockTypePreview, UnlockTypeHD, UnlockTypeFull, UnlockTypeCommercial:
		return true
	}
	return false
}

// Asset represents a sellable digital asset in the catalog.
// The catalog itself is maintained by an external service; unlockd only
// reads it to price challenges and serve gated payloads.
type Asset struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	CreatorAddress string    `json:"creator_address"`
	// BasePrice is the price of the base asset in token minor units.
	BasePrice  int64     `json:"base_price"`
	PreviewURL string    `json:"preview_url,omitempty"`
	ContentURL string    `json:"content_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UnlockLayer is a purchasable access tier scoped to a single asset.
// Layers are ordered by LayerIndex and priced independently; owning one
// layer grants access to that layer only.
type UnlockLayer struct {
	ID         uuid.UUID  `json:"id"`
	AssetID    uuid.UUID  `json:"asset_id"`
	LayerIndex int        `json:"layer_index"`
	Name       string     `json:"name"`
	Price      int64      `json:"price"`
	UnlockType UnlockType `json:"unlock_type"`
	// RecipientAddress overrides the asset's creator address for this
	// layer's payments when set.
	RecipientAddress string    `json:"recipient_address,omitempty"`
	ContentURL       string    `json:"content_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Recipient returns the payment recipient for this layer, falling back to
// the owning asset's creator address.
func (l *UnlockLayer) Recipient(asset *Asset) string {
	if l.RecipientAddress != "" {
		return l.RecipientAddress
	}
	return asset.CreatorAddress
}
