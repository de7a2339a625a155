package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// EntitlementStore defines the store operations entitlement handlers need.
type EntitlementStore interface {
	GetEntitlementsByOwner(ctx context.Context, owner string) ([]*models.Entitlement, error)
	FindEntitlement(ctx context.Context, owner string, assetID uuid.UUID, layerID *uuid.UUID) (*models.Entitlement, error)
}

// EntitlementsHandler exposes entitlement lookups and token re-derivation.
type EntitlementsHandler struct {
	store  EntitlementStore
	tokens *token.Issuer
	logger zerolog.Logger
}

// NewEntitlementsHandler creates a new EntitlementsHandler.
func NewEntitlementsHandler(store EntitlementStore, tokens *token.Issuer, logger zerolog.Logger) *EntitlementsHandler {
	return &EntitlementsHandler{
		store:  store,
		tokens: tokens,
		logger: logger.With().Str("component", "entitlements_handler").Logger(),
	}
}

// RegisterRoutes registers entitlement routes on the given router group.
func (h *EntitlementsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/entitlements", h.List)
	r.GET("/entitlements/token", h.Token)
}

// List returns all entitlements owned by an address.
// GET /api/v1/entitlements?address=0x...
func (h *EntitlementsHandler) List(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if !addressPattern.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "address must be a 0x-prefixed 20-byte hex address"})
		return
	}

	entitlements, err := h.store.GetEntitlementsByOwner(c.Request.Context(), strings.ToLower(address))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list entitlements")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to list entitlements"})
		return
	}
	if entitlements == nil {
		entitlements = []*models.Entitlement{}
	}

	c.JSON(http.StatusOK, gin.H{
		"address":      strings.ToLower(address),
		"entitlements": entitlements,
	})
}

// Token re-derives an access token from an existing entitlement, so a payer
// who lost their token gets a fresh one without paying again.
// GET /api/v1/entitlements/token?address=0x...&assetId=...&unlockLayerId=...
func (h *EntitlementsHandler) Token(c *gin.Context) {
	address := strings.TrimSpace(c.Query("address"))
	if !addressPattern.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "address must be a 0x-prefixed 20-byte hex address"})
		return
	}

	assetID, err := uuid.Parse(c.Query("assetId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "assetId must be a valid UUID"})
		return
	}

	var layerID *uuid.UUID
	if raw := c.Query("unlockLayerId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "unlockLayerId must be a valid UUID"})
			return
		}
		layerID = &id
	}

	owner := strings.ToLower(address)
	entitlement, err := h.store.FindEntitlement(c.Request.Context(), owner, assetID, layerID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up entitlement")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to look up entitlement"})
		return
	}
	if entitlement == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entitlement_not_found", "message": "no entitlement for this address and scope"})
		return
	}

	tok, err := h.tokens.Issue(assetID, layerID, owner, token.DefaultTTL)
	if err != nil {
		h.logger.Error().Err(err).Str("asset_id", assetID.String()).Msg("failed to issue access token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to issue access token"})
		return
	}

	h.logger.Info().
		Str("owner", owner).
		Str("asset_id", assetID.String()).
		Msg("access token re-derived from entitlement")

	c.JSON(http.StatusOK, gin.H{
		"accessToken": tok,
		"entitlement": entitlement,
	})
}
