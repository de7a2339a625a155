package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/api/middleware"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/payments"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

// ResourceStore defines the store operations the resource gate needs.
type ResourceStore interface {
	GetAssetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	GetUnlockLayerByID(ctx context.Context, id uuid.UUID) (*models.UnlockLayer, error)
	GetUnlockLayersByAssetID(ctx context.Context, assetID uuid.UUID) ([]*models.UnlockLayer, error)
	GetVerifiedPaymentByTxHash(ctx context.Context, txHash string) (*models.VerifiedPayment, error)
}

// ResourcesHandler is the gate in front of paid asset payloads: a request
// either carries proof of payment for the exact scope it asks for, or it
// gets a 402 with a fresh challenge.
type ResourcesHandler struct {
	store  ResourceStore
	tokens *token.Issuer
	issuer *payments.ChallengeIssuer
	cfg    config.PaymentConfig
	logger zerolog.Logger
}

// NewResourcesHandler creates a new ResourcesHandler.
func NewResourcesHandler(store ResourceStore, tokens *token.Issuer, issuer *payments.ChallengeIssuer, cfg config.PaymentConfig, logger zerolog.Logger) *ResourcesHandler {
	return &ResourcesHandler{
		store:  store,
		tokens: tokens,
		issuer: issuer,
		cfg:    cfg,
		logger: logger.With().Str("component", "resources_handler").Logger(),
	}
}

// RegisterRoutes registers resource routes on the given router group.
func (h *ResourcesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/resource/:id", h.Get)
}

// resourceResponse is the unlocked payload for an exact asset/layer scope.
type resourceResponse struct {
	AssetID       string `json:"assetId"`
	UnlockLayerID string `json:"unlockLayerId,omitempty"`
	Title         string `json:"title"`
	UnlockType    string `json:"unlockType,omitempty"`
	ContentURL    string `json:"contentUrl"`
}

// Get serves a gated resource, or responds 402 with a fresh payment
// challenge and public preview metadata. The unlockLayerId query parameter
// selects a tier; entitlement checks are tier-exact.
// GET /api/v1/resource/:id
func (h *ResourcesHandler) Get(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "resource id must be a valid UUID"})
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

	asset, err := h.store.GetAssetByID(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Error().Err(err).Str("asset_id", assetID.String()).Msg("failed to load asset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to load resource"})
		return
	}
	if asset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset_not_found", "message": "resource does not exist"})
		return
	}

	var layer *models.UnlockLayer
	if layerID != nil {
		layer, err = h.store.GetUnlockLayerByID(c.Request.Context(), *layerID)
		if err != nil {
			h.logger.Error().Err(err).Str("layer_id", layerID.String()).Msg("failed to load unlock layer")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to load resource"})
			return
		}
		if layer == nil || layer.AssetID != assetID {
			c.JSON(http.StatusNotFound, gin.H{"error": "unlock_layer_not_found", "message": "unlock layer does not exist"})
			return
		}
	}

	// A bearer token that is present but wrong for this scope is rejected
	// outright; only proof-less requests get the 402 challenge flow.
	if bearer := middleware.BearerToken(c); bearer != "" {
		claims, err := h.tokens.Parse(bearer)
		if err != nil || !claims.Authorizes(assetID, layerID) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token does not authorize this resource"})
			return
		}
		h.serveUnlocked(c, asset, layer)
		return
	}

	if proofTx := middleware.PaymentProofTx(c); proofTx != "" {
		payment, err := h.store.GetVerifiedPaymentByTxHash(c.Request.Context(), strings.ToLower(proofTx))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to look up payment proof")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to check payment proof"})
			return
		}
		if payment == nil || !paymentCoversScope(payment, assetID, layerID) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "payment proof does not cover this resource"})
			return
		}
		h.serveUnlocked(c, asset, layer)
		return
	}

	h.respondPaymentRequired(c, asset, assetID, layerID)
}

// serveUnlocked returns the payload for exactly the authorized scope.
func (h *ResourcesHandler) serveUnlocked(c *gin.Context, asset *models.Asset, layer *models.UnlockLayer) {
	resp := resourceResponse{
		AssetID:    asset.ID.String(),
		Title:      asset.Title,
		ContentURL: asset.ContentURL,
	}
	if layer != nil {
		resp.UnlockLayerID = layer.ID.String()
		resp.UnlockType = string(layer.UnlockType)
		resp.ContentURL = layer.ContentURL
	}
	c.JSON(http.StatusOK, resp)
}

// respondPaymentRequired emits a fresh challenge plus the public preview
// metadata an unauthenticated caller may see.
func (h *ResourcesHandler) respondPaymentRequired(c *gin.Context, asset *models.Asset, assetID uuid.UUID, layerID *uuid.UUID) {
	challenge, err := h.issuer.IssueChallenge(c.Request.Context(), assetID, layerID, 0)
	if err != nil {
		if errors.Is(err, payments.ErrAssetNotFound) || errors.Is(err, payments.ErrUnlockLayerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset_not_found", "message": "resource does not exist"})
			return
		}
		h.logger.Error().Err(err).Str("asset_id", assetID.String()).Msg("failed to issue challenge for locked resource")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to issue payment challenge"})
		return
	}

	layers, err := h.store.GetUnlockLayersByAssetID(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Warn().Err(err).Str("asset_id", assetID.String()).Msg("failed to load layers for preview metadata")
	}

	type layerPreview struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Price      int64  `json:"price"`
		UnlockType string `json:"unlockType"`
	}
	previews := make([]layerPreview, 0, len(layers))
	for _, l := range layers {
		previews = append(previews, layerPreview{
			ID:         l.ID.String(),
			Name:       l.Name,
			Price:      l.Price,
			UnlockType: string(l.UnlockType),
		})
	}

	c.JSON(http.StatusPaymentRequired, gin.H{
		"error":               "payment_required",
		"code":                http.StatusPaymentRequired,
		"challenge":           newChallengeResponse(challenge, h.cfg),
		"paymentRequestToken": challenge.ID,
		"metadata": gin.H{
			"title":      asset.Title,
			"previewUrl": asset.PreviewURL,
			"layers":     previews,
		},
	})
}

// paymentCoversScope reports whether a verified payment covers exactly the
// requested asset/layer pair.
func paymentCoversScope(p *models.VerifiedPayment, assetID uuid.UUID, layerID *uuid.UUID) bool {
	if p.AssetID != assetID {
		return false
	}
	if (p.UnlockLayerID == nil) != (layerID == nil) {
		return false
	}
	if p.UnlockLayerID != nil && *p.UnlockLayerID != *layerID {
		return false
	}
	return true
}
