// Package handlers implements the HTTP endpoints of the unlockd API.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/metrics"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/payments"
	"github.com/rs/zerolog"
)

// ChallengesHandler issues payment challenges for asset scopes.
type ChallengesHandler struct {
	issuer  *payments.ChallengeIssuer
	cfg     config.PaymentConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewChallengesHandler creates a new ChallengesHandler.
func NewChallengesHandler(issuer *payments.ChallengeIssuer, cfg config.PaymentConfig, m *metrics.Metrics, logger zerolog.Logger) *ChallengesHandler {
	return &ChallengesHandler{
		issuer:  issuer,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "challenges_handler").Logger(),
	}
}

// RegisterRoutes registers challenge routes on the given router group.
func (h *ChallengesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/challenge", h.Create)
}

// challengeRequest is the body of POST /challenge.
type challengeRequest struct {
	AssetID          string `json:"assetId" binding:"required"`
	UnlockLayerID    string `json:"unlockLayerId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// platformFeeBody describes the fee split inside a challenge response.
type platformFeeBody struct {
	Percentage    float64 `json:"percentage"`
	Amount        int64   `json:"amount"`
	WalletAddress string  `json:"walletAddress"`
}

// challengeResponse is the body returned for an issued challenge.
type challengeResponse struct {
	PaymentID           string          `json:"paymentId"`
	Token               string          `json:"token"`
	Amount              int64           `json:"amount"`
	Recipient           string          `json:"recipient"`
	Chain               string          `json:"chain"`
	ExpiresAt           time.Time       `json:"expiresAt"`
	PaymentRequestToken string          `json:"paymentRequestToken"`
	AssetID             string          `json:"assetId"`
	UnlockLayerID       string          `json:"unlockLayerId,omitempty"`
	PlatformFee         platformFeeBody `json:"platformFee"`
	CreatorAmount       int64           `json:"creatorAmount"`
}

// newChallengeResponse maps a challenge onto its wire form.
func newChallengeResponse(c *models.PaymentChallenge, cfg config.PaymentConfig) challengeResponse {
	resp := challengeResponse{
		PaymentID:           c.ID,
		Token:               c.TokenAddress,
		Amount:              c.Amount,
		Recipient:           c.Recipient,
		Chain:               c.Network,
		ExpiresAt:           c.ExpiresAt,
		PaymentRequestToken: c.ID,
		AssetID:             c.AssetID.String(),
		PlatformFee: platformFeeBody{
			Percentage:    float64(cfg.PlatformFeeBps) / 100,
			Amount:        c.PlatformFee,
			WalletAddress: cfg.PlatformWallet,
		},
		CreatorAmount: c.CreatorAmount,
	}
	if c.UnlockLayerID != nil {
		resp.UnlockLayerID = c.UnlockLayerID.String()
	}
	return resp
}

// Create issues a payment challenge for an asset or unlock layer.
// POST /api/v1/challenge
func (h *ChallengesHandler) Create(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "assetId is required"})
		return
	}

	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "assetId must be a valid UUID"})
		return
	}

	var layerID *uuid.UUID
	if req.UnlockLayerID != "" {
		id, err := uuid.Parse(req.UnlockLayerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "unlockLayerId must be a valid UUID"})
			return
		}
		layerID = &id
	}

	ttl := time.Duration(req.ExpiresInSeconds) * time.Second

	challenge, err := h.issuer.IssueChallenge(c.Request.Context(), assetID, layerID, ttl)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrAssetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "asset_not_found", "message": "asset does not exist"})
		case errors.Is(err, payments.ErrUnlockLayerNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unlock_layer_not_found", "message": "unlock layer does not exist"})
		default:
			h.logger.Error().Err(err).Str("asset_id", req.AssetID).Msg("failed to issue challenge")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "message": "failed to issue challenge"})
		}
		return
	}

	h.metrics.ChallengesIssued.Inc()
	c.JSON(http.StatusOK, newChallengeResponse(challenge, h.cfg))
}
