package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/chain"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/payments"
	"github.com/rs/zerolog"
)

// VerifyHandler confirms claimed payments and returns access tokens.
type VerifyHandler struct {
	service  *payments.Service
	networks config.NetworkCatalog
	network  string
	env      config.Environment
	logger   zerolog.Logger
}

// NewVerifyHandler creates a new VerifyHandler. network names the chain the
// service verifies against, for explorer links in error diagnostics.
func NewVerifyHandler(service *payments.Service, networks config.NetworkCatalog, network string, env config.Environment, logger zerolog.Logger) *VerifyHandler {
	return &VerifyHandler{
		service:  service,
		networks: networks,
		network:  network,
		env:      env,
		logger:   logger.With().Str("component", "verify_handler").Logger(),
	}
}

// RegisterRoutes registers verify routes on the given router group.
func (h *VerifyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/verify", h.Verify)
}

// verifyRequest is the body of POST /verify.
type verifyRequest struct {
	TransactionHash         string `json:"transactionHash" binding:"required"`
	PlatformTransactionHash string `json:"platformTransactionHash"`
	PaymentRequestToken     string `json:"paymentRequestToken" binding:"required"`
	AssetID                 string `json:"assetId" binding:"required"`
	UnlockLayerID           string `json:"unlockLayerId"`
	Challenge               struct {
		ExpiresAt *time.Time `json:"expiresAt"`
	} `json:"challenge"`
}

// verifyResponse is the body returned for a verified payment.
type verifyResponse struct {
	AccessToken     string `json:"accessToken"`
	License         string `json:"license,omitempty"`
	TransactionHash string `json:"transactionHash"`
	AssetID         string `json:"assetId"`
}

// Verify checks a claimed payment against the chain and records it.
// Submitting an already-verified transaction hash is success, not an error.
// POST /api/v1/verify
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "transactionHash, paymentRequestToken and assetId are required"})
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

	result, err := h.service.VerifyAndRecord(c.Request.Context(), payments.VerifyRequest{
		TransactionHash:         req.TransactionHash,
		PlatformTransactionHash: req.PlatformTransactionHash,
		PaymentRequestToken:     req.PaymentRequestToken,
		AssetID:                 assetID,
		UnlockLayerID:           layerID,
		ChallengeExpiresAt:      req.Challenge.ExpiresAt,
	})
	if err != nil {
		h.respondError(c, req.TransactionHash, err)
		return
	}

	resp := verifyResponse{
		AccessToken:     result.AccessToken,
		TransactionHash: result.Payment.TransactionHash,
		AssetID:         result.Payment.AssetID.String(),
	}
	if result.License != nil {
		resp.License = result.License.LicenseID
	}

	c.JSON(http.StatusOK, resp)
}

// respondError maps verify failures onto the wire error taxonomy.
func (h *VerifyHandler) respondError(c *gin.Context, txHash string, err error) {
	if expErr, ok := payments.AsExpiredChallenge(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "challenge_expired",
			"message":   "payment challenge has expired, request a new one",
			"expiresAt": expErr.ExpiresAt,
		})
		return
	}

	if verr, ok := chain.AsVerificationError(err); ok {
		h.respondVerificationError(c, txHash, verr)
		return
	}

	switch {
	case errors.Is(err, payments.ErrInvalidTxHash):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tx", "message": "transactionHash must be a 0x-prefixed 32-byte hex hash"})
	case errors.Is(err, payments.ErrChallengeNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "unknown payment request token"})
	case errors.Is(err, payments.ErrAssetNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "asset_not_found", "message": "asset does not exist"})
	default:
		h.logger.Error().Err(err).Str("tx_hash", txHash).Msg("verify failed")
		body := gin.H{"error": "server_error", "message": "payment verification failed"}
		if h.env != config.EnvProduction {
			body["message"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

// respondVerificationError renders a definitive chain-level failure with the
// diagnostics manual reconciliation needs.
func (h *VerifyHandler) respondVerificationError(c *gin.Context, txHash string, verr *chain.VerificationError) {
	explorer := h.networks.ExplorerLink(h.network, txHash)

	switch verr.Code {
	case chain.CodeTxNotFound:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid_tx",
			"message":  "transaction not found on chain; resubmit once it has confirmed",
			"explorer": explorer,
		})
	case chain.CodeTxFailed:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid_tx",
			"message":  "transaction execution failed on chain",
			"explorer": explorer,
		})
	case chain.CodeNoTransferToRecipient:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "no_transfer_found",
			"message":  verr.Message,
			"explorer": explorer,
		})
	case chain.CodeAmountMismatch:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "bad_amount",
			"message":  "transfer amount does not match the challenge",
			"received": verr.Received.String(),
			"required": verr.Required.String(),
			"explorer": explorer,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": verr.Message})
	}
}
