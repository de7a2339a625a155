package payments

import (
	"context"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/chain"
	"github.com/mosaicworks/unlockd/internal/config"
	"github.com/mosaicworks/unlockd/internal/licensing"
	"github.com/mosaicworks/unlockd/internal/metrics"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// LedgerStore defines the store operations the verify path needs.
type LedgerStore interface {
	GetVerifiedPaymentByTxHash(ctx context.Context, txHash string) (*models.VerifiedPayment, error)
	GetEntitlementByTxHash(ctx context.Context, txHash string) (*models.Entitlement, error)
	GetChallengeByID(ctx context.Context, id string) (*models.PaymentChallenge, error)
	GetUnlockLayerByID(ctx context.Context, id uuid.UUID) (*models.UnlockLayer, error)
	CommitPayment(ctx context.Context, payment *models.VerifiedPayment, entitlement *models.Entitlement) (*models.VerifiedPayment, bool, error)
	DeleteChallenge(ctx context.Context, id string) error
}

// TransferVerifier confirms on-chain transfers. Implemented by chain.TransferVerifier.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash common.Hash, expectedRecipient common.Address, expectedAmount *big.Int, tokenAddress common.Address) (*chain.TransferResult, error)
	VerifyTransferWithRetry(ctx context.Context, txHash common.Hash, expectedRecipient common.Address, expectedAmount *big.Int, tokenAddress common.Address) (*chain.TransferResult, error)
}

// VerifyRequest carries a client's claim that a challenge has been paid.
type VerifyRequest struct {
	TransactionHash string
	// PlatformTransactionHash is an optional second transfer routing the
	// platform fee separately.
	PlatformTransactionHash string
	// PaymentRequestToken is the challenge ID returned when the challenge
	// was issued.
	PaymentRequestToken string
	AssetID             uuid.UUID
	UnlockLayerID       *uuid.UUID
	// ChallengeExpiresAt is the client's copy of the challenge deadline.
	// When present and past, the call fails before any chain read.
	ChallengeExpiresAt *time.Time
}

// VerifyResult is the outcome of a successful (or idempotently replayed) verify.
type VerifyResult struct {
	AccessToken string
	License     *licensing.MintResult
	Payment     *models.VerifiedPayment
	Entitlement *models.Entitlement
	// Replayed is true when the transaction was already verified and the
	// stored claims were returned without touching the chain.
	Replayed bool
}

// Service orchestrates the verify flow: idempotency pre-check, challenge
// expiry, on-chain verification, license minting, the atomic ledger commit,
// and access token issuance.
type Service struct {
	store    LedgerStore
	verifier TransferVerifier
	minter   licensing.Minter
	tokens   *token.Issuer
	cfg      config.PaymentConfig
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewService creates the verify service.
func NewService(store LedgerStore, verifier TransferVerifier, minter licensing.Minter, tokens *token.Issuer, cfg config.PaymentConfig, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		minter:   minter,
		tokens:   tokens,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "payment_service").Logger(),
	}
}

// VerifyAndRecord validates a claimed payment end to end and returns an
// access token for the paid scope. Submitting the same transaction hash
// twice is success both times and leaves exactly one payment row behind.
func (s *Service) VerifyAndRecord(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	result, err := s.verifyAndRecord(ctx, req)
	s.metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Verifications.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	if result.Replayed {
		s.metrics.Verifications.WithLabelValues("replay").Inc()
	} else {
		s.metrics.Verifications.WithLabelValues("success").Inc()
		s.metrics.PaymentAmount.Add(float64(result.Payment.AmountPaid))
	}
	return result, nil
}

func (s *Service) verifyAndRecord(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if !txHashPattern.MatchString(req.TransactionHash) {
		return nil, ErrInvalidTxHash
	}
	txHash := strings.ToLower(req.TransactionHash)

	// Expiry wins over everything, including an otherwise-valid transaction.
	if req.ChallengeExpiresAt != nil && req.ChallengeExpiresAt.Before(time.Now()) {
		return nil, &ExpiredChallengeError{ExpiresAt: *req.ChallengeExpiresAt}
	}

	// Pre-check saves a chain round-trip on retries. Correctness does not
	// depend on it: two calls can both miss here and the ON CONFLICT commit
	// below still admits only one row.
	if existing, err := s.store.GetVerifiedPaymentByTxHash(ctx, txHash); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replay(ctx, existing)
	}

	challenge, err := s.store.GetChallengeByID(ctx, req.PaymentRequestToken)
	if err != nil {
		return nil, err
	}
	if challenge == nil || challenge.AssetID != req.AssetID {
		return nil, ErrChallengeNotFound
	}
	if challenge.IsExpired() {
		return nil, &ExpiredChallengeError{ExpiresAt: challenge.ExpiresAt}
	}

	transfer, err := s.verifier.VerifyTransferWithRetry(ctx,
		common.HexToHash(txHash),
		common.HexToAddress(challenge.Recipient),
		big.NewInt(challenge.Amount),
		common.HexToAddress(challenge.TokenAddress),
	)
	if err != nil {
		return nil, err
	}

	payer := strings.ToLower(transfer.Payer.Hex())
	payment := models.NewVerifiedPayment(txHash, payer, challenge.AssetID, challenge.UnlockLayerID,
		transfer.Amount.Int64(), challenge.CreatorAmount, challenge.PlatformFee, transfer.BlockNumber)

	s.checkPlatformFeeTransfer(ctx, req, challenge, payment)

	licenseType := models.LicenseTypePersonal
	if challenge.UnlockLayerID != nil {
		layer, err := s.store.GetUnlockLayerByID(ctx, *challenge.UnlockLayerID)
		if err != nil {
			return nil, err
		}
		if layer != nil && layer.UnlockType == models.UnlockTypeCommercial {
			licenseType = models.LicenseTypeCommercial
		}
	}

	entitlement := models.NewEntitlement(payer, challenge.AssetID, challenge.UnlockLayerID, txHash, licenseType)

	// License minting is best-effort: the registry being down must not void
	// a payment that already cleared on chain. Failures are recorded on the
	// payment row instead of rolling it back.
	license := s.mintLicense(ctx, challenge, payer, licenseType, payment)
	if license != nil && license.LicenseID != "" {
		entitlement.ExternalLicenseID = &license.LicenseID
	}

	committed, inserted, err := s.store.CommitPayment(ctx, payment, entitlement)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the insert race; converge on the winner's row.
		return s.replay(ctx, committed)
	}

	// The challenge is spent now; removal is housekeeping only.
	if err := s.store.DeleteChallenge(ctx, challenge.ID); err != nil {
		s.logger.Warn().Err(err).Str("challenge_id", challenge.ID).Msg("failed to delete spent challenge")
	}

	accessToken, err := s.tokens.Issue(entitlement.AssetID, entitlement.UnlockLayerID, payer, token.DefaultTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tx_hash", txHash).
		Str("payer", payer).
		Str("asset_id", challenge.AssetID.String()).
		Int64("amount", payment.AmountPaid).
		Str("license_type", string(licenseType)).
		Msg("payment verified and recorded")

	return &VerifyResult{
		AccessToken: accessToken,
		License:     license,
		Payment:     committed,
		Entitlement: entitlement,
	}, nil
}

// replay rebuilds the response for an already-verified transaction from the
// stored rows, without re-reading the chain.
func (s *Service) replay(ctx context.Context, payment *models.VerifiedPayment) (*VerifyResult, error) {
	entitlement, err := s.store.GetEntitlementByTxHash(ctx, payment.TransactionHash)
	if err != nil {
		return nil, err
	}
	if entitlement == nil {
		// Payment row without entitlement should not happen; fall back to
		// the payment's own scope so the caller still gets access.
		entitlement = models.NewEntitlement(payment.PayerAddress, payment.AssetID, payment.UnlockLayerID,
			payment.TransactionHash, models.LicenseTypePersonal)
	}

	accessToken, err := s.tokens.Issue(entitlement.AssetID, entitlement.UnlockLayerID, entitlement.OwnerAddress, token.DefaultTTL)
	if err != nil {
		return nil, err
	}

	var license *licensing.MintResult
	if entitlement.ExternalLicenseID != nil {
		license = &licensing.MintResult{LicenseID: *entitlement.ExternalLicenseID}
	}

	return &VerifyResult{
		AccessToken: accessToken,
		License:     license,
		Payment:     payment,
		Entitlement: entitlement,
		Replayed:    true,
	}, nil
}

// checkPlatformFeeTransfer verifies the optional second transfer routing the
// platform fee. A bad or missing fee transfer is a recorded side effect, not
// a payment failure.
func (s *Service) checkPlatformFeeTransfer(ctx context.Context, req VerifyRequest, challenge *models.PaymentChallenge, payment *models.VerifiedPayment) {
	if req.PlatformTransactionHash == "" || s.cfg.PlatformWallet == "" || challenge.PlatformFee <= 0 {
		return
	}
	if !txHashPattern.MatchString(req.PlatformTransactionHash) {
		payment.AddSideEffectError("platform_fee_transfer", ErrInvalidTxHash)
		s.metrics.SideEffectFailures.WithLabelValues("platform_fee_transfer").Inc()
		return
	}

	feeTx := strings.ToLower(req.PlatformTransactionHash)
	_, err := s.verifier.VerifyTransfer(ctx,
		common.HexToHash(feeTx),
		common.HexToAddress(s.cfg.PlatformWallet),
		big.NewInt(challenge.PlatformFee),
		common.HexToAddress(challenge.TokenAddress),
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("platform_tx", feeTx).Msg("platform fee transfer did not verify")
		payment.AddSideEffectError("platform_fee_transfer", err)
		s.metrics.SideEffectFailures.WithLabelValues("platform_fee_transfer").Inc()
		return
	}
	payment.PlatformTxHash = &feeTx
}

// mintLicense mints the external license for a paid scope, recording any
// failure as a side effect on the payment.
func (s *Service) mintLicense(ctx context.Context, challenge *models.PaymentChallenge, payer string, licenseType models.LicenseType, payment *models.VerifiedPayment) *licensing.MintResult {
	scopeID := challenge.AssetID.String()
	if challenge.UnlockLayerID != nil {
		scopeID = challenge.UnlockLayerID.String()
	}

	license, err := s.minter.MintLicense(ctx, scopeID, payer, string(licenseType))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("scope_id", scopeID).
			Str("payer", payer).
			Msg("license mint failed, payment still commits")
		payment.AddSideEffectError("license_mint", err)
		s.metrics.SideEffectFailures.WithLabelValues("license_mint").Inc()
		return nil
	}
	return license
}

// outcomeLabel maps a verify error onto a metrics outcome label.
func outcomeLabel(err error) string {
	if verr, ok := chain.AsVerificationError(err); ok {
		return string(verr.Code)
	}
	if _, ok := AsExpiredChallenge(err); ok {
		return "challenge_expired"
	}
	switch err {
	case ErrInvalidTxHash:
		return "invalid_tx"
	case ErrChallengeNotFound:
		return "challenge_not_found"
	}
	return "error"
}
