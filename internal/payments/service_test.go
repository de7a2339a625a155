package payments

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/chain"
	"github.com/mosaicworks/unlockd/internal/licensing"
	"github.com/mosaicworks/unlockd/internal/metrics"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

const (
	testTxHash     = "0xaaaa000000000000000000000000000000000000000000000000000000000001"
	testFeeTxHash  = "0xbbbb000000000000000000000000000000000000000000000000000000000002"
	testPayerAddr  = "0x2222222222222222222222222222222222222222"
)

type mockLedgerStore struct {
	payments     map[string]*models.VerifiedPayment
	entitlements map[string]*models.Entitlement
	challenges   map[string]*models.PaymentChallenge
	layers       map[uuid.UUID]*models.UnlockLayer
	// raceWinner simulates losing the insert race: CommitPayment reports
	// the row as already present and returns this winner instead.
	raceWinner *models.VerifiedPayment
	commits    int
	deleted    []string
}

func newMockLedgerStore() *mockLedgerStore {
	return &mockLedgerStore{
		payments:     make(map[string]*models.VerifiedPayment),
		entitlements: make(map[string]*models.Entitlement),
		challenges:   make(map[string]*models.PaymentChallenge),
		layers:       make(map[uuid.UUID]*models.UnlockLayer),
	}
}

func (m *mockLedgerStore) GetVerifiedPaymentByTxHash(_ context.Context, txHash string) (*models.VerifiedPayment, error) {
	return m.payments[txHash], nil
}

func (m *mockLedgerStore) GetEntitlementByTxHash(_ context.Context, txHash string) (*models.Entitlement, error) {
	return m.entitlements[txHash], nil
}

func (m *mockLedgerStore) GetChallengeByID(_ context.Context, id string) (*models.PaymentChallenge, error) {
	return m.challenges[id], nil
}

func (m *mockLedgerStore) GetUnlockLayerByID(_ context.Context, id uuid.UUID) (*models.UnlockLayer, error) {
	return m.layers[id], nil
}

func (m *mockLedgerStore) CommitPayment(_ context.Context, payment *models.VerifiedPayment, entitlement *models.Entitlement) (*models.VerifiedPayment, bool, error) {
	m.commits++
	if m.raceWinner != nil {
		return m.raceWinner, false, nil
	}
	if existing, ok := m.payments[payment.TransactionHash]; ok {
		return existing, false, nil
	}
	m.payments[payment.TransactionHash] = payment
	m.entitlements[entitlement.TransactionHash] = entitlement
	return payment, true, nil
}

func (m *mockLedgerStore) DeleteChallenge(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.challenges, id)
	return nil
}

type mockVerifier struct {
	retryResult *chain.TransferResult
	retryErr    error
	retryCalls  int

	singleResult *chain.TransferResult
	singleErr    error
	singleCalls  int
}

func (m *mockVerifier) VerifyTransferWithRetry(_ context.Context, _ common.Hash, _ common.Address, _ *big.Int, _ common.Address) (*chain.TransferResult, error) {
	m.retryCalls++
	return m.retryResult, m.retryErr
}

func (m *mockVerifier) VerifyTransfer(_ context.Context, _ common.Hash, _ common.Address, _ *big.Int, _ common.Address) (*chain.TransferResult, error) {
	m.singleCalls++
	return m.singleResult, m.singleErr
}

type mockMinter struct {
	result      *licensing.MintResult
	err         error
	calls       int
	licenseType string
}

func (m *mockMinter) MintLicense(_ context.Context, _, _, licenseType string) (*licensing.MintResult, error) {
	m.calls++
	m.licenseType = licenseType
	return m.result, m.err
}

func testTokenIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	return issuer
}

func newTestService(t *testing.T, store *mockLedgerStore, verifier *mockVerifier, minter licensing.Minter) *Service {
	t.Helper()
	if minter == nil {
		minter = licensing.NoopMinter{}
	}
	return NewService(store, verifier, minter, testTokenIssuer(t), testPaymentConfig(), metrics.New(), zerolog.Nop())
}

// seedChallenge puts an unexpired challenge for a fresh asset into the store
// and returns it.
func seedChallenge(store *mockLedgerStore, layerID *uuid.UUID) *models.PaymentChallenge {
	cfg := testPaymentConfig()
	challenge := models.NewPaymentChallenge(uuid.New(), layerID, 10000, 9000, 1000,
		cfg.TokenAddress, "0x1111111111111111111111111111111111111111", cfg.Network, 5*time.Minute)
	store.challenges[challenge.ID] = challenge
	return challenge
}

func paidTransfer(amount int64) *chain.TransferResult {
	return &chain.TransferResult{
		Payer:       common.HexToAddress(testPayerAddr),
		Amount:      big.NewInt(amount),
		BlockNumber: 42,
	}
}

func TestVerifyAndRecordSuccess(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)
	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	svc := newTestService(t, store, verifier, nil)

	result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Replayed {
		t.Error("fresh verification must not be marked as replay")
	}
	if result.Payment.PayerAddress != testPayerAddr {
		t.Errorf("expected payer %s, got %s", testPayerAddr, result.Payment.PayerAddress)
	}
	if result.Payment.AmountPaid != 10000 || result.Payment.BlockNumber != 42 {
		t.Errorf("payment row does not match the transfer: %+v", result.Payment)
	}
	if result.Entitlement.LicenseType != models.LicenseTypePersonal {
		t.Errorf("base scope must yield a personal license, got %s", result.Entitlement.LicenseType)
	}

	claims, err := testTokenIssuer(t).Parse(result.AccessToken)
	if err != nil {
		t.Fatalf("issued token must parse: %v", err)
	}
	if !claims.Authorizes(challenge.AssetID, nil) {
		t.Error("issued token must authorize the paid scope")
	}
	if claims.Authorizes(uuid.New(), nil) {
		t.Error("issued token must not authorize other assets")
	}

	if len(store.deleted) != 1 || store.deleted[0] != challenge.ID {
		t.Errorf("spent challenge must be deleted, got %v", store.deleted)
	}
	if verifier.retryCalls != 1 {
		t.Errorf("expected a single chain verification, got %d", verifier.retryCalls)
	}
}

func TestVerifyAndRecordIdempotentReplay(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)
	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	svc := newTestService(t, store, verifier, nil)

	req := VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
	}

	first, err := svc.VerifyAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on first verify: %v", err)
	}

	second, err := svc.VerifyAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("second verify with the same tx must succeed: %v", err)
	}
	if !second.Replayed {
		t.Error("second verify must be marked as replay")
	}
	if second.Payment.TransactionHash != first.Payment.TransactionHash {
		t.Error("replay must return the original payment row")
	}
	if len(store.payments) != 1 {
		t.Errorf("expected exactly one payment row, got %d", len(store.payments))
	}
	if verifier.retryCalls != 1 {
		t.Errorf("replay must not touch the chain, got %d verifications", verifier.retryCalls)
	}

	claims, err := testTokenIssuer(t).Parse(second.AccessToken)
	if err != nil {
		t.Fatalf("replayed token must parse: %v", err)
	}
	if !claims.Authorizes(challenge.AssetID, nil) {
		t.Error("replayed token must authorize the paid scope")
	}
}

func TestVerifyAndRecordInsertRace(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)

	winner := models.NewVerifiedPayment(testTxHash, testPayerAddr, challenge.AssetID, nil, 10000, 9000, 1000, 41)
	store.raceWinner = winner
	store.entitlements[testTxHash] = models.NewEntitlement(testPayerAddr, challenge.AssetID, nil, testTxHash, models.LicenseTypePersonal)

	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	svc := newTestService(t, store, verifier, nil)

	result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
	})
	if err != nil {
		t.Fatalf("losing the insert race must still succeed: %v", err)
	}
	if !result.Replayed {
		t.Error("race loser must converge on the winner row as a replay")
	}
	if result.Payment != winner {
		t.Error("race loser must return the winner's payment row")
	}
}

func TestVerifyAndRecordInvalidTxHash(t *testing.T) {
	store := newMockLedgerStore()
	verifier := &mockVerifier{}
	svc := newTestService(t, store, verifier, nil)

	for _, hash := range []string{"", "abc", "0x123", testTxHash + "ff", "0xZZaa000000000000000000000000000000000000000000000000000000000001"} {
		_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{TransactionHash: hash})
		if err != ErrInvalidTxHash {
			t.Errorf("hash %q: expected ErrInvalidTxHash, got %v", hash, err)
		}
	}
	if verifier.retryCalls != 0 {
		t.Error("malformed hashes must not reach the chain")
	}
}

func TestVerifyAndRecordExpiredChallenge(t *testing.T) {
	t.Run("embedded expiry beats a valid transaction", func(t *testing.T) {
		store := newMockLedgerStore()
		challenge := seedChallenge(store, nil)
		verifier := &mockVerifier{retryResult: paidTransfer(10000)}
		svc := newTestService(t, store, verifier, nil)

		past := time.Now().Add(-time.Minute)
		_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:     testTxHash,
			PaymentRequestToken: challenge.ID,
			AssetID:             challenge.AssetID,
			ChallengeExpiresAt:  &past,
		})
		expErr, ok := AsExpiredChallenge(err)
		if !ok {
			t.Fatalf("expected ExpiredChallengeError, got %v", err)
		}
		if !expErr.ExpiresAt.Equal(past) {
			t.Errorf("error must carry the deadline, got %s", expErr.ExpiresAt)
		}
		if verifier.retryCalls != 0 {
			t.Error("expired challenges must fail before any chain read")
		}
		if store.commits != 0 {
			t.Error("expired challenges must not commit anything")
		}
	})

	t.Run("stored challenge expired", func(t *testing.T) {
		store := newMockLedgerStore()
		challenge := seedChallenge(store, nil)
		challenge.ExpiresAt = time.Now().Add(-time.Minute)
		verifier := &mockVerifier{retryResult: paidTransfer(10000)}
		svc := newTestService(t, store, verifier, nil)

		_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:     testTxHash,
			PaymentRequestToken: challenge.ID,
			AssetID:             challenge.AssetID,
		})
		if _, ok := AsExpiredChallenge(err); !ok {
			t.Fatalf("expected ExpiredChallengeError, got %v", err)
		}
		if verifier.retryCalls != 0 {
			t.Error("expired challenges must fail before any chain read")
		}
	})
}

func TestVerifyAndRecordChallengeNotFound(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)
	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	svc := newTestService(t, store, verifier, nil)

	t.Run("unknown challenge id", func(t *testing.T) {
		_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:     testTxHash,
			PaymentRequestToken: "deadbeef",
			AssetID:             challenge.AssetID,
		})
		if err != ErrChallengeNotFound {
			t.Fatalf("expected ErrChallengeNotFound, got %v", err)
		}
	})

	t.Run("asset mismatch", func(t *testing.T) {
		_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:     testTxHash,
			PaymentRequestToken: challenge.ID,
			AssetID:             uuid.New(),
		})
		if err != ErrChallengeNotFound {
			t.Fatalf("expected ErrChallengeNotFound, got %v", err)
		}
	})
}

func TestVerifyAndRecordVerificationFailure(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)
	verifier := &mockVerifier{retryErr: &chain.VerificationError{
		Code:     chain.CodeAmountMismatch,
		Message:  "transfer amount outside tolerance",
		Received: big.NewInt(9989),
		Required: big.NewInt(10000),
	}}
	svc := newTestService(t, store, verifier, nil)

	_, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
	})
	verr, ok := chain.AsVerificationError(err)
	if !ok || verr.Code != chain.CodeAmountMismatch {
		t.Fatalf("expected amount_mismatch, got %v", err)
	}
	if store.commits != 0 {
		t.Error("failed verification must not commit a payment")
	}
	if len(store.challenges) != 1 {
		t.Error("failed verification must keep the challenge for a retry")
	}
}

func TestVerifyAndRecordCommercialLayer(t *testing.T) {
	store := newMockLedgerStore()
	layerID := uuid.New()
	challenge := seedChallenge(store, &layerID)
	store.layers[layerID] = &models.UnlockLayer{
		ID:         layerID,
		AssetID:    challenge.AssetID,
		UnlockType: models.UnlockTypeCommercial,
		Price:      10000,
	}

	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	minter := &mockMinter{result: &licensing.MintResult{TokenID: "7", LicenseID: "lic-123"}}
	svc := newTestService(t, store, verifier, minter)

	result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
		UnlockLayerID:       &layerID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entitlement.LicenseType != models.LicenseTypeCommercial {
		t.Errorf("commercial layer must yield a commercial license, got %s", result.Entitlement.LicenseType)
	}
	if minter.calls != 1 || minter.licenseType != string(models.LicenseTypeCommercial) {
		t.Errorf("expected one commercial mint, got %d calls with type %q", minter.calls, minter.licenseType)
	}
	if result.License == nil || result.License.LicenseID != "lic-123" {
		t.Errorf("expected minted license in result, got %+v", result.License)
	}
	if result.Entitlement.ExternalLicenseID == nil || *result.Entitlement.ExternalLicenseID != "lic-123" {
		t.Error("entitlement must record the external license id")
	}

	claims, err := testTokenIssuer(t).Parse(result.AccessToken)
	if err != nil {
		t.Fatalf("issued token must parse: %v", err)
	}
	if !claims.Authorizes(challenge.AssetID, &layerID) {
		t.Error("token must authorize the paid layer")
	}
	if claims.Authorizes(challenge.AssetID, nil) {
		t.Error("layer token must not authorize the base asset scope")
	}
}

func TestVerifyAndRecordMintFailureIsNonFatal(t *testing.T) {
	store := newMockLedgerStore()
	challenge := seedChallenge(store, nil)
	verifier := &mockVerifier{retryResult: paidTransfer(10000)}
	minter := &mockMinter{err: errors.New("licensing service unavailable")}
	svc := newTestService(t, store, verifier, minter)

	result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
		TransactionHash:     testTxHash,
		PaymentRequestToken: challenge.ID,
		AssetID:             challenge.AssetID,
	})
	if err != nil {
		t.Fatalf("mint failure must not fail the payment: %v", err)
	}
	if result.License != nil {
		t.Error("failed mint must not report a license")
	}
	if result.AccessToken == "" {
		t.Error("payment must still yield an access token")
	}
	if len(result.Payment.SideEffectErrors) != 1 || result.Payment.SideEffectErrors[0].Op != "license_mint" {
		t.Errorf("mint failure must be recorded on the payment, got %+v", result.Payment.SideEffectErrors)
	}
	if len(store.payments) != 1 {
		t.Error("payment must still be committed")
	}
}

func TestVerifyAndRecordPlatformFeeTransfer(t *testing.T) {
	t.Run("verified fee transfer is recorded", func(t *testing.T) {
		store := newMockLedgerStore()
		challenge := seedChallenge(store, nil)
		verifier := &mockVerifier{
			retryResult:  paidTransfer(10000),
			singleResult: paidTransfer(1000),
		}
		svc := newTestService(t, store, verifier, nil)

		result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:         testTxHash,
			PlatformTransactionHash: testFeeTxHash,
			PaymentRequestToken:     challenge.ID,
			AssetID:                 challenge.AssetID,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Payment.PlatformTxHash == nil || *result.Payment.PlatformTxHash != testFeeTxHash {
			t.Errorf("expected platform tx hash on payment, got %v", result.Payment.PlatformTxHash)
		}
		if verifier.singleCalls != 1 {
			t.Errorf("fee transfer must be verified once without retry, got %d", verifier.singleCalls)
		}
	})

	t.Run("failed fee transfer is a side effect only", func(t *testing.T) {
		store := newMockLedgerStore()
		challenge := seedChallenge(store, nil)
		verifier := &mockVerifier{
			retryResult: paidTransfer(10000),
			singleErr:   &chain.VerificationError{Code: chain.CodeTxNotFound, Message: "not found"},
		}
		svc := newTestService(t, store, verifier, nil)

		result, err := svc.VerifyAndRecord(context.Background(), VerifyRequest{
			TransactionHash:         testTxHash,
			PlatformTransactionHash: testFeeTxHash,
			PaymentRequestToken:     challenge.ID,
			AssetID:                 challenge.AssetID,
		})
		if err != nil {
			t.Fatalf("fee transfer failure must not fail the payment: %v", err)
		}
		if result.Payment.PlatformTxHash != nil {
			t.Error("unverified fee transfer must not be recorded as paid")
		}
		if len(result.Payment.SideEffectErrors) != 1 || result.Payment.SideEffectErrors[0].Op != "platform_fee_transfer" {
			t.Errorf("fee failure must be recorded as a side effect, got %+v", result.Payment.SideEffectErrors)
		}
	})
}
