package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mosaicworks/unlockd/internal/models"
	"github.com/mosaicworks/unlockd/internal/token"
	"github.com/rs/zerolog"
)

func setupEntitlementsRouter(t *testing.T, store *mockCatalogStore) (*gin.Engine, *token.Issuer) {
	t.Helper()
	tokens, err := token.NewIssuer(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewEntitlementsHandler(store, tokens, zerolog.Nop())
	api := r.Group("/api/v1")
	handler.RegisterRoutes(api)
	return r, tokens
}

func TestListEntitlements(t *testing.T) {
	store := newMockCatalogStore()
	owner := "0x2222222222222222222222222222222222222222"
	assetID := uuid.New()
	store.entitlements[owner] = []*models.Entitlement{
		models.NewEntitlement(owner, assetID, nil, "0xtx1", models.LicenseTypePersonal),
		models.NewEntitlement(owner, uuid.New(), nil, "0xtx2", models.LicenseTypeCommercial),
	}

	t.Run("success", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, store)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements?address="+owner, nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Address      string                `json:"address"`
			Entitlements []*models.Entitlement `json:"entitlements"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if len(resp.Entitlements) != 2 {
			t.Errorf("expected 2 entitlements, got %d", len(resp.Entitlements))
		}
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, store)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements?address=0x3333333333333333333333333333333333333333", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp struct {
			Entitlements []*models.Entitlement `json:"entitlements"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Entitlements == nil {
			t.Error("expected empty list, not null")
		}
	})

	t.Run("missing address", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, store)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("malformed address", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, store)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements?address=bogus", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestRederiveToken(t *testing.T) {
	owner := "0x4444444444444444444444444444444444444444"
	assetID := uuid.New()
	layerID := uuid.New()

	newStore := func() *mockCatalogStore {
		store := newMockCatalogStore()
		store.entitlements[owner] = []*models.Entitlement{
			models.NewEntitlement(owner, assetID, nil, "0xtx1", models.LicenseTypePersonal),
			models.NewEntitlement(owner, assetID, &layerID, "0xtx2", models.LicenseTypeCommercial),
		}
		return store
	}

	t.Run("asset scope", func(t *testing.T) {
		r, tokens := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements/token?address="+owner+"&assetId="+assetID.String(), nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			AccessToken string              `json:"accessToken"`
			Entitlement *models.Entitlement `json:"entitlement"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.Entitlement == nil || resp.Entitlement.TransactionHash != "0xtx1" {
			t.Fatalf("expected the base asset entitlement, got %+v", resp.Entitlement)
		}
		claims, err := tokens.Parse(resp.AccessToken)
		if err != nil {
			t.Fatalf("re-derived token did not parse: %v", err)
		}
		if !claims.Authorizes(assetID, nil) {
			t.Error("re-derived token does not authorize the asset")
		}
		if claims.Authorizes(assetID, &layerID) {
			t.Error("asset-scope token must not authorize the layer")
		}
	})

	t.Run("layer scope", func(t *testing.T) {
		r, tokens := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		url := "/api/v1/entitlements/token?address=" + owner + "&assetId=" + assetID.String() + "&unlockLayerId=" + layerID.String()
		req, _ := http.NewRequest("GET", url, nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		claims, err := tokens.Parse(resp.AccessToken)
		if err != nil {
			t.Fatalf("re-derived token did not parse: %v", err)
		}
		if !claims.Authorizes(assetID, &layerID) {
			t.Error("re-derived token does not authorize the layer")
		}
	})

	t.Run("never paid for scope", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements/token?address="+owner+"&assetId="+uuid.NewString(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("unknown address", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements/token?address=0x5555555555555555555555555555555555555555&assetId="+assetID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("malformed asset id", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements/token?address="+owner+"&assetId=not-a-uuid", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("missing address", func(t *testing.T) {
		r, _ := setupEntitlementsRouter(t, newStore())
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/entitlements/token?assetId="+assetID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}
