// Package licensing integrates with an external license registry. Minting
// is best-effort by design: a registry outage must never invalidate a
// payment that already cleared on chain.
package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MintResult identifies a minted license in the external registry.
type MintResult struct {
	TokenID   string `json:"token_id"`
	LicenseID string `json:"license_id"`
}

// Minter mints licenses for paid asset scopes.
type Minter interface {
	// MintLicense registers a license of the given type for licensee over
	// scopeID and returns the registry identifiers.
	MintLicense(ctx context.Context, scopeID, licensee, licenseType string) (*MintResult, error)
}

// HTTPMinter talks to the licensing service over HTTP.
type HTTPMinter struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPMinter creates a minter for the licensing service at baseURL.
func NewHTTPMinter(baseURL string, logger zerolog.Logger) *HTTPMinter {
	return &HTTPMinter{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "license_minter").Logger(),
	}
}

// mintRequest is the wire request for the registry's mint endpoint.
type mintRequest struct {
	ScopeID     string `json:"scopeId"`
	Licensee    string `json:"licensee"`
	LicenseType string `json:"licenseType"`
}

// MintLicense calls the registry's mint endpoint.
func (m *HTTPMinter) MintLicense(ctx context.Context, scopeID, licensee, licenseType string) (*MintResult, error) {
	body, err := json.Marshal(mintRequest{
		ScopeID:     scopeID,
		Licensee:    licensee,
		LicenseType: licenseType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/licenses/mint", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mint license: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mint license: registry returned %d: %s", resp.StatusCode, respBody)
	}

	var result MintResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode mint response: %w", err)
	}

	m.logger.Info().
		Str("scope_id", scopeID).
		Str("licensee", licensee).
		Str("license_id", result.LicenseID).
		Msg("license minted")

	return &result, nil
}

// NoopMinter is used when no licensing service is configured. Payments still
// commit; no external license identifiers are recorded.
type NoopMinter struct{}

// MintLicense returns an empty result.
func (NoopMinter) MintLicense(_ context.Context, _, _, _ string) (*MintResult, error) {
	return &MintResult{}, nil
}
