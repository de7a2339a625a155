package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestChallengeIDIsDeterministic(t *testing.T) {
	assetID := uuid.New()
	layerID := uuid.New()

	a := NewPaymentChallenge(assetID, &layerID, 10000, 9000, 1000, "0xTOKEN", "0xCREATOR", "base-sepolia", time.Minute)
	time.Sleep(5 * time.Millisecond)
	b := NewPaymentChallenge(assetID, &layerID, 10000, 9000, 1000, "0xtoken", "0xcreator", "base-sepolia", time.Hour)

	if a.ID != b.ID {
		t.Errorf("same scope and price must hash to the same ID: %s != %s", a.ID, b.ID)
	}

	t.Run("scope changes the id", func(t *testing.T) {
		c := NewPaymentChallenge(assetID, nil, 10000, 9000, 1000, "0xtoken", "0xcreator", "base-sepolia", time.Minute)
		if c.ID == a.ID {
			t.Error("dropping the layer must change the ID")
		}
	})

	t.Run("amount changes the id", func(t *testing.T) {
		c := NewPaymentChallenge(assetID, &layerID, 10001, 9001, 1000, "0xtoken", "0xcreator", "base-sepolia", time.Minute)
		if c.ID == a.ID {
			t.Error("a different amount must change the ID")
		}
	})

	t.Run("network changes the id", func(t *testing.T) {
		c := NewPaymentChallenge(assetID, &layerID, 10000, 9000, 1000, "0xtoken", "0xcreator", "base", time.Minute)
		if c.ID == a.ID {
			t.Error("a different network must change the ID")
		}
	})
}

func TestChallengeNormalizesAddresses(t *testing.T) {
	c := NewPaymentChallenge(uuid.New(), nil, 100, 90, 10, "0xABCDEF", "0xFEDCBA", "base", time.Minute)
	if c.TokenAddress != "0xabcdef" || c.Recipient != "0xfedcba" {
		t.Errorf("addresses must be lowercased, got %s / %s", c.TokenAddress, c.Recipient)
	}
}

func TestChallengeIsExpired(t *testing.T) {
	c := NewPaymentChallenge(uuid.New(), nil, 100, 90, 10, "0xt", "0xr", "base", time.Minute)
	if c.IsExpired() {
		t.Error("fresh challenge must not be expired")
	}
	c.ExpiresAt = time.Now().Add(-time.Second)
	if !c.IsExpired() {
		t.Error("past deadline must read as expired")
	}
}

func TestEntitlementMatches(t *testing.T) {
	assetID := uuid.New()
	layerID := uuid.New()
	otherLayer := uuid.New()

	base := NewEntitlement("0xowner", assetID, nil, "0xtx", LicenseTypePersonal)
	if !base.Matches(assetID, nil) {
		t.Error("entitlement must match its own scope")
	}
	if base.Matches(uuid.New(), nil) {
		t.Error("entitlement must not match another asset")
	}
	if base.Matches(assetID, &layerID) {
		t.Error("base entitlement must not match a layer scope")
	}

	layered := NewEntitlement("0xowner", assetID, &layerID, "0xtx", LicenseTypeCommercial)
	if !layered.Matches(assetID, &layerID) {
		t.Error("entitlement must match its own layer")
	}
	if layered.Matches(assetID, &otherLayer) {
		t.Error("tiers are not cumulative across layers")
	}
	if layered.Matches(assetID, nil) {
		t.Error("layer entitlement must not match the base scope")
	}
}
