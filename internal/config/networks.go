package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Network describes a supported chain for payment verification.
type Network struct {
	ChainID int64 `yaml:"chain_id" json:"chain_id"`
	// ExplorerTxURL is a printf template with one %s for the transaction hash.
	ExplorerTxURL string `yaml:"explorer_tx_url" json:"explorer_tx_url"`
	TokenSymbol   string `yaml:"token_symbol" json:"token_symbol"`
}

// NetworkCatalog maps network names to their chain settings.
type NetworkCatalog struct {
	Networks map[string]Network `yaml:"networks"`
}

// DefaultNetworkCatalog returns the built-in catalog used when no
// networks.yaml is provided.
func DefaultNetworkCatalog() NetworkCatalog {
	return NetworkCatalog{
		Networks: map[string]Network{
			"base-sepolia": {
				ChainID:       84532,
				ExplorerTxURL: "https://sepolia.basescan.org/tx/%s",
				TokenSymbol:   "USDC",
			},
			"base": {
				ChainID:       8453,
				ExplorerTxURL: "https://basescan.org/tx/%s",
				TokenSymbol:   "USDC",
			},
			"story-aeneid": {
				ChainID:       1315,
				ExplorerTxURL: "https://aeneid.storyscan.io/tx/%s",
				TokenSymbol:   "WIP",
			},
		},
	}
}

// LoadNetworkCatalog reads a YAML network catalog from path. A missing file
// falls back to the built-in defaults.
func LoadNetworkCatalog(path string) (NetworkCatalog, error) {
	if path == "" {
		return DefaultNetworkCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultNetworkCatalog(), nil
		}
		return NetworkCatalog{}, fmt.Errorf("read network catalog: %w", err)
	}

	var catalog NetworkCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return NetworkCatalog{}, fmt.Errorf("parse network catalog: %w", err)
	}
	if len(catalog.Networks) == 0 {
		return NetworkCatalog{}, fmt.Errorf("network catalog %s contains no networks", path)
	}

	return catalog, nil
}

// Lookup returns the named network's settings.
func (c NetworkCatalog) Lookup(name string) (Network, bool) {
	n, ok := c.Networks[name]
	return n, ok
}

// ExplorerLink renders a human-readable explorer URL for a transaction on
// the named network. Returns the bare hash when the network is unknown or
// has no explorer configured.
func (c NetworkCatalog) ExplorerLink(network, txHash string) string {
	n, ok := c.Networks[network]
	if !ok || n.ExplorerTxURL == "" {
		return txHash
	}
	return fmt.Sprintf(n.ExplorerTxURL, txHash)
}
