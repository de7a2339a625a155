// Package chain verifies on-chain token transfers against payment challenges.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// DefaultRPCTimeout bounds a single chain RPC round-trip. Receipt lookups
// can take seconds on congested endpoints; past this bound the call fails as
// a retryable infrastructure error, never as an invalid transaction.
const DefaultRPCTimeout = 15 * time.Second

// Provider exposes the chain reads the verifier needs. The concrete client
// is injected so tests and multi-network deployments can substitute their own.
type Provider interface {
	// ReceiptByHash returns the receipt for a transaction, or nil if the
	// transaction is unknown or not yet mined.
	ReceiptByHash(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// TransactionByHash returns the transaction and whether it is still pending.
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

// Client is an RPC-backed Provider over go-ethereum's ethclient.
type Client struct {
	eth     *ethclient.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Dial connects to the chain RPC endpoint at url.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain RPC: %w", err)
	}
	return &Client{
		eth:     eth,
		timeout: DefaultRPCTimeout,
		logger:  logger.With().Str("component", "chain_client").Logger(),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ReceiptByHash fetches a transaction receipt with a bounded timeout.
// A missing transaction returns (nil, nil); RPC failures return an error.
func (c *Client) ReceiptByHash(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	return receipt, nil
}

// HealthCheck verifies the RPC endpoint is reachable and syncing.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain RPC unreachable: %w", err)
	}
	return nil
}

// TransactionByHash fetches a transaction with a bounded timeout.
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, pending, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch transaction %s: %w", txHash.Hex(), err)
	}
	return tx, pending, nil
}
