package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/polymirror/copybot/internal/domain"
)

// ChainMonitor confirms settlement transactions on Polygon. Trades reported
// by the activity feed are optimistic; for large copies the pipeline can wait
// until the underlying transaction has enough confirmations before treating
// the position as settled.
type ChainMonitor struct {
	client        *ethclient.Client
	confirmations uint64
	pollInterval  time.Duration
	logger        *slog.Logger
}

// NewChainMonitor dials the RPC endpoint. confirmations is the block depth
// required before a transaction counts as final.
func NewChainMonitor(ctx context.Context, rpcURL string, confirmations uint64, logger *slog.Logger) (*ChainMonitor, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("monitor: dial chain rpc: %w", err)
	}
	return &ChainMonitor{
		client:        client,
		confirmations: confirmations,
		pollInterval:  3 * time.Second,
		logger:        logger.With(slog.String("component", "chain_monitor")),
	}, nil
}

// Close releases the RPC connection.
func (c *ChainMonitor) Close() {
	c.client.Close()
}

// WaitConfirmed blocks until the transaction is mined with the required
// confirmation depth, or ctx expires. A reverted transaction returns an
// error immediately.
func (c *ChainMonitor) WaitConfirmed(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet; keep waiting.
		case err != nil:
			return fmt.Errorf("monitor: fetch receipt %s: %w", txHash, domain.ErrTransient)
		case receipt.Status == types.ReceiptStatusFailed:
			return fmt.Errorf("monitor: transaction %s reverted", txHash)
		default:
			head, err := c.client.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("monitor: fetch head: %w", domain.ErrTransient)
			}
			mined := receipt.BlockNumber.Uint64()
			if head >= mined && head-mined >= c.confirmations {
				c.logger.Debug("transaction confirmed",
					slog.String("tx", txHash),
					slog.Uint64("depth", head-mined),
				)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BalanceAt returns the native-token balance of an address, used by startup
// sanity checks to confirm the trading wallet is funded for gas.
func (c *ChainMonitor) BalanceAt(ctx context.Context, address string) (float64, error) {
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("monitor: balance of %s: %w", address, err)
	}
	matic, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return matic, nil
}
