package polymarket

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Polygon mainnet contract addresses.
const (
	conditionalTokensAddr = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	usdcAddr              = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

const redeemABI = `[{"name":"redeemPositions","type":"function","inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"outputs":[]}]`

// apiPosition is a Data API /positions row; only the fields redemption
// cares about.
type apiPosition struct {
	ConditionID string    `json:"conditionId"`
	Redeemable  bool      `json:"redeemable"`
	Size        flexFloat `json:"size"`
	Title       string    `json:"title"`
}

// Redeemer claims settlement proceeds for resolved markets by calling
// redeemPositions on the ConditionalTokens contract. Implements
// domain.Redeemer.
type Redeemer struct {
	client     *Client
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	ctfABI     abi.ABI
	confirm    func(ctx context.Context, txHash string) error // optional depth check
	logger     *slog.Logger
}

// NewRedeemer dials the chain RPC and prepares the contract binding.
func NewRedeemer(ctx context.Context, client *Client, rpcURL, privateKeyHex string, chainID int, logger *slog.Logger) (*Redeemer, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket: dial rpc: %w", err)
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("polymarket: redeemer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(redeemABI))
	if err != nil {
		return nil, fmt.Errorf("polymarket: parse ctf abi: %w", err)
	}
	return &Redeemer{
		client:     client,
		eth:        eth,
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(int64(chainID)),
		ctfABI:     parsed,
		logger:     logger.With(slog.String("component", "redeemer")),
	}, nil
}

// SetConfirmer attaches a confirmation-depth waiter applied after each
// redemption transaction mines. Without one, one mined block is enough.
func (r *Redeemer) SetConfirmer(fn func(ctx context.Context, txHash string) error) {
	r.confirm = fn
}

// Close releases the RPC connection.
func (r *Redeemer) Close() {
	r.eth.Close()
}

// Redeem finds every redeemable position of the trading wallet and claims
// it. Per-position failures are logged and skipped; the cycle keeps going.
func (r *Redeemer) Redeem(ctx context.Context) error {
	positions, err := r.redeemable(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		r.logger.Info("no redeemable positions")
		return nil
	}

	claimed := 0
	for _, pos := range positions {
		if err := r.redeemOne(ctx, pos.ConditionID); err != nil {
			r.logger.Warn("redemption failed",
				slog.String("condition", pos.ConditionID),
				slog.String("market", pos.Title),
				slog.String("error", err.Error()),
			)
			continue
		}
		claimed++
		r.logger.Info("position redeemed",
			slog.String("condition", pos.ConditionID),
			slog.String("market", pos.Title),
			slog.Float64("shares", float64(pos.Size)),
		)
	}
	r.logger.Info("redemption cycle complete",
		slog.Int("redeemable", len(positions)),
		slog.Int("claimed", claimed),
	)
	return nil
}

func (r *Redeemer) redeemable(ctx context.Context) ([]apiPosition, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(r.address.Hex()))
	params.Set("redeemable", "true")

	body, err := r.client.get(ctx, r.client.dataHost+"/positions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: list positions: %w", err)
	}
	var rows []apiPosition
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket: decode positions: %w", err)
	}

	out := rows[:0]
	for _, row := range rows {
		if row.Redeemable && row.Size > 0 {
			out = append(out, row)
		}
	}
	return out, nil
}

// redeemOne sends redeemPositions for both index sets of a binary condition
// and waits for the transaction to mine.
func (r *Redeemer) redeemOne(ctx context.Context, conditionID string) error {
	calldata, err := r.ctfABI.Pack("redeemPositions",
		common.HexToAddress(usdcAddr),
		[32]byte{},
		common.HexToHash(conditionID),
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
	)
	if err != nil {
		return fmt.Errorf("pack calldata: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(r.privateKey, r.chainID)
	if err != nil {
		return fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(
		common.HexToAddress(conditionalTokensAddr), r.ctfABI, r.eth, r.eth, r.eth,
	)
	tx, err := contract.RawTransact(opts, calldata)
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != 1 {
		return fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	if r.confirm != nil {
		if err := r.confirm(ctx, tx.Hash().Hex()); err != nil {
			return fmt.Errorf("confirm %s: %w", tx.Hash().Hex(), err)
		}
	}
	return nil
}
