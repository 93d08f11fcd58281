package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"

	"github.com/polymirror/copybot/internal/crypto"
	"github.com/polymirror/copybot/internal/domain"
)

// usdcDecimals converts between USD floats and the 6-decimal integer
// amounts the exchange contracts use. Outcome tokens share the same scale.
const usdcDecimals = 1e6

// SubmitOrder signs and posts an immediate-or-cancel order. Venue rejections
// come back in the ack; transport failures come back as errors so the caller
// can retry.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.OrderAck{}, errors.New("polymarket: submit requires authentication")
	}
	tokenID := req.TokenID
	if tokenID == "" {
		m, _, err := c.market(ctx, req.MarketID)
		if err != nil {
			return domain.OrderAck{}, err
		}
		if req.Outcome == domain.OutcomeYes {
			tokenID = m.YesTokenID
		} else {
			tokenID = m.NoTokenID
		}
	}

	payload, err := c.buildPayload(req, tokenID)
	if err != nil {
		return domain.OrderAck{}, err
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: sign order: %w", err)
	}

	address := c.signer.Address().Hex()
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         address,
			"signer":        address,
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideString(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: post order: %w", err)
	}

	var result apiOrderResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: decode order response: %w", err)
	}
	if !result.Success {
		return domain.OrderAck{Status: domain.OrderStatusRejected, Message: result.ErrorMsg}, nil
	}

	status := domain.OrderStatusSubmitted
	if result.Status == "matched" {
		status = domain.OrderStatusFilled
	}
	return domain.OrderAck{OrderID: result.OrderID, Status: status}, nil
}

// LookupOrder finds a previously submitted order for the request without
// knowing its order ID. The ID is the EIP-712 hash of the order struct, and
// the payload builds deterministically from the request, so a submission
// whose response was lost can be recovered. Returns domain.ErrNotFound when
// the venue has no such order.
func (c *Client) LookupOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.OrderAck{}, errors.New("polymarket: lookup requires authentication")
	}
	tokenID := req.TokenID
	if tokenID == "" {
		m, _, err := c.market(ctx, req.MarketID)
		if err != nil {
			return domain.OrderAck{}, err
		}
		if req.Outcome == domain.OutcomeYes {
			tokenID = m.YesTokenID
		} else {
			tokenID = m.NoTokenID
		}
	}

	payload, err := c.buildPayload(req, tokenID)
	if err != nil {
		return domain.OrderAck{}, err
	}
	hash, err := c.signer.OrderHash(payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket: hash order: %w", err)
	}

	update, err := c.OrderStatus(ctx, hash)
	if err != nil {
		return domain.OrderAck{}, err
	}
	return domain.OrderAck{OrderID: hash, Status: update.Status}, nil
}

// OrderStatus polls one order's lifecycle state.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.OrderUpdate, error) {
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, "/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("polymarket: order status %s: %w", orderID, err)
	}

	var status apiOrderStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return domain.OrderUpdate{}, fmt.Errorf("polymarket: decode order status: %w", err)
	}
	return domain.OrderUpdate{
		Status:       status.toStatus(),
		FilledShares: float64(status.SizeMatched),
		FilledPrice:  float64(status.Price),
	}, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.doAuthenticated(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket: cancel order %s: %w", orderID, err)
	}
	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket: cancel %s failed: %s", orderID, result.ErrorMsg)
	}
	return nil
}

// Balance returns the available USDC collateral balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket: balance: %w", err)
	}
	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return 0, fmt.Errorf("polymarket: decode balance: %w", err)
	}
	raw, ok := new(big.Float).SetString(result.Balance)
	if !ok {
		return 0, fmt.Errorf("polymarket: invalid balance %q", result.Balance)
	}
	usd, _ := new(big.Float).Quo(raw, big.NewFloat(usdcDecimals)).Float64()
	return usd, nil
}

// buildPayload converts an order request into the EIP-712 struct. Buys spend
// USDC for outcome tokens; sells the reverse. Amounts are truncated to the
// contracts' integer scale.
func (c *Client) buildPayload(req domain.OrderRequest, tokenID string) (crypto.OrderPayload, error) {
	if req.Price <= 0 || req.Price >= 1 || req.Shares <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: %w: price=%.4f shares=%.4f",
			domain.ErrInvalidOrder, req.Price, req.Shares)
	}

	usdc := int64(math.Floor(req.Shares * req.Price * usdcDecimals))
	tokens := int64(math.Floor(req.Shares * usdcDecimals))

	var makerAmount, takerAmount int64
	var side int
	if req.Side == domain.TradeSideBuy {
		makerAmount, takerAmount, side = usdc, tokens, 0
	} else {
		makerAmount, takerAmount, side = tokens, usdc, 1
	}

	// Salt derives from the request ID so a retried submission hashes to
	// the same order and the venue treats it as a duplicate, not a double.
	salt := fnv.New64a()
	salt.Write([]byte(req.ID))

	address := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          strconv.FormatUint(salt.Sum64()>>1, 10),
		Maker:         address,
		Signer:        address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: 0,
	}, nil
}

func sideString(s domain.TradeSide) string {
	if s == domain.TradeSideSell {
		return "SELL"
	}
	return "BUY"
}

// doAuthenticated sends an HMAC-signed request to the CLOB API.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.hmacAuth == nil {
		return nil, errors.New("polymarket: not authenticated")
	}

	var bodyReader *bytes.Reader
	bodyStr := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.clobHost+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.do(req)
}
