package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/crypto"
	"github.com/polymirror/copybot/internal/domain"
)

// Client implements domain.Gateway against the three Polymarket API
// surfaces: the Data API (wallet activity, positions), the Gamma API (market
// discovery and metadata), and the CLOB (books, orders, balance).
type Client struct {
	dataHost  string
	gammaHost string
	clobHost  string

	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	mu      sync.RWMutex
	markets map[string]domain.Market // conditionID -> metadata
	meta    map[string]apiMarket     // conditionID -> raw venue metadata
}

// NewClient creates an unauthenticated Client. Call Authenticate before
// submitting orders; read-only calls work without it.
func NewClient(cfg config.PolymarketConfig, signer *crypto.Signer) *Client {
	return &Client{
		dataHost:   cfg.DataHost,
		gammaHost:  cfg.GammaHost,
		clobHost:   cfg.ClobHost,
		signer:     signer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		markets:    make(map[string]domain.Market),
		meta:       make(map[string]apiMarket),
	}
}

// Authenticate runs the CLOB derive-api-key flow and stores the resulting
// HMAC credentials for order endpoints.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.signer == nil {
		return errors.New("polymarket: authenticate requires a signer")
	}
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()

	sig, err := c.signer.SignAuthMessage(address, timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobHost+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket: build auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", "0")

	body, err := c.do(req)
	if err != nil {
		return fmt.Errorf("polymarket: derive api key: %w", err)
	}

	var creds struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("polymarket: decode auth response: %w", err)
	}
	c.hmacAuth = &crypto.HMACAuth{Key: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase}
	return nil
}

// WalletActivity returns trades by address since the given time via the
// Data API.
func (c *Client) WalletActivity(ctx context.Context, address string, since time.Time, limit int) ([]domain.WalletActivity, error) {
	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("takerOnly", "false")

	body, err := c.get(ctx, c.dataHost+"/trades?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: wallet activity %s: %w", address, err)
	}

	var rows []apiActivity
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket: decode activity: %w", err)
	}

	out := make([]domain.WalletActivity, 0, len(rows))
	for _, row := range rows {
		act := row.toDomain()
		if act.Timestamp.Before(since) {
			continue
		}
		out = append(out, act)
	}
	return out, nil
}

// ActiveMarkets lists open markets ordered by 24h volume via the Gamma API.
func (c *Client) ActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume24hr")
	params.Set("ascending", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, c.gammaHost+"/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: active markets: %w", err)
	}

	var rows []apiMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w", err)
	}

	out := make([]domain.Market, 0, len(rows))
	c.mu.Lock()
	for _, row := range rows {
		m := row.toDomain()
		if m.YesTokenID == "" {
			continue
		}
		c.markets[m.ID] = m
		c.meta[m.ID] = row
		out = append(out, m)
	}
	c.mu.Unlock()
	return out, nil
}

// market returns cached metadata for a condition ID, fetching from Gamma on
// a miss.
func (c *Client) market(ctx context.Context, conditionID string) (domain.Market, apiMarket, error) {
	c.mu.RLock()
	cached, ok := c.markets[conditionID]
	meta, metaOK := c.meta[conditionID]
	c.mu.RUnlock()
	if ok && metaOK {
		return cached, meta, nil
	}

	params := url.Values{}
	params.Set("condition_ids", conditionID)
	body, err := c.get(ctx, c.gammaHost+"/markets?"+params.Encode())
	if err != nil {
		return domain.Market{}, apiMarket{}, fmt.Errorf("polymarket: market %s: %w", conditionID, err)
	}
	var rows []apiMarket
	if err := json.Unmarshal(body, &rows); err != nil {
		return domain.Market{}, apiMarket{}, fmt.Errorf("polymarket: decode market: %w", err)
	}
	if len(rows) == 0 {
		return domain.Market{}, apiMarket{}, fmt.Errorf("polymarket: market %s: %w", conditionID, domain.ErrNotFound)
	}

	m := rows[0].toDomain()
	c.mu.Lock()
	c.markets[conditionID] = m
	c.meta[conditionID] = rows[0]
	c.mu.Unlock()
	return m, rows[0], nil
}

// Snapshot builds the current pricing view of one market from the CLOB books
// of both outcome tokens.
func (c *Client) Snapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	m, meta, err := c.market(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	yesBook, err := c.book(ctx, m.YesTokenID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket: yes book %s: %w", marketID, err)
	}
	noBook, err := c.book(ctx, m.NoTokenID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket: no book %s: %w", marketID, err)
	}

	yesAsk, yesLiq := yesBook.bestAsk()
	noAsk, noLiq := noBook.bestAsk()

	return domain.MarketSnapshot{
		MarketID:        marketID,
		Question:        m.Question,
		YesTokenID:      m.YesTokenID,
		NoTokenID:       m.NoTokenID,
		YesAsk:          yesAsk,
		NoAsk:           noAsk,
		YesBid:          yesBook.bestBid(),
		NoBid:           noBook.bestBid(),
		LiquidityYesUSD: yesLiq,
		LiquidityNoUSD:  noLiq,
		TickSize:        float64(meta.TickSize),
		MinOrderUSD:     float64(meta.OrderMinSize),
		NegRisk:         m.NegRisk,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (c *Client) book(ctx context.Context, tokenID string) (apiBook, error) {
	body, err := c.get(ctx, c.clobHost+"/book?token_id="+url.QueryEscape(tokenID))
	if err != nil {
		return apiBook{}, err
	}
	var b apiBook
	if err := json.Unmarshal(body, &b); err != nil {
		return apiBook{}, fmt.Errorf("decode book: %w", err)
	}
	return b, nil
}

// WinRate implements domain.WinRateSource from the Data API's wallet
// performance summary. Unknown wallets report ok=false rather than an error.
func (c *Client) WinRate(ctx context.Context, address string) (float64, bool, error) {
	body, err := c.get(ctx, c.dataHost+"/value?user="+url.QueryEscape(address))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("polymarket: wallet stats %s: %w", address, err)
	}

	var stats apiWalletStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return 0, false, fmt.Errorf("polymarket: decode wallet stats: %w", err)
	}
	if stats.Trades == 0 {
		return 0, false, nil
	}
	return float64(stats.Wins) / float64(stats.Trades), true, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", domain.ErrGatewayTimeout, req.URL.Path)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransient, err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps HTTP failures to the pipeline's error taxonomy: 5xx and
// 429 are retryable, 404 is ErrNotFound, other 4xx are terminal.
func checkStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, code, string(body))
	default:
		return fmt.Errorf("HTTP %d: %s", code, string(body))
	}
}
