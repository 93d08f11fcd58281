// Package polymarket implements the exchange gateway against the Polymarket
// Data, Gamma, and CLOB APIs.
package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polymirror/copybot/internal/domain"
)

// flexFloat tolerates the API's habit of returning numbers as either JSON
// numbers or strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// apiActivity is one row of the Data API /trades feed.
type apiActivity struct {
	ProxyWallet     string    `json:"proxyWallet"`
	ConditionID     string    `json:"conditionId"`
	Title           string    `json:"title"`
	Outcome         string    `json:"outcome"`
	Side            string    `json:"side"`
	Price           flexFloat `json:"price"`
	Size            flexFloat `json:"size"`
	UsdcSize        flexFloat `json:"usdcSize"`
	TransactionHash string    `json:"transactionHash"`
	Timestamp       int64     `json:"timestamp"`
}

func (a apiActivity) toDomain() domain.WalletActivity {
	outcome := domain.OutcomeYes
	if strings.EqualFold(a.Outcome, "no") {
		outcome = domain.OutcomeNo
	}
	side := domain.TradeSideBuy
	if strings.EqualFold(a.Side, "sell") {
		side = domain.TradeSideSell
	}
	sizeUSD := float64(a.UsdcSize)
	if sizeUSD == 0 {
		sizeUSD = float64(a.Price) * float64(a.Size)
	}
	return domain.WalletActivity{
		Wallet:    strings.ToLower(a.ProxyWallet),
		MarketID:  a.ConditionID,
		Question:  a.Title,
		Outcome:   outcome,
		Side:      side,
		Price:     float64(a.Price),
		Shares:    float64(a.Size),
		SizeUSD:   sizeUSD,
		TradeID:   a.TransactionHash + ":" + a.ConditionID + ":" + a.Side,
		TxHash:    a.TransactionHash,
		Timestamp: time.Unix(a.Timestamp, 0).UTC(),
	}
}

// apiMarket is the Gamma API market representation. clobTokenIds arrives as
// a JSON-encoded string containing a JSON array.
type apiMarket struct {
	ConditionID  string    `json:"conditionId"`
	Question     string    `json:"question"`
	Slug         string    `json:"slug"`
	ClobTokenIDs string    `json:"clobTokenIds"`
	Volume24hr   flexFloat `json:"volume24hr"`
	Active       bool      `json:"active"`
	Closed       bool      `json:"closed"`
	NegRisk      bool      `json:"negRisk"`
	OrderMinSize flexFloat `json:"orderMinSize"`
	TickSize     flexFloat `json:"orderPriceMinTickSize"`
}

func (m apiMarket) toDomain() domain.Market {
	yesToken, noToken := splitTokenIDs(m.ClobTokenIDs)
	return domain.Market{
		ID:          m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		YesTokenID:  yesToken,
		NoTokenID:   noToken,
		ConditionID: m.ConditionID,
		NegRisk:     m.NegRisk,
		Volume24h:   float64(m.Volume24hr),
		Active:      m.Active && !m.Closed,
	}
}

// splitTokenIDs parses the doubly-encoded clobTokenIds field. Order is
// [yes, no] per the Gamma API.
func splitTokenIDs(raw string) (yes, no string) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil || len(ids) < 2 {
		return "", ""
	}
	return ids[0], ids[1]
}

// apiBookLevel is one price level of a CLOB order book side.
type apiBookLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// apiBook is the CLOB /book response for one token.
type apiBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []apiBookLevel `json:"bids"`
	Asks    []apiBookLevel `json:"asks"`
}

// bestAsk returns the lowest ask and the notional resting at it. The CLOB
// orders asks descending, so the best ask is the last element.
func (b apiBook) bestAsk() (price, notional float64) {
	if len(b.Asks) == 0 {
		return 0, 0
	}
	lvl := b.Asks[len(b.Asks)-1]
	return float64(lvl.Price), float64(lvl.Price) * float64(lvl.Size)
}

// bestBid returns the highest bid. Bids are ordered ascending.
func (b apiBook) bestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return float64(b.Bids[len(b.Bids)-1].Price)
}

// apiOrderResponse is the CLOB response to order submission.
type apiOrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// apiOrderStatus is the CLOB /order/{id} response.
type apiOrderStatus struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	OriginalSize flexFloat `json:"original_size"`
	SizeMatched  flexFloat `json:"size_matched"`
	Price        flexFloat `json:"price"`
}

// toStatus maps CLOB order states onto the pipeline's lifecycle. "live" with
// partial matching counts as partially filled; "matched" and "mined" mean
// fully executed.
func (o apiOrderStatus) toStatus() domain.OrderStatus {
	switch strings.ToLower(o.Status) {
	case "matched", "mined", "confirmed":
		return domain.OrderStatusFilled
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	case "rejected", "invalid":
		return domain.OrderStatusRejected
	case "live", "delayed", "unmatched":
		if o.SizeMatched > 0 {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusSubmitted
	default:
		return domain.OrderStatusSubmitted
	}
}

// apiWalletStats is the Data API wallet performance summary.
type apiWalletStats struct {
	Traded flexFloat `json:"traded"`
	Profit flexFloat `json:"profit"`
	Wins   flexFloat `json:"wins"`
	Trades flexFloat `json:"trades"`
}
