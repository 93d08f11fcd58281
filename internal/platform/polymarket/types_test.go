package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymirror/copybot/internal/domain"
)

func TestFlexFloatAcceptsNumbersAndStrings(t *testing.T) {
	var got struct {
		A flexFloat `json:"a"`
		B flexFloat `json:"b"`
		C flexFloat `json:"c"`
		D flexFloat `json:"d"`
	}
	raw := `{"a": 0.48, "b": "0.52", "c": null, "d": ""}`
	require.NoError(t, json.Unmarshal([]byte(raw), &got))

	assert.Equal(t, flexFloat(0.48), got.A)
	assert.Equal(t, flexFloat(0.52), got.B)
	assert.Equal(t, flexFloat(0), got.C)
	assert.Equal(t, flexFloat(0), got.D)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"abc"}`), &got))
}

func TestActivityToDomain(t *testing.T) {
	act := apiActivity{
		ProxyWallet:     "0xABC0000000000000000000000000000000000001",
		ConditionID:     "cond-1",
		Title:           "will it rain",
		Outcome:         "No",
		Side:            "SELL",
		Price:           0.40,
		Size:            100,
		UsdcSize:        40,
		TransactionHash: "0xhash",
		Timestamp:       1700000000,
	}

	got := act.toDomain()
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", got.Wallet, "wallet lowercased")
	assert.Equal(t, "cond-1", got.MarketID)
	assert.Equal(t, domain.OutcomeNo, got.Outcome)
	assert.Equal(t, domain.TradeSideSell, got.Side)
	assert.Equal(t, 40.0, got.SizeUSD)
	assert.Equal(t, "0xhash:cond-1:SELL", got.TradeID)
	assert.Equal(t, int64(1700000000), got.Timestamp.Unix())
}

func TestActivityToDomainDerivesNotional(t *testing.T) {
	act := apiActivity{Price: 0.40, Size: 100}
	assert.InDelta(t, 40.0, act.toDomain().SizeUSD, 1e-9)
}

func TestSplitTokenIDs(t *testing.T) {
	yes, no := splitTokenIDs(`["111", "222"]`)
	assert.Equal(t, "111", yes)
	assert.Equal(t, "222", no)

	yes, no = splitTokenIDs(`broken`)
	assert.Empty(t, yes)
	assert.Empty(t, no)

	yes, no = splitTokenIDs(`["only-one"]`)
	assert.Empty(t, yes)
	assert.Empty(t, no)
}

func TestMarketToDomain(t *testing.T) {
	m := apiMarket{
		ConditionID:  "cond-1",
		Question:     "will it rain",
		Slug:         "will-it-rain",
		ClobTokenIDs: `["111", "222"]`,
		Volume24hr:   12345,
		Active:       true,
		Closed:       false,
	}
	got := m.toDomain()
	assert.Equal(t, "cond-1", got.ID)
	assert.Equal(t, "111", got.YesTokenID)
	assert.Equal(t, "222", got.NoTokenID)
	assert.True(t, got.Active)

	m.Closed = true
	assert.False(t, m.toDomain().Active, "closed markets are not active")
}

func TestBookBestLevels(t *testing.T) {
	book := apiBook{
		// Asks descending, bids ascending, per the CLOB wire format.
		Asks: []apiBookLevel{{Price: 0.55, Size: 100}, {Price: 0.52, Size: 200}},
		Bids: []apiBookLevel{{Price: 0.45, Size: 50}, {Price: 0.50, Size: 80}},
	}

	price, notional := book.bestAsk()
	assert.InDelta(t, 0.52, price, 1e-9)
	assert.InDelta(t, 104.0, notional, 1e-9)
	assert.InDelta(t, 0.50, book.bestBid(), 1e-9)

	empty := apiBook{}
	price, notional = empty.bestAsk()
	assert.Zero(t, price)
	assert.Zero(t, notional)
	assert.Zero(t, empty.bestBid())
}

func TestOrderStatusMapping(t *testing.T) {
	cases := []struct {
		api     string
		matched flexFloat
		want    domain.OrderStatus
	}{
		{"matched", 0, domain.OrderStatusFilled},
		{"mined", 0, domain.OrderStatusFilled},
		{"CONFIRMED", 0, domain.OrderStatusFilled},
		{"cancelled", 0, domain.OrderStatusCancelled},
		{"canceled", 0, domain.OrderStatusCancelled},
		{"rejected", 0, domain.OrderStatusRejected},
		{"invalid", 0, domain.OrderStatusRejected},
		{"live", 0, domain.OrderStatusSubmitted},
		{"live", 50, domain.OrderStatusPartiallyFilled},
		{"something-new", 0, domain.OrderStatusSubmitted},
	}
	for _, tc := range cases {
		got := apiOrderStatus{Status: tc.api, SizeMatched: tc.matched}.toStatus()
		assert.Equal(t, tc.want, got, "status %q matched=%v", tc.api, tc.matched)
	}
}
