package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polymirror/copybot/internal/config"
	"github.com/polymirror/copybot/internal/domain"
)

func newTestClient(dataURL, gammaURL, clobURL string) *Client {
	return NewClient(config.PolymarketConfig{
		DataHost:  dataURL,
		GammaHost: gammaURL,
		ClobHost:  clobURL,
	}, nil)
}

func TestWalletActivityFiltersBySince(t *testing.T) {
	data := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		assert.Equal(t, "0xwallet", r.URL.Query().Get("user"))
		assert.Equal(t, "false", r.URL.Query().Get("takerOnly"))
		w.Write([]byte(`[
			{"proxyWallet":"0xWallet","conditionId":"cond-1","outcome":"Yes","side":"BUY",
			 "price":"0.40","size":100,"usdcSize":40,"transactionHash":"0xaa","timestamp":1700000000},
			{"proxyWallet":"0xWallet","conditionId":"cond-1","outcome":"Yes","side":"BUY",
			 "price":0.45,"size":50,"usdcSize":22.5,"transactionHash":"0xbb","timestamp":1600000000}
		]`))
	}))
	defer data.Close()

	c := newTestClient(data.URL, "", "")
	since := time.Unix(1650000000, 0).UTC()

	acts, err := c.WalletActivity(context.Background(), "0xwallet", since, 100)
	require.NoError(t, err)

	require.Len(t, acts, 1, "older trade filtered out")
	assert.Equal(t, "0xaa", acts[0].TxHash)
	assert.InDelta(t, 0.40, acts[0].Price, 1e-9)
}

func TestActiveMarketsSkipsTokenlessRows(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("active"))
		assert.Equal(t, "volume24hr", r.URL.Query().Get("order"))
		w.Write([]byte(`[
			{"conditionId":"cond-1","question":"q1","clobTokenIds":"[\"111\",\"222\"]","active":true,"closed":false},
			{"conditionId":"cond-2","question":"q2","clobTokenIds":"","active":true,"closed":false}
		]`))
	}))
	defer gamma.Close()

	c := newTestClient("", gamma.URL, "")
	markets, err := c.ActiveMarkets(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, markets, 1)
	assert.Equal(t, "cond-1", markets[0].ID)
	assert.Equal(t, "111", markets[0].YesTokenID)
}

func TestSnapshotAssemblesBothBooks(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"conditionId":"cond-1","question":"q1",
			"clobTokenIds":"[\"111\",\"222\"]","active":true,
			"orderMinSize":"5","orderPriceMinTickSize":"0.01"}]`))
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token_id") {
		case "111":
			w.Write([]byte(`{"asks":[{"price":"0.55","size":"10"},{"price":"0.48","size":"100"}],
				"bids":[{"price":"0.40","size":"10"},{"price":"0.46","size":"20"}]}`))
		case "222":
			w.Write([]byte(`{"asks":[{"price":"0.49","size":"200"}],"bids":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer clob.Close()

	c := newTestClient("", gamma.URL, clob.URL)
	snap, err := c.Snapshot(context.Background(), "cond-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.48, snap.YesAsk, 1e-9)
	assert.InDelta(t, 0.49, snap.NoAsk, 1e-9)
	assert.InDelta(t, 0.46, snap.YesBid, 1e-9)
	assert.InDelta(t, 48.0, snap.LiquidityYesUSD, 1e-9)
	assert.InDelta(t, 98.0, snap.LiquidityNoUSD, 1e-9)
	assert.InDelta(t, 5.0, snap.MinOrderUSD, 1e-9)
	assert.InDelta(t, 0.01, snap.TickSize, 1e-9)
	assert.Equal(t, "111", snap.YesTokenID)
	assert.Equal(t, "222", snap.NoTokenID)
}

func TestSnapshotCachesMarketMetadata(t *testing.T) {
	gammaHits := 0
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gammaHits++
		w.Write([]byte(`[{"conditionId":"cond-1","clobTokenIds":"[\"111\",\"222\"]","active":true}]`))
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"asks":[{"price":"0.50","size":"10"}],"bids":[]}`))
	}))
	defer clob.Close()

	c := newTestClient("", gamma.URL, clob.URL)
	_, err := c.Snapshot(context.Background(), "cond-1")
	require.NoError(t, err)
	_, err = c.Snapshot(context.Background(), "cond-1")
	require.NoError(t, err)

	assert.Equal(t, 1, gammaHits, "metadata fetched once")
}

func TestWinRate(t *testing.T) {
	data := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("user") {
		case "0xknown":
			w.Write([]byte(`{"wins":"30","trades":"50"}`))
		case "0xfresh":
			w.Write([]byte(`{"wins":0,"trades":0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer data.Close()

	c := newTestClient(data.URL, "", "")

	rate, ok, err := c.WinRate(context.Background(), "0xknown")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.6, rate, 1e-9)

	_, ok, err = c.WinRate(context.Background(), "0xfresh")
	require.NoError(t, err)
	assert.False(t, ok, "no trades means no evidence")

	_, ok, err = c.WinRate(context.Background(), "0xunknown")
	require.NoError(t, err)
	assert.False(t, ok, "404 is not an error")
}

func TestCheckStatusErrorTaxonomy(t *testing.T) {
	assert.NoError(t, checkStatus(200, nil))
	assert.ErrorIs(t, checkStatus(404, nil), domain.ErrNotFound)
	assert.ErrorIs(t, checkStatus(429, nil), domain.ErrTransient)
	assert.ErrorIs(t, checkStatus(503, nil), domain.ErrTransient)

	err := checkStatus(400, []byte("bad request"))
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err), "4xx is terminal")
}
