package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polymirror/copybot/internal/domain"
)

const (
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = wsPongWait * 9 / 10
	wsReconnectBase    = 2 * time.Second
	wsReconnectMax     = 60 * time.Second
	wsHandshakeTimeout = 15 * time.Second
)

// SnapshotHandler receives snapshots assembled from the real-time feed.
type SnapshotHandler func(domain.MarketSnapshot)

// wsSubscription is the subscribe command for the market channel.
type wsSubscription struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// wsBookEvent is one book message from the market channel.
type wsBookEvent struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"` // condition ID
	Bids      []apiBookLevel `json:"bids"`
	Asks      []apiBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// legState is the latest observed pricing for one outcome token.
type legState struct {
	ask      float64
	bid      float64
	notional float64
	at       time.Time
}

// PriceFeed streams order book updates over the CLOB websocket and folds
// them into market snapshots, pushing each completed one to the handler.
// REST scanning remains the authority on opportunities; the feed just keeps
// snapshots fresher between scans.
type PriceFeed struct {
	wsURL   string
	markets map[string]domain.Market // conditionID -> metadata, fixed at start
	byToken map[string]string        // tokenID -> conditionID
	handler SnapshotHandler
	logger  *slog.Logger

	mu   sync.Mutex
	legs map[string]legState // tokenID -> latest pricing
}

// NewPriceFeed builds a feed for the given markets. wsURL is the
// subscriptions host; the market channel path is appended.
func NewPriceFeed(wsURL string, markets []domain.Market, handler SnapshotHandler, logger *slog.Logger) *PriceFeed {
	byID := make(map[string]domain.Market, len(markets))
	byToken := make(map[string]string, len(markets)*2)
	for _, m := range markets {
		byID[m.ID] = m
		byToken[m.YesTokenID] = m.ID
		byToken[m.NoTokenID] = m.ID
	}
	return &PriceFeed{
		wsURL:   strings.TrimSuffix(wsURL, "/") + "/ws/market",
		markets: byID,
		byToken: byToken,
		handler: handler,
		logger:  logger.With(slog.String("component", "price_feed")),
		legs:    make(map[string]legState),
	}
}

// Run maintains the connection until ctx is cancelled, reconnecting with
// exponential backoff after any failure.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.byToken) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	delay := wsReconnectBase
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > wsReconnectMax {
			delay = wsReconnectMax
		}
	}
}

func (f *PriceFeed) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket: ws dial: %w", err)
	}
	defer conn.Close()

	assetIDs := make([]string, 0, len(f.byToken))
	for tokenID := range f.byToken {
		assetIDs = append(assetIDs, tokenID)
	}
	sub := wsSubscription{Type: "market", Channel: "book", AssetIDs: assetIDs}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("polymarket: ws subscribe: %w", err)
	}
	f.logger.Info("websocket subscribed", slog.Int("assets", len(assetIDs)))

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Ping loop; also watches ctx so reads unblock promptly on shutdown.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket: ws read: %w", err)
		}
		f.dispatch(raw)
	}
}

// dispatch decodes one frame. The channel delivers both single events and
// batched arrays.
func (f *PriceFeed) dispatch(raw []byte) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var events []wsBookEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return
		}
		for _, ev := range events {
			f.apply(ev)
		}
		return
	}
	var ev wsBookEvent
	if err := json.Unmarshal(raw, &ev); err == nil {
		f.apply(ev)
	}
}

// apply folds a book event into the per-token state and emits a snapshot
// once both legs of the market have been seen.
func (f *PriceFeed) apply(ev wsBookEvent) {
	if ev.EventType != "book" {
		return
	}
	conditionID, ok := f.byToken[ev.AssetID]
	if !ok {
		return
	}
	market := f.markets[conditionID]

	book := apiBook{Bids: ev.Bids, Asks: ev.Asks}
	ask, notional := book.bestAsk()
	state := legState{ask: ask, bid: book.bestBid(), notional: notional, at: time.Now().UTC()}

	f.mu.Lock()
	f.legs[ev.AssetID] = state
	yes, yesOK := f.legs[market.YesTokenID]
	no, noOK := f.legs[market.NoTokenID]
	f.mu.Unlock()

	if !yesOK || !noOK || f.handler == nil {
		return
	}
	f.handler(domain.MarketSnapshot{
		MarketID:        conditionID,
		Question:        market.Question,
		YesTokenID:      market.YesTokenID,
		NoTokenID:       market.NoTokenID,
		YesAsk:          yes.ask,
		NoAsk:           no.ask,
		YesBid:          yes.bid,
		NoBid:           no.bid,
		LiquidityYesUSD: yes.notional,
		LiquidityNoUSD:  no.notional,
		NegRisk:         market.NegRisk,
		Timestamp:       state.at,
	})
}
