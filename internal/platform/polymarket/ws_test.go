package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens map[string]string

func (s staticTokens) YesToken(_ context.Context, conditionID string) (string, error) {
	if tok, ok := s[conditionID]; ok {
		return tok, nil
	}
	return "", errors.New("unknown market")
}

func TestDecodeFrame(t *testing.T) {
	marketOf := func(asset, fallback string) string {
		if asset == "111" {
			return "0xabc"
		}
		return fallback
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	events, err := decodeFrame("polymarket", []byte(`[{"event_type":"book","asset_id":"111","market":"0xabc",
		"bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.45","size":"8"}],"timestamp":"1772323200000"}]`), marketOf, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, venue.StreamSnapshot, events[0].Kind)
	assert.Equal(t, "0xabc", events[0].MarketID)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.45, Size: 8}}, events[0].Book.Asks)

	events, err = decodeFrame("polymarket", []byte(`{"event_type":"price_change","market":"0xabc","timestamp":"1772323200000",
		"price_changes":[{"asset_id":"111","price":"0.40","size":"0","side":"BUY"},{"asset_id":"111","price":"0.46","size":"12","side":"SELL"},
		{"asset_id":"222","price":"0.55","size":"3","side":"BUY"}]}`), marketOf, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.BookDelta{MarketID: "0xabc", Side: domain.SideBid, Price: 0.40, Size: 0}, events[0].Delta)
	assert.Equal(t, domain.BookDelta{MarketID: "0xabc", Side: domain.SideAsk, Price: 0.46, Size: 12}, events[1].Delta)
	assert.False(t, events[1].Delta.Relative)

	events, err = decodeFrame("polymarket", []byte(`{"event_type":"last_trade_price","asset_id":"111","market":"0xabc",
		"price":"0.44","size":"20","side":"BUY","timestamp":"1772323200000"}`), marketOf, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, venue.StreamTrade, events[0].Kind)
	assert.Equal(t, time.UnixMilli(1772323200000).UTC(), events[0].Trade.ExecutedAt)
	assert.Equal(t, "buy", events[0].Trade.Side)
	assert.Equal(t, venue.StreamTicker, events[1].Kind)
	assert.Equal(t, 0.44, events[1].LastPrice)

	events, err = decodeFrame("polymarket", []byte("PONG"), marketOf, now)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = decodeFrame("polymarket", []byte(`{broken`), marketOf, now)
	assert.Error(t, err)
}

func TestDialer_SubscribesYesTokens(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan map[string]any, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer ws.Close()

		for i := 0; i < 2; i++ {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			_ = json.Unmarshal(raw, &msg)
			frames <- msg
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`[{"event_type":"book","asset_id":"111","market":"0xabc","bids":[{"price":"0.5","size":"1"}],"asks":[]}]`))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	d := NewDialer("polymarket", "ws"+strings.TrimPrefix(srv.URL, "http"), staticTokens{"0xabc": "111", "0xdef": "444"})
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Subscribe(context.Background(), []string{"0xabc", "0xmissing"}))
	require.NoError(t, conn.Subscribe(context.Background(), []string{"0xdef"}))

	first := <-frames
	assert.Equal(t, "market", first["type"])
	assert.Equal(t, []any{"111"}, first["assets_ids"])
	second := <-frames
	assert.Equal(t, "subscribe", second["operation"])
	assert.Equal(t, []any{"444"}, second["assets_ids"])

	select {
	case ev := <-conn.Events():
		assert.Equal(t, venue.StreamSnapshot, ev.Kind)
		assert.Equal(t, "0xabc", ev.MarketID)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
}
