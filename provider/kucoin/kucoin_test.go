package kucoin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	level2Frame = `{"type":"message","topic":"/market/level2:BTC-USDT","subject":"trade.l2update","data":{"changes":{"asks":[["10001","0","102"]],"bids":[["9999","2","101"]]},"sequenceEnd":102,"sequenceStart":101,"symbol":"BTC-USDT","time":1672515782136}}`
	matchFrame  = `{"type":"message","topic":"/market/match:BTC-USDT","subject":"trade.l3match","data":{"sequence":"1545896669145","type":"match","symbol":"BTC-USDT","side":"buy","price":"0.08200000000000000000","size":"0.01022222000000000000","tradeId":"5c24c5da03aa673885cd67aa","takerOrderId":"5c24c5d903aa6772d55b371e","makerOrderId":"5c2187d003aa677bd09d5c93","time":"1545913818099033203"}}`
	tickerFrame = `{"type":"message","topic":"/market/ticker:BTC-USDT","subject":"trade.ticker","data":{"sequence":"1545896668986","price":"0.08","size":"0.011","bestAsk":"0.08","bestAskSize":"0.18","bestBid":"0.049","bestBidSize":"0.036","time":1704873323416}}`
)

func TestDecoder_Level2(t *testing.T) {
	frame, err := Decoder{}.Decode([]byte(level2Frame))
	require.NoError(t, err)
	require.Len(t, frame.Messages, 1)

	delta, ok := frame.Messages[0].(*domain.DeltaMessage)
	require.True(t, ok)
	assert.Equal(t, "/market/level2:BTC-USDT", delta.RoutingKey())
	assert.Equal(t, int64(101), delta.Update.FirstNonce)
	assert.Equal(t, int64(102), delta.Update.Nonce)
	assert.Equal(t, []domain.LevelUpdate{{Price: "9999", Amount: "2", Sequence: 101}}, delta.Update.Bids)
	assert.Equal(t, []domain.LevelUpdate{{Price: "10001", Amount: "0", Sequence: 102}}, delta.Update.Asks)
}

func TestDecoder_Match(t *testing.T) {
	frame, err := Decoder{}.Decode([]byte(matchFrame))
	require.NoError(t, err)

	msg, ok := frame.Messages[0].(*domain.TradeMessage)
	require.True(t, ok)
	assert.Equal(t, "/market/match:BTC-USDT", msg.RoutingKey())

	trade := msg.Trades[0]
	assert.Equal(t, "5c24c5da03aa673885cd67aa", trade.ID)
	assert.Equal(t, "buy", trade.Side)
	assert.Equal(t, "0.082", trade.Price.String())
	assert.True(t, time.Unix(0, 1545913818099033203).Equal(trade.Timestamp))
}

func TestDecoder_Ticker(t *testing.T) {
	frame, err := Decoder{}.Decode([]byte(tickerFrame))
	require.NoError(t, err)

	msg, ok := frame.Messages[0].(*domain.TickerMessage)
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", msg.Ticker.Symbol)
	assert.Equal(t, "0.08", msg.Ticker.Last.String())
	assert.Equal(t, "0.08", msg.Ticker.Close.String())
	assert.Equal(t, "0.049", msg.Ticker.Bid.String())
	assert.Equal(t, "0.18", msg.Ticker.AskVolume.String())
}

func TestDecoder_ControlFrames(t *testing.T) {
	for _, raw := range []string{
		`{"id":"hQvf8jkno","type":"welcome"}`,
		`{"id":"1545910660739","type":"ack"}`,
		`{"id":"1545910590801","type":"pong"}`,
	} {
		frame, err := Decoder{}.Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.IsType(t, &domain.UnrecognizedMessage{}, frame.Messages[0], raw)
	}

	frame, err := Decoder{}.Decode([]byte(`{"id":"4242","type":"error","code":509,"data":"exceed max permits per second"}`))
	require.NoError(t, err)
	msg, ok := frame.Messages[0].(*domain.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "4242", msg.RequestID)
	assert.ErrorIs(t, msg.Err, domain.ErrRateLimitExceeded)
	assert.Contains(t, msg.Err.Error(), "exceed max permits per second")

	frame, err = Decoder{}.Decode([]byte(`{"id":"7","type":"error","code":404,"data":"topic /market/level2:FOO-BAR is not found"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, frame.Messages[0].(*domain.ErrorMessage).Err, domain.ErrExchange)

	_, err = Decoder{}.Decode([]byte(`{"topic":"/market/level2:BTC-USDT"}`))
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = Decoder{}.Decode([]byte(`{"type":"message","topic":"/market/level2:BTC-USDT","data":{"changes":{"bids":[["1","2","x"]]}}}`))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func testToken(endpoint string) *kucoin.WebSocketTokenModel {
	return &kucoin.WebSocketTokenModel{
		Token: "2neAiuYvAU61ZD",
		Servers: kucoin.WebSocketServersModel{{
			Endpoint:     endpoint,
			Protocol:     "websocket",
			PingInterval: 18000,
			PingTimeout:  10000,
		}},
	}
}

func TestKucoinStreamAPI(t *testing.T) {
	_, err := NewKucoinStreamAPI(&kucoin.WebSocketTokenModel{Token: "x"})
	assert.Error(t, err)

	api, err := NewKucoinStreamAPI(testToken("wss://ws-api-spot.kucoin.com/"))
	require.NoError(t, err)
	assert.Equal(t, 18*time.Second, api.PingInterval())

	catalog := domain.NewMarketCatalog(api.DefaultMarket, nil)
	market, err := catalog.Market("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", market.ID)

	sub, err := api.Subscription(domain.ChannelOrderBook, market, 0)
	require.NoError(t, err)
	assert.Equal(t, "/market/level2:BTC-USDT", sub.Topic)

	url, err := api.URL(sub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "wss://ws-api-spot.kucoin.com/?"), url)
	assert.Contains(t, url, "token=2neAiuYvAU61ZD")
	assert.Contains(t, url, "connectId=")

	frame, err := api.SubscribeFrame(sub)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.Equal(t, "subscribe", m["type"])
	assert.Equal(t, sub.RequestID, m["id"])
	assert.Equal(t, "/market/level2:BTC-USDT", m["topic"])

	frame, err = api.UnsubscribeFrame(sub)
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"unsubscribe"`)

	assert.Contains(t, string(api.PingFrame()), `"ping"`)

	_, err = api.Subscription(domain.ChannelOHLCV, market, 0)
	assert.ErrorIs(t, err, domain.ErrNotImplemented)
}

func TestPartDepth(t *testing.T) {
	assert.Equal(t, int64(20), partDepth(5))
	assert.Equal(t, int64(100), partDepth(0))
	assert.Equal(t, int64(100), partDepth(50))
}

func restServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/bullet-public"):
			_, _ = w.Write([]byte(`{"code":"200000","data":{"token":"2neAiuYvAU61ZD","instanceServers":[{"endpoint":"wss://ws-api-spot.kucoin.com/","encrypt":true,"protocol":"websocket","pingInterval":18000,"pingTimeout":10000}]}}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/market/orderbook/level2"):
			if r.URL.Query().Get("symbol") != "BTC-USDT" {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"429000","msg":"Too Many Requests"}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":"200000","data":{"sequence":"100","time":1672515782000,"bids":[["9999","1"],["9998","3"]],"asks":[["10001","4"],["10002","5"]]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKucoinSyncAPI(t *testing.T) {
	srv := restServer(t)
	api := NewKucoinSyncAPI(srv.URL, Credentials{})
	ctx := context.Background()

	token, err := api.WsToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2neAiuYvAU61ZD", token.Token)
	require.Len(t, token.Servers, 1)
	assert.Equal(t, int64(18000), token.Servers[0].PingInterval)

	snapshot, err := api.OrderBookSnapshot(ctx, &domain.Market{Symbol: "BTC/USDT", ID: "BTC-USDT"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), snapshot.Nonce)
	require.Len(t, snapshot.Bids, 1)
	assert.Equal(t, "9999", snapshot.Bids[0].Price.String())
	require.Len(t, snapshot.Asks, 1)

	_, err = api.OrderBookSnapshot(ctx, &domain.Market{Symbol: "ETH/USDT", ID: "ETH-USDT"}, 0)
	assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)
}

func TestKucoinSyncAPI_ContextCancelled(t *testing.T) {
	srv := restServer(t)
	api := NewKucoinSyncAPI(srv.URL, Credentials{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := api.OrderBookSnapshot(ctx, &domain.Market{Symbol: "BTC/USDT", ID: "BTC-USDT"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// gateway acks subscriptions and then replays the level2 update.
func gateway(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "token required", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"hQvf8jkno","type":"welcome"}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID    string `json:"id"`
				Type  string `json:"type"`
				Topic string `json:"topic"`
			}
			if err := json.Unmarshal(msg, &req); err != nil || req.Type != "subscribe" {
				continue
			}
			replies := []string{`{"id":"` + req.ID + `","type":"ack"}`}
			if req.Topic == "/market/level2:BTC-USDT" {
				replies = append(replies, level2Frame)
			}
			for _, reply := range replies {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKucoin_WatchOrderBookEndToEnd(t *testing.T) {
	wsSrv := gateway(t)
	restSrv := restServer(t)

	api, err := NewKucoinStreamAPI(testToken("ws" + strings.TrimPrefix(wsSrv.URL, "http")))
	require.NoError(t, err)
	client := stream.NewClient(
		api,
		NewKucoinSyncAPI(restSrv.URL, Credentials{}),
		domain.NewMarketCatalog(api.DefaultMarket, nil),
		stream.WebsocketDialer{PingFrame: api.PingFrame, PingPeriod: api.PingInterval()},
		stream.Options{SnapshotWarmup: 50 * time.Millisecond},
	)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.WatchOrderBook(ctx, "BTC/USDT", 0)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		local, err := client.LocalOrderBook(ctx, "BTC/USDT", 0)
		return err == nil && local.Nonce == 102
	}, 3*time.Second, 10*time.Millisecond)

	local, err := client.LocalOrderBook(ctx, "BTC/USDT", 0)
	require.NoError(t, err)
	require.Len(t, local.Bids, 2)
	assert.Equal(t, "2", local.Bids[0].Amount.String())
	require.Len(t, local.Asks, 1, "10001 was removed")
	assert.Equal(t, "10002", local.Asks[0].Price.String())
}
