package kucoin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

const Provider = "kucoin"

var topicPrefixes = map[domain.Channel]string{
	domain.ChannelOrderBook: level2Topic,
	domain.ChannelTrades:    matchTopic,
	domain.ChannelTicker:    tickerTopic,
}

// KucoinStreamAPI multiplexes topics over one connection to the instance
// server handed out with a bullet token.
type KucoinStreamAPI struct {
	url          string
	pingInterval time.Duration
}

func NewKucoinStreamAPI(token *kucoin.WebSocketTokenModel) (*KucoinStreamAPI, error) {
	if token == nil || len(token.Servers) == 0 {
		return nil, fmt.Errorf("kucoin: websocket token without instance servers")
	}
	server := token.Servers[0]

	query := url.Values{}
	query.Set("token", token.Token)
	query.Set("connectId", uuid.NewString())

	return &KucoinStreamAPI{
		url:          server.Endpoint + "?" + query.Encode(),
		pingInterval: time.Duration(server.PingInterval) * time.Millisecond,
	}, nil
}

func (api *KucoinStreamAPI) Provider() string { return Provider }

func (api *KucoinStreamAPI) Decoder() domain.VendorDecoder { return Decoder{} }

func (api *KucoinStreamAPI) Validator() domain.DepthUpdateValidator {
	return domain.ContinuousValidator{}
}

func (api *KucoinStreamAPI) DefaultMarket(symbol *domain.MarketSymbol) *domain.Market {
	return &domain.Market{ID: strings.ToUpper(symbol.Join("-"))}
}

func (api *KucoinStreamAPI) Subscription(channel domain.Channel, market *domain.Market, limit int) (*domain.Subscription, error) {
	prefix, ok := topicPrefixes[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotImplemented, Provider, channel)
	}

	return &domain.Subscription{
		Channel:   channel,
		Symbol:    market.Symbol,
		MarketID:  market.ID,
		Topic:     prefix + market.ID,
		Limit:     limit,
		RequestID: strconv.Itoa(helpers.RandomReqID()),
	}, nil
}

func (api *KucoinStreamAPI) URL(*domain.Subscription) (string, error) {
	return api.url, nil
}

func (api *KucoinStreamAPI) SubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	m := kucoin.NewSubscribeMessage(sub.Topic, false)
	m.Id = sub.RequestID
	return json.Marshal(m)
}

func (api *KucoinStreamAPI) UnsubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	m := kucoin.NewUnsubscribeMessage(sub.Topic, false)
	m.Id = sub.RequestID
	return json.Marshal(m)
}

func (api *KucoinStreamAPI) AckFrame(string) ([]byte, error) { return nil, nil }

// PingFrame is the heartbeat the gateway expects every PingInterval; it
// ignores websocket control pings.
func (api *KucoinStreamAPI) PingFrame() []byte {
	b, _ := json.Marshal(kucoin.NewPingMessage())
	return b
}

func (api *KucoinStreamAPI) PingInterval() time.Duration {
	return api.pingInterval
}
