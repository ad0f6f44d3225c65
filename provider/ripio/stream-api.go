package ripio

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

const (
	Provider = "ripio"

	DefaultWsEndpoint   = "wss://api.exchange.ripio.com/ws/v2/consumer/non-persistent/public/default/"
	DefaultRestEndpoint = "https://api.exchange.ripio.com/api/v1"
)

var topicNames = map[domain.Channel]string{
	domain.ChannelOrderBook: "orderbook",
	domain.ChannelTrades:    "trades",
	domain.ChannelTicker:    "rate",
}

// RipioStreamAPI speaks the consumer feed: one websocket per topic,
// subscribed by URL, with every message acknowledged by id.
type RipioStreamAPI struct {
	endpoint string
	// consumer subscription name shared by all topics of this process
	consumer string
}

func NewRipioStreamAPI(endpoint string) *RipioStreamAPI {
	if endpoint == "" {
		endpoint = DefaultWsEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &RipioStreamAPI{
		endpoint: endpoint,
		consumer: uuid.NewString(),
	}
}

func (api *RipioStreamAPI) Provider() string { return Provider }

func (api *RipioStreamAPI) Decoder() domain.VendorDecoder { return Decoder{} }

func (api *RipioStreamAPI) Validator() domain.DepthUpdateValidator {
	return domain.MonotonicValidator{}
}

func (api *RipioStreamAPI) DefaultMarket(symbol *domain.MarketSymbol) *domain.Market {
	return &domain.Market{ID: symbol.Join("_")}
}

func (api *RipioStreamAPI) Subscription(channel domain.Channel, market *domain.Market, limit int) (*domain.Subscription, error) {
	name, ok := topicNames[channel]
	if !ok {
		return nil, domain.ErrNotImplemented
	}

	return &domain.Subscription{
		Channel:  channel,
		Symbol:   market.Symbol,
		MarketID: market.ID,
		Topic:    topicName(name, market.ID),
		Limit:    limit,
	}, nil
}

func (api *RipioStreamAPI) URL(sub *domain.Subscription) (string, error) {
	return api.endpoint + sub.Topic + "/" + api.consumer, nil
}

// SubscribeFrame is nil: connecting to the topic URL subscribes.
func (api *RipioStreamAPI) SubscribeFrame(*domain.Subscription) ([]byte, error) { return nil, nil }

func (api *RipioStreamAPI) UnsubscribeFrame(*domain.Subscription) ([]byte, error) { return nil, nil }

func (api *RipioStreamAPI) AckFrame(ackID string) ([]byte, error) {
	return json.Marshal(map[string]string{"messageId": ackID})
}
