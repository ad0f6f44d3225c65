package binance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

const (
	Provider          = "binance"
	DefaultWsEndpoint = "wss://stream.binance.com:9443/stream"
)

var streamNames = map[domain.Channel]string{
	domain.ChannelOrderBook: "depth",
	domain.ChannelTrades:    "trade",
	domain.ChannelTicker:    "ticker",
}

type Request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// BinanceStreamAPI multiplexes topics over the combined stream endpoint.
type BinanceStreamAPI struct {
	endpoint string
}

func NewBinanceStreamAPI(endpoint string) *BinanceStreamAPI {
	if endpoint == "" {
		endpoint = DefaultWsEndpoint
	}
	return &BinanceStreamAPI{endpoint: endpoint}
}

func (api *BinanceStreamAPI) Provider() string { return Provider }

func (api *BinanceStreamAPI) Decoder() domain.VendorDecoder { return Decoder{} }

func (api *BinanceStreamAPI) Validator() domain.DepthUpdateValidator {
	return domain.ContinuousValidator{}
}

func (api *BinanceStreamAPI) DefaultMarket(symbol *domain.MarketSymbol) *domain.Market {
	return &domain.Market{ID: symbol.Join("")}
}

func (api *BinanceStreamAPI) Subscription(channel domain.Channel, market *domain.Market, limit int) (*domain.Subscription, error) {
	name, ok := streamNames[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotImplemented, Provider, channel)
	}

	return &domain.Subscription{
		Channel:   channel,
		Symbol:    market.Symbol,
		MarketID:  market.ID,
		Topic:     strings.ToLower(market.ID) + "@" + name,
		Limit:     limit,
		RequestID: strconv.Itoa(helpers.RandomReqID()),
	}, nil
}

func (api *BinanceStreamAPI) URL(*domain.Subscription) (string, error) {
	return api.endpoint, nil
}

func (api *BinanceStreamAPI) SubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return request("SUBSCRIBE", sub)
}

func (api *BinanceStreamAPI) UnsubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return request("UNSUBSCRIBE", sub)
}

func request(method string, sub *domain.Subscription) ([]byte, error) {
	id, err := strconv.Atoi(sub.RequestID)
	if err != nil {
		id = helpers.RandomReqID()
	}
	return json.Marshal(Request{Method: method, Params: []string{sub.Topic}, ID: id})
}

func (api *BinanceStreamAPI) AckFrame(string) ([]byte, error) { return nil, nil }
