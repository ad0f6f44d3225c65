package bitmex

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

const (
	Provider          = "bitmex"
	DefaultWsEndpoint = "wss://www.bitmex.com/realtime"
)

// currency codes that differ from the unified ones
var currencyIDs = map[string]string{
	"BTC": "XBT",
}

type Request struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// BitmexStreamAPI multiplexes every topic over one realtime connection. Order
// books are id-keyed and the venue streams their snapshots itself.
type BitmexStreamAPI struct {
	endpoint string
	decoder  *Decoder
}

func NewBitmexStreamAPI(endpoint string, now func() time.Time) *BitmexStreamAPI {
	if endpoint == "" {
		endpoint = DefaultWsEndpoint
	}
	return &BitmexStreamAPI{
		endpoint: endpoint,
		decoder:  NewDecoder(now),
	}
}

func (api *BitmexStreamAPI) Provider() string { return Provider }

func (api *BitmexStreamAPI) Decoder() domain.VendorDecoder { return api.decoder }

// Validator is unused in practice: table frames carry no sequence numbers.
func (api *BitmexStreamAPI) Validator() domain.DepthUpdateValidator {
	return domain.MonotonicValidator{}
}

func (api *BitmexStreamAPI) DefaultMarket(symbol *domain.MarketSymbol) *domain.Market {
	base := currencyID(symbol.BaseAsset)
	quote := currencyID(symbol.QuoteAsset)
	return &domain.Market{
		ID:     base + quote,
		WsName: base + "/" + quote,
	}
}

func currencyID(code string) string {
	if id, ok := currencyIDs[code]; ok {
		return id
	}
	return code
}

// BookTable maps a watch depth onto the order book table serving it.
func BookTable(limit int) (string, error) {
	switch limit {
	case 0:
		return "orderBookL2", nil
	case 25:
		return "orderBookL2_25", nil
	case 10:
		return "orderBook10", nil
	}
	exErr := domain.NewExchangeError(Provider, 0,
		fmt.Sprintf("watchOrderBook limit argument must be 0 (L2), 25 (L2) or 10 (L3), got %d", limit))
	return "", exErr
}

func (api *BitmexStreamAPI) Subscription(channel domain.Channel, market *domain.Market, limit int) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		Channel:  channel,
		Symbol:   market.Symbol,
		MarketID: market.ID,
		Limit:    limit,
	}

	switch channel {
	case domain.ChannelOrderBook:
		table, err := BookTable(limit)
		if err != nil {
			return nil, err
		}
		sub.Topic = table + ":" + market.ID
		sub.Book = domain.BookOptions{Indexed: true, StreamSnapshot: true}
	case domain.ChannelTicker:
		wsName := market.WsName
		if wsName == "" {
			wsName = market.ID
		}
		sub.Topic = tickerTopic(wsName)
	default:
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotImplemented, Provider, channel)
	}
	return sub, nil
}

func tickerTopic(pair string) string {
	return "ticker:" + pair
}

func (api *BitmexStreamAPI) URL(*domain.Subscription) (string, error) {
	return api.endpoint, nil
}

func (api *BitmexStreamAPI) SubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return json.Marshal(Request{Op: "subscribe", Args: []string{sub.Topic}})
}

func (api *BitmexStreamAPI) UnsubscribeFrame(sub *domain.Subscription) ([]byte, error) {
	return json.Marshal(Request{Op: "unsubscribe", Args: []string{sub.Topic}})
}

// AckFrame is never needed: the venue does not ask for acknowledgements.
func (api *BitmexStreamAPI) AckFrame(string) ([]byte, error) { return nil, nil }
