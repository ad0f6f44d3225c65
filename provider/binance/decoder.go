package binance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

// Message is the envelope of the combined stream endpoint.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type DepthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type TradeData struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
	// keys differing only in case must be declared or they fold onto the fields above
	Ignore bool `json:"M"`
}

type TickerData struct {
	Event              string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	WeightedAvgPrice   string `json:"w"`
	LastPrice          string `json:"c"`
	BidPrice           string `json:"b"`
	BidQty             string `json:"B"`
	AskPrice           string `json:"a"`
	AskQty             string `json:"A"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
	LastQty            string `json:"Q"`
	PrevClosePrice     string `json:"x"`
	OpenTime           int64  `json:"O"`
	CloseTime          int64  `json:"C"`
	FirstTradeID       int64  `json:"F"`
	LastTradeID        int64  `json:"L"`
	Count              int64  `json:"n"`
}

// Response answers a SUBSCRIBE/UNSUBSCRIBE request.
type Response struct {
	Result json.RawMessage `json:"result"`
	ID     json.Number     `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type Decoder struct{}

func (Decoder) Decode(raw []byte) (*domain.DecodedFrame, error) {
	var envelope Message[json.RawMessage]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	if envelope.Stream == "" {
		return decodeResponse(raw)
	}

	var msg domain.DecodedMessage
	var err error
	switch {
	case strings.HasSuffix(envelope.Stream, "@depth"), strings.Contains(envelope.Stream, "@depth@"):
		msg, err = decodeDepth(envelope.Stream, envelope.Data)
	case strings.HasSuffix(envelope.Stream, "@trade"):
		msg, err = decodeTrade(envelope.Stream, envelope.Data)
	case strings.HasSuffix(envelope.Stream, "@ticker"):
		msg, err = decodeTicker(envelope.Stream, envelope.Data)
	default:
		msg = &domain.UnrecognizedMessage{Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, envelope.Stream, err)
	}
	return domain.Frame("", msg), nil
}

func decodeResponse(raw []byte) (*domain.DecodedFrame, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if resp.Error == nil {
		return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
	}

	exErr := domain.NewExchangeError(Provider, resp.Error.Code, resp.Error.Msg)
	// -1003 TOO_MANY_REQUESTS
	if resp.Error.Code == -1003 {
		exErr.Kind = domain.ErrRateLimitExceeded
	}
	return domain.Frame("", &domain.ErrorMessage{RequestID: resp.ID.String(), Err: exErr}), nil
}

func decodeDepth(stream string, data json.RawMessage) (*domain.DeltaMessage, error) {
	var d DepthUpdateData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}

	return &domain.DeltaMessage{
		Key: stream,
		Update: &domain.OrderBookUpdate{
			FirstNonce: d.FirstUpdateId,
			Nonce:      d.FinalUpdateId,
			Timestamp:  helpers.UnixMilli(d.EventTime),
			Bids:       levelUpdates(d.Bids),
			Asks:       levelUpdates(d.Asks),
		},
	}, nil
}

func levelUpdates(levels [][]string) []domain.LevelUpdate {
	out := make([]domain.LevelUpdate, 0, len(levels))
	for _, l := range levels {
		u := domain.LevelUpdate{}
		if len(l) > 0 {
			u.Price = l[0]
		}
		if len(l) > 1 {
			u.Amount = l[1]
		}
		out = append(out, u)
	}
	return out
}

func decodeTrade(stream string, data json.RawMessage) (*domain.TradeMessage, error) {
	var d TradeData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	price, err := helpers.ParseDecimal(d.Price)
	if err != nil {
		return nil, err
	}
	amount, err := helpers.ParseDecimal(d.Quantity)
	if err != nil {
		return nil, err
	}

	// the buyer being the maker means the taker sold
	side := "buy"
	if d.IsBuyerMaker {
		side = "sell"
	}

	return &domain.TradeMessage{
		Key: stream,
		Trades: []domain.Trade{{
			ID:           strconv.FormatInt(d.TradeID, 10),
			Timestamp:    helpers.UnixMilli(d.TradeTime),
			Side:         side,
			TakerOrMaker: "taker",
			Price:        price,
			Amount:       amount,
			Cost:         price.Mul(amount),
		}},
	}, nil
}

type decimalField struct {
	src string
	dst *decimal.Decimal
}

func decodeTicker(stream string, data json.RawMessage) (*domain.TickerMessage, error) {
	var d TickerData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}

	t := domain.Ticker{Symbol: d.Symbol, Timestamp: helpers.UnixMilli(d.EventTime)}
	fields := []decimalField{
		{d.HighPrice, &t.High},
		{d.LowPrice, &t.Low},
		{d.BidPrice, &t.Bid},
		{d.BidQty, &t.BidVolume},
		{d.AskPrice, &t.Ask},
		{d.AskQty, &t.AskVolume},
		{d.WeightedAvgPrice, &t.Vwap},
		{d.OpenPrice, &t.Open},
		{d.LastPrice, &t.Last},
		{d.PriceChange, &t.Change},
		{d.PriceChangePercent, &t.Percentage},
		{d.Volume, &t.BaseVolume},
		{d.QuoteVolume, &t.QuoteVolume},
	}
	for _, f := range fields {
		v, err := helpers.ParseDecimal(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	t.Close = t.Last

	return &domain.TickerMessage{Key: stream, Ticker: t}, nil
}
