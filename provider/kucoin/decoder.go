package kucoin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

const (
	level2Topic = "/market/level2:"
	matchTopic  = "/market/match:"
	tickerTopic = "/market/ticker:"
)

type DepthUpdateModel struct {
	Changes       OrderBookChanges `json:"changes"`
	SequenceEnd   int64            `json:"sequenceEnd"`
	SequenceStart int64            `json:"sequenceStart"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

// OrderBookChanges entries are [price, size, sequence].
type OrderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

type MatchModel struct {
	Sequence     string `json:"sequence"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	TradeID      string `json:"tradeId"`
	TakerOrderID string `json:"takerOrderId"`
	MakerOrderID string `json:"makerOrderId"`
	// nanoseconds
	Time string `json:"time"`
}

type TickerModel struct {
	Sequence    string `json:"sequence"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	BestAsk     string `json:"bestAsk"`
	BestAskSize string `json:"bestAskSize"`
	BestBid     string `json:"bestBid"`
	BestBidSize string `json:"bestBidSize"`
	Time        int64  `json:"time"`
}

// downstream is kucoin.WebSocketDownstreamMessage plus the code of error frames.
type downstream struct {
	kucoin.WebSocketDownstreamMessage
	Code int `json:"code"`
}

// rate limit codes of the websocket gateway
var rateLimitCodes = map[int]bool{
	429: true,
	509: true,
}

type Decoder struct{}

func (Decoder) Decode(raw []byte) (*domain.DecodedFrame, error) {
	var msg downstream
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if msg.WebSocketMessage == nil {
		return nil, fmt.Errorf("%w: frame without type", domain.ErrDecode)
	}

	switch msg.Type {
	case kucoin.Message:
		return decodeMessage(&msg.WebSocketDownstreamMessage, raw)
	case kucoin.ErrorMessage:
		return decodeError(&msg), nil
	}
	// welcome, ack and pong
	return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
}

func decodeMessage(msg *kucoin.WebSocketDownstreamMessage, raw []byte) (*domain.DecodedFrame, error) {
	var out domain.DecodedMessage
	var err error

	switch {
	case strings.HasPrefix(msg.Topic, level2Topic):
		out, err = decodeLevel2(msg)
	case strings.HasPrefix(msg.Topic, matchTopic):
		out, err = decodeMatch(msg)
	case strings.HasPrefix(msg.Topic, tickerTopic):
		out, err = decodeTicker(msg)
	default:
		out = &domain.UnrecognizedMessage{Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, msg.Topic, err)
	}
	return domain.Frame("", out), nil
}

func decodeLevel2(msg *kucoin.WebSocketDownstreamMessage) (*domain.DeltaMessage, error) {
	data := &DepthUpdateModel{}
	if err := json.Unmarshal(msg.RawData, data); err != nil {
		return nil, err
	}

	bids, err := levelUpdates(data.Changes.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levelUpdates(data.Changes.Asks)
	if err != nil {
		return nil, err
	}

	return &domain.DeltaMessage{
		Key: msg.Topic,
		Update: &domain.OrderBookUpdate{
			FirstNonce: data.SequenceStart,
			Nonce:      data.SequenceEnd,
			Timestamp:  helpers.UnixMilli(data.Time),
			Bids:       bids,
			Asks:       asks,
		},
	}, nil
}

func levelUpdates(changes [][]string) ([]domain.LevelUpdate, error) {
	out := make([]domain.LevelUpdate, 0, len(changes))
	for _, c := range changes {
		if len(c) < 2 {
			return nil, fmt.Errorf("malformed change %v", c)
		}
		u := domain.LevelUpdate{Price: c[0], Amount: c[1]}
		if len(c) > 2 && c[2] != "" {
			seq, err := strconv.ParseInt(c[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("change sequence %q: %w", c[2], err)
			}
			u.Sequence = seq
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeMatch(msg *kucoin.WebSocketDownstreamMessage) (*domain.TradeMessage, error) {
	data := &MatchModel{}
	if err := msg.ReadData(data); err != nil {
		return nil, err
	}

	price, err := helpers.ParseDecimal(data.Price)
	if err != nil {
		return nil, err
	}
	amount, err := helpers.ParseDecimal(data.Size)
	if err != nil {
		return nil, err
	}

	var ts time.Time
	if data.Time != "" {
		ns, err := strconv.ParseInt(data.Time, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("match time %q: %w", data.Time, err)
		}
		ts = time.Unix(0, ns).UTC()
	}

	return &domain.TradeMessage{
		Key: msg.Topic,
		Trades: []domain.Trade{{
			ID:           data.TradeID,
			Timestamp:    ts,
			Side:         strings.ToLower(data.Side),
			TakerOrMaker: "taker",
			Price:        price,
			Amount:       amount,
			Cost:         price.Mul(amount),
		}},
	}, nil
}

type decimalDst struct {
	src string
	dst *decimal.Decimal
}

func decodeTicker(msg *kucoin.WebSocketDownstreamMessage) (*domain.TickerMessage, error) {
	data := &TickerModel{}
	if err := msg.ReadData(data); err != nil {
		return nil, err
	}

	t := domain.Ticker{
		Symbol:    strings.TrimPrefix(msg.Topic, tickerTopic),
		Timestamp: helpers.UnixMilli(data.Time),
	}
	fields := map[string]*decimalDst{
		"price":       {data.Price, &t.Last},
		"bestAsk":     {data.BestAsk, &t.Ask},
		"bestAskSize": {data.BestAskSize, &t.AskVolume},
		"bestBid":     {data.BestBid, &t.Bid},
		"bestBidSize": {data.BestBidSize, &t.BidVolume},
	}
	for name, f := range fields {
		v, err := helpers.ParseDecimal(f.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*f.dst = v
	}
	t.Close = t.Last

	return &domain.TickerMessage{Key: msg.Topic, Ticker: t}, nil
}

func decodeError(msg *downstream) *domain.DecodedFrame {
	var text string
	if err := json.Unmarshal(msg.RawData, &text); err != nil {
		text = string(msg.RawData)
	}

	exErr := domain.NewExchangeError(Provider, msg.Code, text)
	if rateLimitCodes[msg.Code] {
		exErr.Kind = domain.ErrRateLimitExceeded
	}
	return domain.Frame("", &domain.ErrorMessage{
		RequestID: msg.Id,
		Key:       msg.Topic,
		Err:       exErr,
	})
}
