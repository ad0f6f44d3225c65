package bitmex

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

const rateLimitMessage = "Rate limit exceeded"

// TableMessage is an order book frame; action is partial, insert, update or delete.
type TableMessage struct {
	Table  string     `json:"table"`
	Action string     `json:"action"`
	Data   []BookItem `json:"data"`
	Filter struct {
		Symbol string `json:"symbol"`
	} `json:"filter"`
}

type BookItem struct {
	Symbol string      `json:"symbol"`
	ID     json.Number `json:"id"`
	Side   string      `json:"side"`
	Size   json.Number `json:"size"`
	Price  json.Number `json:"price"`
}

type ErrorFrame struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Meta   struct {
		RetryAfter int `json:"retryAfter"`
	} `json:"meta"`
	Request struct {
		Op   string          `json:"op"`
		Args json.RawMessage `json:"args"`
	} `json:"request"`
}

// TickerData is the object at index 1 of a ticker array frame.
type TickerData struct {
	Ask    []json.RawMessage `json:"a"`
	Bid    []json.RawMessage `json:"b"`
	Close  []json.RawMessage `json:"c"`
	High   []json.RawMessage `json:"h"`
	Low    []json.RawMessage `json:"l"`
	Open   []json.RawMessage `json:"o"`
	Vwap   []json.RawMessage `json:"p"`
	Trades []json.RawMessage `json:"t"`
	Volume []json.RawMessage `json:"v"`
}

var bookTables = map[string]bool{
	"orderBookL2":    true,
	"orderBookL2_25": true,
	"orderBook10":    true,
}

type Decoder struct {
	now func() time.Time
}

func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

func (d *Decoder) Decode(raw []byte) (*domain.DecodedFrame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty frame", domain.ErrDecode)
	}

	if trimmed[0] == '[' {
		return d.decodeArray(raw)
	}

	var probe struct {
		Table string `json:"table"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	switch {
	case probe.Error != "":
		return decodeError(raw)
	case bookTables[probe.Table]:
		return d.decodeTable(raw)
	}
	// welcome, subscription status and tables we do not consume
	return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
}

func (d *Decoder) decodeTable(raw []byte) (*domain.DecodedFrame, error) {
	var msg TableMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	now := d.now().UTC()

	if msg.Action == "partial" {
		marketID := msg.Filter.Symbol
		if marketID == "" && len(msg.Data) > 0 {
			marketID = msg.Data[0].Symbol
		}

		snapshot := &domain.OrderBookSnapshot{
			Source:    domain.OrderBookSource_Provider,
			Timestamp: now,
		}
		for _, item := range msg.Data {
			price, err := helpers.ParseDecimal(item.Price.String())
			if err != nil {
				return nil, fmt.Errorf("%w: price of %s: %v", domain.ErrDecode, item.ID, err)
			}
			size, err := helpers.ParseDecimal(item.Size.String())
			if err != nil {
				return nil, fmt.Errorf("%w: size of %s: %v", domain.ErrDecode, item.ID, err)
			}
			level := domain.PriceLevel{Price: price, Amount: size, ID: item.ID.String()}
			if item.Side == "Buy" {
				snapshot.Bids = append(snapshot.Bids, level)
			} else {
				snapshot.Asks = append(snapshot.Asks, level)
			}
		}

		return domain.Frame("", &domain.SnapshotMessage{
			Key:      msg.Table + ":" + marketID,
			Snapshot: snapshot,
		}), nil
	}

	// one delta per market, in order of first appearance
	var order []string
	updates := make(map[string]*domain.OrderBookUpdate)
	for _, item := range msg.Data {
		update, ok := updates[item.Symbol]
		if !ok {
			update = &domain.OrderBookUpdate{Timestamp: now}
			updates[item.Symbol] = update
			order = append(order, item.Symbol)
		}

		level := domain.LevelUpdate{
			Price:   item.Price.String(),
			Amount:  item.Size.String(),
			ID:      item.ID.String(),
			Restore: msg.Action != "insert",
		}
		if level.Amount == "" || msg.Action == "delete" {
			level.Amount = "0"
		}
		if item.Side == "Buy" {
			update.Bids = append(update.Bids, level)
		} else {
			update.Asks = append(update.Asks, level)
		}
	}

	frame := domain.Frame("")
	for _, marketID := range order {
		frame.Messages = append(frame.Messages, &domain.DeltaMessage{
			Key:    msg.Table + ":" + marketID,
			Update: updates[marketID],
		})
	}
	return frame, nil
}

func (d *Decoder) decodeArray(raw []byte) (*domain.DecodedFrame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if len(parts) < 4 {
		return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
	}

	var channel, pair string
	if err := json.Unmarshal(parts[2], &channel); err != nil {
		return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
	}
	if err := json.Unmarshal(parts[3], &pair); err != nil {
		return nil, fmt.Errorf("%w: pair label: %v", domain.ErrDecode, err)
	}

	// trade and ohlc frames are not consumed
	if channel != "ticker" {
		return domain.Frame("", &domain.UnrecognizedMessage{Raw: raw}), nil
	}

	var data TickerData
	if err := json.Unmarshal(parts[1], &data); err != nil {
		return nil, fmt.Errorf("%w: ticker: %v", domain.ErrDecode, err)
	}
	ticker, err := parseTicker(&data)
	if err != nil {
		return nil, fmt.Errorf("%w: ticker: %v", domain.ErrDecode, err)
	}
	ticker.Timestamp = d.now().UTC()

	return domain.Frame("", &domain.TickerMessage{Key: tickerTopic(pair), Ticker: *ticker}), nil
}

type tickerField struct {
	values []json.RawMessage
	index  int
	dst    *decimal.Decimal
}

func parseTicker(data *TickerData) (*domain.Ticker, error) {
	var t domain.Ticker

	fields := []tickerField{
		{data.Vwap, 0, &t.Vwap},
		{data.Volume, 0, &t.BaseVolume},
		{data.Close, 0, &t.Last},
		{data.High, 0, &t.High},
		{data.Low, 0, &t.Low},
		{data.Bid, 0, &t.Bid},
		{data.Bid, 2, &t.BidVolume},
		{data.Ask, 0, &t.Ask},
		{data.Ask, 2, &t.AskVolume},
		{data.Open, 0, &t.Open},
	}
	for _, f := range fields {
		v, err := tickerValue(f.values, f.index)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	t.Close = t.Last
	t.QuoteVolume = t.BaseVolume.Mul(t.Vwap)
	return &t, nil
}

// tickerValue reads a quoted or bare number; missing entries are zero.
func tickerValue(values []json.RawMessage, i int) (decimal.Decimal, error) {
	if i >= len(values) {
		return decimal.Zero, nil
	}
	var s string
	if err := json.Unmarshal(values[i], &s); err == nil {
		return helpers.ParseDecimal(s)
	}
	var n json.Number
	if err := json.Unmarshal(values[i], &n); err != nil {
		return decimal.Zero, err
	}
	return helpers.ParseDecimal(n.String())
}

func decodeError(raw []byte) (*domain.DecodedFrame, error) {
	var frame ErrorFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	exErr := domain.NewExchangeError(Provider, frame.Status, frame.Error)
	if strings.Contains(frame.Error, rateLimitMessage) {
		exErr.Kind = domain.ErrRateLimitExceeded
	}
	if frame.Meta.RetryAfter > 0 {
		exErr.RetryAfter = time.Duration(frame.Meta.RetryAfter) * time.Second
	}

	return domain.Frame("", &domain.ErrorMessage{
		Key: firstArg(frame.Request.Args),
		Err: exErr,
	}), nil
}

// firstArg accepts both "args": "topic" and "args": ["topic", ...].
func firstArg(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var one string
	if err := json.Unmarshal(args, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(args, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}
