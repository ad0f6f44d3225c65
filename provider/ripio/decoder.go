package ripio

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	"github.com/spooky-finn/go-cryptomarkets-sync/helpers"
)

// Envelope wraps every message of the consumer feed.
type Envelope struct {
	MessageID   string                 `json:"messageId"`
	Payload     string                 `json:"payload"`
	Properties  map[string]interface{} `json:"properties"`
	PublishTime string                 `json:"publishTime"`
}

type BookLevel struct {
	Amount string `json:"amount"`
	Total  string `json:"total"`
	Price  string `json:"price"`
}

// Payload is the union of the order book, trade and rate payloads; the
// present fields tell them apart.
type Payload struct {
	// orderbook
	Buy       []BookLevel `json:"buy"`
	Sell      []BookLevel `json:"sell"`
	UpdatedID *int64      `json:"updated_id"`

	// trades
	CreatedAt *int64      `json:"created_at"`
	Amount    string      `json:"amount"`
	Price     string      `json:"price"`
	Side      string      `json:"side"`
	TakerSide string      `json:"taker_side"`
	Taker     json.Number `json:"taker"`
	Maker     json.Number `json:"maker"`

	// rate
	LastPrice *string `json:"last_price"`
	Low       string  `json:"low"`
	High      string  `json:"high"`
	Variation string  `json:"variation"`
	Volume    string  `json:"volume"`

	Pair string `json:"pair"`
}

type Decoder struct{}

func (Decoder) Decode(raw []byte) (*domain.DecodedFrame, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	// a frame without payload is the message itself
	if env.Payload == "" {
		return domain.Frame(env.MessageID, &domain.UnrecognizedMessage{Raw: raw}), nil
	}

	var p Payload
	if err := helpers.DecodeBase64JSON(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payload of %s: %v", domain.ErrDecode, env.MessageID, err)
	}
	published := parsePublishTime(env.PublishTime)

	var msg domain.DecodedMessage
	var err error
	switch {
	case p.UpdatedID != nil || p.Buy != nil || p.Sell != nil:
		msg = decodeDelta(&p, published)
	case p.CreatedAt != nil:
		msg, err = decodeTrade(&p)
	case p.LastPrice != nil:
		msg, err = decodeTicker(&p, published)
	default:
		msg = &domain.UnrecognizedMessage{Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	return domain.Frame(env.MessageID, msg), nil
}

// decodeDelta leaves the routing key empty: the feed does not name the pair,
// and every ripio connection carries a single topic.
func decodeDelta(p *Payload, published time.Time) *domain.DeltaMessage {
	update := &domain.OrderBookUpdate{
		Timestamp: published,
		Bids:      levelUpdates(p.Buy),
		Asks:      levelUpdates(p.Sell),
	}
	if p.UpdatedID != nil {
		update.Nonce = *p.UpdatedID
	}
	return &domain.DeltaMessage{Update: update}
}

func levelUpdates(levels []BookLevel) []domain.LevelUpdate {
	out := make([]domain.LevelUpdate, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.LevelUpdate{Price: l.Price, Amount: l.Amount})
	}
	return out
}

func decodeTrade(p *Payload) (*domain.TradeMessage, error) {
	price, err := helpers.ParseDecimal(p.Price)
	if err != nil {
		return nil, err
	}
	amount, err := helpers.ParseDecimal(p.Amount)
	if err != nil {
		return nil, err
	}

	side := strings.ToLower(p.Side)
	takerOrMaker := ""
	if p.TakerSide != "" {
		takerOrMaker = "maker"
		if strings.EqualFold(p.TakerSide, p.Side) {
			takerOrMaker = "taker"
		}
	}

	trade := domain.Trade{
		Timestamp:    time.Unix(*p.CreatedAt, 0).UTC(),
		Side:         side,
		TakerOrMaker: takerOrMaker,
		Price:        price,
		Amount:       amount,
		Cost:         price.Mul(amount),
	}
	if p.Taker != "" && p.Maker != "" {
		trade.ID = p.Taker.String() + "-" + p.Maker.String()
	}

	return &domain.TradeMessage{Key: topicName("trades", p.Pair), Trades: []domain.Trade{trade}}, nil
}

type decimalField struct {
	src string
	dst *decimal.Decimal
}

func decodeTicker(p *Payload, published time.Time) (*domain.TickerMessage, error) {
	ticker := domain.Ticker{Symbol: p.Pair, Timestamp: published}

	fields := []decimalField{
		{*p.LastPrice, &ticker.Last},
		{p.Low, &ticker.Low},
		{p.High, &ticker.High},
		{p.Variation, &ticker.Percentage},
		{p.Volume, &ticker.BaseVolume},
	}
	for _, f := range fields {
		v, err := helpers.ParseDecimal(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	ticker.Close = ticker.Last

	return &domain.TickerMessage{Key: topicName("rate", p.Pair), Ticker: ticker}, nil
}

func parsePublishTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// topicName returns an empty key when the payload does not name its pair, so
// the message falls back to the connection's only subscription.
func topicName(name, pair string) string {
	if pair == "" {
		return ""
	}
	return name + "_" + strings.ToLower(pair)
}
