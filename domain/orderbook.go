package domain

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// OrderBookSnapshot is a point-in-time copy of a book. Nonce 0 means the venue
// does not sequence its updates.
type OrderBookSnapshot struct {
	Source    OrderBookSource `json:"source"`
	Symbol    string          `json:"symbol"`
	Nonce     int64           `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Bids      []PriceLevel    `json:"bids"`
	Asks      []PriceLevel    `json:"asks"`
}

// LevelUpdate keeps the raw strings of one delta level; they are parsed only
// when the whole update is applied.
type LevelUpdate struct {
	Price  string // empty when the venue addresses the level by id only
	Amount string
	ID     string
	// Per-level sequence, 0 when the venue has none.
	Sequence int64
	// Look the level up by id first, falling back to price.
	Restore bool
}

type OrderBookUpdate struct {
	// First and last nonce covered by the update. Both are 0 for venues
	// without sequencing; FirstNonce is 0 when the venue sends one id per update.
	FirstNonce int64
	Nonce      int64
	Timestamp  time.Time
	Bids       []LevelUpdate
	Asks       []LevelUpdate
}

type OrderBook struct {
	Symbol    string
	Timestamp time.Time

	bids    *PriceLevelBook
	asks    *PriceLevelBook
	nonce   int64
	pending deque.Deque[*OrderBookUpdate]
}

func NewOrderBook(symbol string, indexed bool) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   NewPriceLevelBook(SideBids, indexed),
		asks:   NewPriceLevelBook(SideAsks, indexed),
	}
}

func (ob *OrderBook) Nonce() int64 { return ob.nonce }

func (ob *OrderBook) PendingLen() int { return ob.pending.Len() }

func (ob *OrderBook) Bids(limit int) []PriceLevel { return ob.bids.Limit(limit) }

func (ob *OrderBook) Asks(limit int) []PriceLevel { return ob.asks.Limit(limit) }

// TakeSnapshot returns a copy limited to the best limit levels per side.
func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:    OrderBookSource_LocalOrderBook,
		Symbol:    ob.Symbol,
		Nonce:     ob.nonce,
		Timestamp: ob.Timestamp,
		Bids:      ob.bids.Limit(limit),
		Asks:      ob.asks.Limit(limit),
	}
}

func (ob *OrderBook) reset(snapshot *OrderBookSnapshot) {
	ob.clearLevels()
	for _, l := range snapshot.Bids {
		ob.bids.Store(l.Price, l.Amount, l.ID)
	}
	for _, l := range snapshot.Asks {
		ob.asks.Store(l.Price, l.Amount, l.ID)
	}
	ob.nonce = snapshot.Nonce
	ob.Timestamp = snapshot.Timestamp
}

func (ob *OrderBook) clearLevels() {
	ob.bids.Clear()
	ob.asks.Clear()
	ob.nonce = 0
}

// LimitSnapshot returns a copy of s trimmed to limit levels per side; 0 keeps every level.
func LimitSnapshot(s *OrderBookSnapshot, limit int) *OrderBookSnapshot {
	if limit <= 0 {
		return s
	}
	out := *s
	if len(out.Bids) > limit {
		out.Bids = out.Bids[:limit]
	}
	if len(out.Asks) > limit {
		out.Asks = out.Asks[:limit]
	}
	return &out
}

// ParsePriceLevels parses [[price, amount, ...], ...] string pairs as sent by REST snapshot endpoints.
func ParsePriceLevels(levels [][]string) ([]PriceLevel, error) {
	out := make([]PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			return nil, ErrMalformedDelta
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, err
		}
		out = append(out, PriceLevel{Price: price, Amount: amount})
	}
	return out, nil
}
