package domain

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

const DefaultTradesLimit = 1000

type Trade struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Timestamp    time.Time       `json:"timestamp"`
	Side         string          `json:"side"`
	TakerOrMaker string          `json:"takerOrMaker,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	Cost         decimal.Decimal `json:"cost"`
}

// TradeRingBuffer keeps the last limit trades of a symbol in arrival order.
type TradeRingBuffer struct {
	limit  int
	trades deque.Deque[Trade]
}

func NewTradeRingBuffer(limit int) *TradeRingBuffer {
	if limit <= 0 {
		limit = DefaultTradesLimit
	}
	return &TradeRingBuffer{limit: limit}
}

func (r *TradeRingBuffer) Append(t Trade) {
	if r.trades.Len() >= r.limit {
		r.trades.PopFront()
	}
	r.trades.PushBack(t)
}

func (r *TradeRingBuffer) Len() int { return r.trades.Len() }

func (r *TradeRingBuffer) Limit() int { return r.limit }

func (r *TradeRingBuffer) Trades() []Trade {
	out := make([]Trade, r.trades.Len())
	for i := range out {
		out[i] = r.trades.At(i)
	}
	return out
}

// FilterSinceLimit keeps trades at or after since (zero means no bound), then
// the limit most recent of those (0 means no limit), in chronological order.
func FilterSinceLimit(trades []Trade, since time.Time, limit int) []Trade {
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if !since.IsZero() && t.Timestamp.Before(since) {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
