package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticker struct {
	Symbol      string          `json:"symbol"`
	Timestamp   time.Time       `json:"timestamp"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Bid         decimal.Decimal `json:"bid"`
	BidVolume   decimal.Decimal `json:"bidVolume"`
	Ask         decimal.Decimal `json:"ask"`
	AskVolume   decimal.Decimal `json:"askVolume"`
	Vwap        decimal.Decimal `json:"vwap"`
	Open        decimal.Decimal `json:"open"`
	Close       decimal.Decimal `json:"close"`
	Last        decimal.Decimal `json:"last"`
	Change      decimal.Decimal `json:"change"`
	Percentage  decimal.Decimal `json:"percentage"`
	BaseVolume  decimal.Decimal `json:"baseVolume"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
}

// TickerCache holds the latest ticker per symbol, no history.
type TickerCache struct {
	tickers map[string]Ticker
}

func NewTickerCache() *TickerCache {
	return &TickerCache{tickers: make(map[string]Ticker)}
}

func (c *TickerCache) Set(t Ticker) {
	c.tickers[t.Symbol] = t
}

func (c *TickerCache) Get(symbol string) (Ticker, bool) {
	t, ok := c.tickers[symbol]
	return t, ok
}

func (c *TickerCache) Delete(symbol string) {
	delete(c.tickers, symbol)
}
