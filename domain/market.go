package domain

import (
	"fmt"
	"sync"
)

// Market maps a unified symbol onto one venue's identifiers.
type Market struct {
	Symbol string // BTC/USDC
	ID     string // venue market id, e.g. BTC_USDC or XBTUSD
	WsName string // pair label used by array-protocol feeds, e.g. XBT/USD
}

type MarketDeriver func(symbol *MarketSymbol) *Market

// MarketCatalog resolves unified symbols to venue markets. Markets are derived
// on first use and can be overridden with explicit venue ids from configuration.
type MarketCatalog struct {
	derive    MarketDeriver
	overrides map[string]string

	mu      sync.Mutex
	markets map[string]*Market
}

func NewMarketCatalog(derive MarketDeriver, overrides map[string]string) *MarketCatalog {
	return &MarketCatalog{
		derive:    derive,
		overrides: overrides,
		markets:   make(map[string]*Market),
	}
}

func (c *MarketCatalog) Market(symbol string) (*Market, error) {
	ms, err := NewMarketSymbolFromString(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketNotFound, err)
	}
	key := ms.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.markets[key]; ok {
		return m, nil
	}

	m := c.derive(ms)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, key)
	}
	if id, ok := c.overrides[key]; ok && id != "" {
		m.ID = id
	}
	m.Symbol = key
	c.markets[key] = m

	return m, nil
}
