package domain

import (
	"context"
	"time"
)

type OrderBookWatcher interface {
	// WatchOrderBook blocks until the next update of the book and returns a view limited to limit levels.
	WatchOrderBook(ctx context.Context, symbol string, limit int) (*OrderBookSnapshot, error)
	// LocalOrderBook returns the synced book without waiting, or ErrOrderBookNotFound.
	LocalOrderBook(ctx context.Context, symbol string, limit int) (*OrderBookSnapshot, error)
	WatchTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]Trade, error)
	WatchTicker(ctx context.Context, symbol string) (*Ticker, error)
	Market(symbol string) (*Market, error)
}

type ConnManager interface {
	Watcher(provider string) (OrderBookWatcher, error)
	// SyncAPI is nil for venues that only snapshot through the stream.
	SyncAPI(provider string) ProviderSyncAPI
	Providers() []string
}
