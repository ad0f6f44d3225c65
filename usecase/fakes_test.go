package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

type fakeWatcher struct {
	mu      sync.Mutex
	synced  map[string]bool
	watches int
	// watchErrs are returned by successive WatchOrderBook calls before succeeding
	watchErrs []error
	nonce     int64
	// block, when set, holds WatchOrderBook until it is closed
	block chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{synced: make(map[string]bool)}
}

func level(price, amount int64) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.NewFromInt(price), Amount: decimal.NewFromInt(amount)}
}

func (w *fakeWatcher) book(symbol string, source domain.OrderBookSource) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Source: source,
		Symbol: symbol,
		Nonce:  w.nonce,
		Bids:   []domain.PriceLevel{level(100, 1), level(99, 2), level(98, 3)},
		Asks:   []domain.PriceLevel{level(101, 1), level(102, 2), level(103, 3)},
	}
}

func (w *fakeWatcher) Market(symbol string) (*domain.Market, error) {
	ms, err := domain.NewMarketSymbolFromString(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMarketNotFound, err)
	}
	return &domain.Market{Symbol: ms.String(), ID: ms.Join("")}, nil
}

func (w *fakeWatcher) WatchOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	w.mu.Lock()
	block := w.block
	w.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.watches++
	if len(w.watchErrs) > 0 {
		err := w.watchErrs[0]
		w.watchErrs = w.watchErrs[1:]
		return nil, err
	}
	w.nonce++
	w.synced[symbol] = true
	return domain.LimitSnapshot(w.book(symbol, domain.OrderBookSource_LocalOrderBook), limit), nil
}

func (w *fakeWatcher) LocalOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.synced[symbol] {
		return nil, domain.ErrOrderBookNotFound
	}
	return domain.LimitSnapshot(w.book(symbol, domain.OrderBookSource_LocalOrderBook), limit), nil
}

func (w *fakeWatcher) WatchTrades(context.Context, string, time.Time, int) ([]domain.Trade, error) {
	return nil, domain.ErrNotImplemented
}

func (w *fakeWatcher) WatchTicker(context.Context, string) (*domain.Ticker, error) {
	return nil, domain.ErrNotImplemented
}

func (w *fakeWatcher) watchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watches
}

type fakeSyncAPI struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, market *domain.Market, limit int) (*domain.OrderBookSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	return domain.LimitSnapshot(&domain.OrderBookSnapshot{
		Source: domain.OrderBookSource_Provider,
		Symbol: market.Symbol,
		Bids:   []domain.PriceLevel{level(100, 5), level(99, 5)},
		Asks:   []domain.PriceLevel{level(101, 5), level(102, 5)},
	}, limit), nil
}

type fakeConnManager struct {
	watchers map[string]*fakeWatcher
	syncAPIs map[string]domain.ProviderSyncAPI
}

func (m *fakeConnManager) Watcher(provider string) (domain.OrderBookWatcher, error) {
	w, ok := m.watchers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enabled", provider)
	}
	return w, nil
}

func (m *fakeConnManager) SyncAPI(provider string) domain.ProviderSyncAPI {
	return m.syncAPIs[provider]
}

func (m *fakeConnManager) Providers() []string {
	var out []string
	for name := range m.watchers {
		out = append(out, name)
	}
	return out
}
