package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
)

var logger = logrus.WithField("component", "orderbook-snapshot-usecase")

// how long a background watch may take to sync a book
const warmupTimeout = 30 * time.Second

type OrderBookSnapshotUseCase struct {
	connManager domain.ConnManager

	// provider-symbol keys of books being synced in the background
	waitingRoom sync.Map
}

func NewOrderBookSnapshotUseCase(connManager domain.ConnManager) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{connManager: connManager}
}

// GetOrderBookSnapshot returns the local synced book when there is one.
// Otherwise it starts syncing the book in the background and answers from the
// provider's snapshot endpoint, or waits for the stream snapshot of venues
// without one.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, provider string, symbol string, limit int,
) (*domain.OrderBookSnapshot, error) {
	watcher, err := o.connManager.Watcher(provider)
	if err != nil {
		return nil, err
	}
	market, err := watcher.Market(symbol)
	if err != nil {
		return nil, err
	}

	// the full book is watched, every depth is served from it
	snapshot, err := watcher.LocalOrderBook(ctx, market.Symbol, 0)
	if err == nil {
		return domain.LimitSnapshot(snapshot, limit), nil
	}
	if !errors.Is(err, domain.ErrOrderBookNotFound) {
		return nil, err
	}

	syncAPI := o.connManager.SyncAPI(provider)
	if syncAPI == nil {
		snapshot, err := watcher.WatchOrderBook(ctx, market.Symbol, 0)
		if err != nil {
			return nil, err
		}
		return domain.LimitSnapshot(snapshot, limit), nil
	}

	o.warmUp(provider, market.Symbol, watcher)
	logger.WithFields(logrus.Fields{
		"provider": provider,
		"symbol":   market.Symbol,
	}).Debug("orderbook is initing, provider snapshot returned")

	return syncAPI.OrderBookSnapshot(ctx, market, limit)
}

func (o *OrderBookSnapshotUseCase) warmUp(provider, symbol string, watcher domain.OrderBookWatcher) {
	key := waitingRoomKey(provider, symbol)
	if _, loaded := o.waitingRoom.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	go func() {
		defer o.waitingRoom.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()

		log := logger.WithFields(logrus.Fields{"provider": provider, "symbol": symbol})
		if _, err := watcher.WatchOrderBook(ctx, symbol, 0); err != nil {
			log.WithError(err).Warn("failed to sync orderbook")
			return
		}
		log.Info("orderbook is synced and served locally")
	}()
}

// Syncing reports whether a background sync of the book is in flight.
func (o *OrderBookSnapshotUseCase) Syncing(provider, symbol string) bool {
	_, ok := o.waitingRoom.Load(waitingRoomKey(provider, symbol))
	return ok
}

func waitingRoomKey(provider, symbol string) string {
	return fmt.Sprintf("%s-%s", provider, symbol)
}
