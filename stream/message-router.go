package stream

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	promclient "github.com/spooky-finn/go-cryptomarkets-sync/infrastructure/prometheus"
)

var logger = logrus.WithField("component", "stream")

type FrameSender interface {
	Send(payload []byte) error
}

// MessageRouter dispatches inbound frames of one connection to the order
// books, trade buffers and ticker cache it owns, and resolves the waiters of
// the matching subscriptions. Dispatch must not be called concurrently.
type MessageRouter struct {
	provider    string
	api         domain.ProviderStreamAPI
	registry    *SubscriptionRegistry
	books       *domain.OrderBookStore
	trades      map[string]*domain.TradeRingBuffer
	tickers     *domain.TickerCache
	sender      FrameSender
	tradesLimit int
	onResync    func(sub *domain.Subscription)
}

func NewMessageRouter(
	api domain.ProviderStreamAPI,
	registry *SubscriptionRegistry,
	books *domain.OrderBookStore,
	sender FrameSender,
	tradesLimit int,
) *MessageRouter {
	return &MessageRouter{
		provider:    api.Provider(),
		api:         api,
		registry:    registry,
		books:       books,
		trades:      make(map[string]*domain.TradeRingBuffer),
		tickers:     domain.NewTickerCache(),
		sender:      sender,
		tradesLimit: tradesLimit,
		onResync:    func(*domain.Subscription) {},
	}
}

// OnResync sets the callback invoked when a book needs a new snapshot fetch.
func (r *MessageRouter) OnResync(fn func(sub *domain.Subscription)) {
	r.onResync = fn
}

// Dispatch decodes one raw frame and routes every message it carries.
// Messages that match no subscription are returned for the caller to log.
func (r *MessageRouter) Dispatch(raw []byte) ([]domain.DecodedMessage, error) {
	frame, err := r.api.Decoder().Decode(raw)
	if err != nil {
		promclient.DecodeErrorsTotal.WithLabelValues(r.provider).Inc()
		return nil, err
	}

	if frame.AckID != "" {
		r.ack(frame.AckID)
	}

	var unresolved []domain.DecodedMessage
	for _, msg := range frame.Messages {
		promclient.FramesTotal.WithLabelValues(r.provider, messageKind(msg)).Inc()

		if err := r.route(msg); err != nil {
			if errors.Is(err, domain.ErrAmbiguousRoute) {
				logger.WithField("provider", r.provider).Warn(err.Error())
			}
			promclient.UnroutedMessagesTotal.WithLabelValues(r.provider).Inc()
			logger.WithError(err).WithField("provider", r.provider).Debug("message left unresolved")
			unresolved = append(unresolved, msg)
		}
	}
	return unresolved, nil
}

// HandleSnapshotResult installs a fetched snapshot, or rejects the book's
// waiter when the fetch failed.
func (r *MessageRouter) HandleSnapshotResult(sub *domain.Subscription, snapshot *domain.OrderBookSnapshot, fetchErr error) {
	if fetchErr != nil {
		promclient.SnapshotFetchesTotal.WithLabelValues(r.provider, "error").Inc()
		r.books.FetchFailed(sub.Symbol)
		r.registry.Reject(sub.Topic, &domain.SnapshotFetchError{Provider: r.provider, Symbol: sub.Symbol, Err: fetchErr})
		return
	}
	promclient.SnapshotFetchesTotal.WithLabelValues(r.provider, "ok").Inc()

	_, err := r.books.InstallSnapshot(sub.Symbol, snapshot)
	switch {
	case errors.Is(err, domain.ErrOrderBookResyncRequired):
		r.onResync(sub)
		return
	case errors.Is(err, domain.ErrOrderBookGapLimit):
		r.giveUp(sub, err)
		return
	case err != nil:
		logger.WithError(err).WithField("symbol", sub.Symbol).Debug("snapshot arrived for a closed book")
		return
	}
	r.resolveBook(sub)
}

func (r *MessageRouter) giveUp(sub *domain.Subscription, err error) {
	logger.WithFields(logrus.Fields{"provider": r.provider, "topic": sub.Topic}).Warn(err.Error())
	r.Teardown(sub, fmt.Errorf("%w: %s", err, sub.Topic))
}

// Teardown removes sub and everything cached for it, rejecting its waiter with cause.
func (r *MessageRouter) Teardown(sub *domain.Subscription, cause error) {
	r.registry.Unsubscribe(sub.Topic)

	// another topic (e.g. a different depth) still feeds the same state
	if r.registry.Feeds(sub.Channel, sub.Symbol) {
		r.registry.Reject(sub.Topic, cause)
		return
	}

	switch sub.Channel {
	case domain.ChannelOrderBook:
		if r.books.Close(sub.Symbol) {
			promclient.OpenOrderBookGauge.WithLabelValues(r.provider).Dec()
		}
	case domain.ChannelTrades:
		delete(r.trades, sub.Symbol)
	case domain.ChannelTicker:
		r.tickers.Delete(sub.Symbol)
	}

	r.registry.Reject(sub.Topic, cause)
}

func (r *MessageRouter) Trades(symbol string) []domain.Trade {
	ring, ok := r.trades[symbol]
	if !ok {
		return nil
	}
	return ring.Trades()
}

func (r *MessageRouter) Ticker(symbol string) (domain.Ticker, bool) {
	return r.tickers.Get(symbol)
}

func (r *MessageRouter) route(msg domain.DecodedMessage) error {
	switch m := msg.(type) {
	case *domain.UnrecognizedMessage:
		return fmt.Errorf("%w: unrecognized frame", domain.ErrUnknownChannel)
	case *domain.ErrorMessage:
		return r.handleError(m)
	}

	sub, err := r.lookup(msg)
	if err != nil {
		return err
	}

	switch sub.Channel {
	case domain.ChannelOrderBook:
		return r.handleOrderBook(sub, msg)
	case domain.ChannelTrades:
		return r.handleTrades(sub, msg)
	case domain.ChannelTicker:
		return r.handleTicker(sub, msg)
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, sub.Channel)
}

func (r *MessageRouter) lookup(msg domain.DecodedMessage) (*domain.Subscription, error) {
	key := msg.RoutingKey()
	if key == "" {
		return r.registry.Fallback()
	}

	sub, ok := r.registry.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSubscription, key)
	}
	return sub, nil
}

func (r *MessageRouter) handleOrderBook(sub *domain.Subscription, msg domain.DecodedMessage) error {
	switch m := msg.(type) {
	case *domain.DeltaMessage:
		applied, err := r.books.HandleDelta(sub.Symbol, m.Update)
		switch {
		case errors.Is(err, domain.ErrOrderBookResyncRequired):
			r.onResync(sub)
			return nil
		case errors.Is(err, domain.ErrOrderBookGapLimit):
			r.giveUp(sub, err)
			return nil
		}
		if err != nil {
			return err
		}
		if applied {
			r.resolveBook(sub)
		}
		return nil

	case *domain.SnapshotMessage:
		if _, err := r.books.InstallSnapshot(sub.Symbol, m.Snapshot); err != nil {
			return err
		}
		r.resolveBook(sub)
		return nil
	}
	return fmt.Errorf("%w: %T on %s", domain.ErrUnknownChannel, msg, sub.Topic)
}

func (r *MessageRouter) handleTrades(sub *domain.Subscription, msg domain.DecodedMessage) error {
	m, ok := msg.(*domain.TradeMessage)
	if !ok {
		return fmt.Errorf("%w: %T on %s", domain.ErrUnknownChannel, msg, sub.Topic)
	}

	ring, ok := r.trades[sub.Symbol]
	if !ok {
		ring = domain.NewTradeRingBuffer(r.tradesLimit)
		r.trades[sub.Symbol] = ring
	}
	for _, t := range m.Trades {
		t.Symbol = sub.Symbol
		ring.Append(t)
	}

	r.registry.Resolve(sub.Topic, ring.Trades())
	return nil
}

func (r *MessageRouter) handleTicker(sub *domain.Subscription, msg domain.DecodedMessage) error {
	m, ok := msg.(*domain.TickerMessage)
	if !ok {
		return fmt.Errorf("%w: %T on %s", domain.ErrUnknownChannel, msg, sub.Topic)
	}

	ticker := m.Ticker
	ticker.Symbol = sub.Symbol
	r.tickers.Set(ticker)

	r.registry.Resolve(sub.Topic, &ticker)
	return nil
}

// handleError rejects only the waiter implicated by the echoed request and
// drops its subscription so the next watch subscribes again.
func (r *MessageRouter) handleError(m *domain.ErrorMessage) error {
	sub, ok := r.registry.Lookup(m.Key)
	if !ok {
		sub, ok = r.registry.ByRequestID(m.RequestID)
	}
	if !ok {
		logger.WithError(m.Err).WithField("provider", r.provider).Warn("venue error matches no subscription")
		return fmt.Errorf("%w: %v", domain.ErrNoSubscription, m.Err)
	}

	logger.WithError(m.Err).WithFields(logrus.Fields{"provider": r.provider, "topic": sub.Topic}).Warn("venue rejected subscription")
	r.Teardown(sub, m.Err)
	return nil
}

// resolveBook hands every waiter of sub the full book; callers cut their own
// depth since watchers of different depths can share a topic.
func (r *MessageRouter) resolveBook(sub *domain.Subscription) {
	book, ok := r.books.Book(sub.Symbol)
	if !ok {
		return
	}
	r.registry.Resolve(sub.Topic, book.TakeSnapshot(0))
}

func (r *MessageRouter) ack(id string) {
	go func() {
		frame, err := r.api.AckFrame(id)
		if err != nil || frame == nil {
			return
		}
		if err := r.sender.Send(frame); err != nil {
			logger.WithError(err).WithField("provider", r.provider).Warn("failed to acknowledge message")
		}
	}()
}

func messageKind(msg domain.DecodedMessage) string {
	switch msg.(type) {
	case *domain.DeltaMessage:
		return "delta"
	case *domain.SnapshotMessage:
		return "snapshot"
	case *domain.TradeMessage:
		return "trade"
	case *domain.TickerMessage:
		return "ticker"
	case *domain.ErrorMessage:
		return "error"
	}
	return "unrecognized"
}
