package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-cryptomarkets-sync/domain"
	promclient "github.com/spooky-finn/go-cryptomarkets-sync/infrastructure/prometheus"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("connection is not established")
)

const (
	DefaultSnapshotWarmup = 500 * time.Millisecond
	defaultQueueSize      = 1024
)

type Options struct {
	// Delay before the snapshot fetch, so the first deltas get buffered.
	SnapshotWarmup time.Duration
	TradesLimit    int
	GapLimit       int
	QueueSize      int
}

func (o Options) withDefaults() Options {
	if o.SnapshotWarmup < 0 {
		o.SnapshotWarmup = 0
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// Connection multiplexes the subscriptions of one venue URL. A single
// goroutine consumes inbound frames, snapshot results and watch commands in
// order, so books are never mutated concurrently.
type Connection struct {
	url      string
	provider string
	api      domain.ProviderStreamAPI
	syncAPI  domain.ProviderSyncAPI
	opts     Options

	registry *SubscriptionRegistry
	books    *domain.OrderBookStore
	router   *MessageRouter

	transportMu sync.RWMutex
	transport   Transport

	events    chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func newConnection(url string, api domain.ProviderStreamAPI, syncAPI domain.ProviderSyncAPI, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		url:      url,
		provider: api.Provider(),
		api:      api,
		syncAPI:  syncAPI,
		opts:     opts,
		registry: NewSubscriptionRegistry(),
		books:    domain.NewOrderBookStore(domain.NewDeltaApplier(api.Validator()), opts.GapLimit),
		events:   make(chan func(), opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      logger.WithFields(logrus.Fields{"provider": api.Provider(), "url": url}),
	}
	c.router = NewMessageRouter(api, c.registry, c.books, c, opts.TradesLimit)
	c.router.OnResync(func(sub *domain.Subscription) {
		c.log.WithField("symbol", sub.Symbol).Warn("order book lost sequence, refetching snapshot")
		c.scheduleSnapshot(sub, 0)
	})
	return c
}

// Dial opens a connection to url and starts its event loop.
func Dial(ctx context.Context, url string, dialer Dialer, api domain.ProviderStreamAPI, syncAPI domain.ProviderSyncAPI, opts Options) (*Connection, error) {
	c := newConnection(url, api, syncAPI, opts)
	go c.run()

	transport, err := dialer.Dial(ctx, url, c.HandleFrame)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.setTransport(transport)

	if t, ok := transport.(interface{ Done() <-chan struct{} }); ok {
		go c.closeWith(t.Done())
	}

	c.log.Info("connected")
	return c, nil
}

// closeWith closes the connection when the transport goes away, so pending
// waiters are rejected instead of hanging.
func (c *Connection) closeWith(transportDone <-chan struct{}) {
	select {
	case <-transportDone:
		c.log.Warn("transport closed by peer")
		_ = c.Close()
	case <-c.ctx.Done():
	}
}

func (c *Connection) URL() string { return c.url }

// HandleFrame queues a raw inbound frame for dispatch. It blocks while the
// queue is full.
func (c *Connection) HandleFrame(raw []byte) {
	_ = c.enqueue(func() {
		unresolved, err := c.router.Dispatch(raw)
		if err != nil {
			c.log.WithError(err).Warn("dropping frame")
			return
		}
		for _, msg := range unresolved {
			if u, ok := msg.(*domain.UnrecognizedMessage); ok {
				c.log.WithField("frame", string(u.Raw)).Debug("unrecognized frame")
			}
		}
	})
}

// Send writes payload to the venue.
func (c *Connection) Send(payload []byte) error {
	c.transportMu.RLock()
	t := c.transport
	c.transportMu.RUnlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Send(payload)
}

func (c *Connection) WatchOrderBook(ctx context.Context, sub *domain.Subscription) (*domain.OrderBookSnapshot, error) {
	v, err := c.watch(ctx, sub)
	if err != nil {
		return nil, err
	}
	return v.(*domain.OrderBookSnapshot), nil
}

func (c *Connection) WatchTrades(ctx context.Context, sub *domain.Subscription) ([]domain.Trade, error) {
	v, err := c.watch(ctx, sub)
	if err != nil {
		return nil, err
	}
	return v.([]domain.Trade), nil
}

func (c *Connection) WatchTicker(ctx context.Context, sub *domain.Subscription) (*domain.Ticker, error) {
	v, err := c.watch(ctx, sub)
	if err != nil {
		return nil, err
	}
	return v.(*domain.Ticker), nil
}

// LocalOrderBook returns the synced book of symbol without waiting for an update.
func (c *Connection) LocalOrderBook(ctx context.Context, symbol string, limit int) (*domain.OrderBookSnapshot, error) {
	result := make(chan *domain.OrderBookSnapshot, 1)
	err := c.enqueue(func() {
		book, ok := c.books.Book(symbol)
		if !ok || c.books.State(symbol) != domain.StateSynced {
			result <- nil
			return
		}
		result <- book.TakeSnapshot(limit)
	})
	if err != nil {
		return nil, err
	}

	select {
	case snapshot := <-result:
		if snapshot == nil {
			return nil, domain.ErrOrderBookNotFound
		}
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unwatch tears down the subscription of topic, rejecting its pending waiter
// with ErrSubscriptionCancelled.
func (c *Connection) Unwatch(ctx context.Context, topic string) error {
	result := make(chan error, 1)
	err := c.enqueue(func() {
		sub, ok := c.registry.Lookup(topic)
		if !ok {
			result <- fmt.Errorf("%w: %s", domain.ErrNoSubscription, topic)
			return
		}
		c.router.Teardown(sub, fmt.Errorf("%w: %s", domain.ErrSubscriptionCancelled, topic))

		frame, err := c.api.UnsubscribeFrame(sub)
		if err == nil && frame != nil {
			err = c.Send(frame)
		}
		result <- err
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscriptions returns the number of live subscriptions.
func (c *Connection) Subscriptions() int {
	return c.registry.Len()
}

// Close stops the event loop, discards every book and rejects every pending waiter.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done

		c.transportMu.Lock()
		if c.transport != nil {
			err = c.transport.Close()
		}
		c.transportMu.Unlock()
		c.log.Info("connection closed")
	})
	return err
}

func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) watch(ctx context.Context, sub *domain.Subscription) (interface{}, error) {
	w := c.registry.Waiter(sub.Topic)
	if err := c.enqueue(func() { c.open(sub) }); err != nil {
		return nil, err
	}
	return w.Wait(ctx)
}

// open runs on the event loop.
func (c *Connection) open(sub *domain.Subscription) {
	registered, created := c.registry.Subscribe(sub)

	if registered.Channel == domain.ChannelOrderBook {
		_, bookCreated, needFetch := c.books.Open(registered.Symbol, registered.Book)
		if bookCreated {
			promclient.OpenOrderBookGauge.WithLabelValues(c.provider).Inc()
		}
		if needFetch {
			c.scheduleSnapshot(registered, c.opts.SnapshotWarmup)
		}
	}

	if !created {
		return
	}

	frame, err := c.api.SubscribeFrame(registered)
	if err == nil && frame != nil {
		err = c.Send(frame)
	}
	if err != nil {
		c.log.WithError(err).WithField("topic", registered.Topic).Warn("subscribe failed")
		c.router.Teardown(registered, err)
		return
	}
	c.log.WithField("topic", registered.Topic).Debug("subscribed")
}

// scheduleSnapshot runs on the event loop. The fetch itself runs in its own
// goroutine and posts its result back to the loop.
func (c *Connection) scheduleSnapshot(sub *domain.Subscription, delay time.Duration) {
	if c.syncAPI == nil {
		c.router.HandleSnapshotResult(sub, nil, fmt.Errorf("%w: %s has no snapshot endpoint", domain.ErrNotImplemented, c.provider))
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	fetchID := c.books.FetchStarted(sub.Symbol, cancel)
	market := &domain.Market{Symbol: sub.Symbol, ID: sub.MarketID}

	go func() {
		defer cancel()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// deltas are applied on top, so the book is seeded with every level
		snapshot, err := c.syncAPI.OrderBookSnapshot(ctx, market, 0)
		if ctx.Err() != nil {
			return
		}
		snapshot, err = withSource(snapshot, err)

		_ = c.enqueue(func() {
			// torn down or refetched while the result was queued
			if !c.books.FetchPending(sub.Symbol, fetchID) {
				return
			}
			c.router.HandleSnapshotResult(sub, snapshot, err)
		})
	}()
}

func (c *Connection) enqueue(fn func()) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.events <- fn:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Connection) shutdown() {
	cause := fmt.Errorf("%w: %v", domain.ErrSubscriptionCancelled, ErrConnectionClosed)
	for _, sub := range c.registry.Subscriptions() {
		c.router.Teardown(sub, cause)
	}
	c.books.CloseAll()
	c.registry.RejectAll(cause)
}

func (c *Connection) setTransport(t Transport) {
	c.transportMu.Lock()
	c.transport = t
	c.transportMu.Unlock()
}

func withSource(snapshot *domain.OrderBookSnapshot, err error) (*domain.OrderBookSnapshot, error) {
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, errors.New("empty snapshot")
	}
	snapshot.Source = domain.OrderBookSource_Provider
	return snapshot, nil
}
